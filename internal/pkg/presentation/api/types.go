package api

import (
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/notifications"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/scheduler"
	"github.com/diwise/iot-fleet-sync/pkg/types"
)

func mapJob(j scheduler.JobInfo) types.Job {
	return types.Job{
		ID:          j.ID,
		Kind:        j.Kind.String(),
		Trigger:     j.Trigger,
		Target:      j.Target,
		Description: j.Description,
		NextRun:     timeOrNil(j.NextRun),
		Paused:      j.Paused,
		Running:     j.Running,
		LastRun:     timeOrNil(j.LastRun),
		LastError:   j.LastError,
	}
}

func mapRun(r scheduler.RunResult) types.JobRun {
	run := types.JobRun{
		JobID:      r.JobID,
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Summary:    map[string]int{},
	}

	for k, v := range r.Summary {
		run.Summary[k] = v
	}

	if r.Err != nil {
		run.Error = r.Err.Error()
	}

	return run
}

func mapReport(r notifications.Report) types.NotificationReport {
	report := types.NotificationReport{
		SerialNumber: r.Serial,
		Type:         r.Type,
		Results:      []types.ChannelResult{},
	}

	for _, res := range r.Results {
		cr := types.ChannelResult{Channel: res.Channel, Outcome: string(res.Outcome)}
		if res.Err != nil {
			cr.Error = res.Err.Error()
		}
		report.Results = append(report.Results, cr)
	}

	return report
}

// timeOrNil leaves unset times out of the json output
func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
