package fleetsync

import (
	"fmt"
	"io"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/fetch"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/notifications"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/scheduler"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/watchdog"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	yaml "gopkg.in/yaml.v2"
)

const (
	JobCollectPlants     string = "collect_plants_data"
	JobCollectDevices    string = "collect_devices_data"
	JobCheckStatus       string = "check_devices_status"
	JobSendNotifications string = "send_offline_notifications"
)

type JobConfig struct {
	ID          string            `yaml:"id"`
	Kind        string            `yaml:"kind"`
	Every       time.Duration     `yaml:"every"`
	Cron        string            `yaml:"cron"`
	RunAt       time.Time         `yaml:"runAt"`
	Target      string            `yaml:"target"`
	Args        map[string]string `yaml:"args"`
	Description string            `yaml:"description"`
}

// Spec converts a configured job into a job specification. The kind is
// derived from the trigger fields when not given and the target defaults
// to the job id.
func (j JobConfig) Spec() (scheduler.JobSpec, error) {
	spec := scheduler.JobSpec{
		ID:          j.ID,
		Every:       j.Every,
		Cron:        j.Cron,
		RunAt:       j.RunAt,
		Target:      j.Target,
		Args:        j.Args,
		Description: j.Description,
	}

	if spec.Target == "" {
		spec.Target = j.ID
	}

	switch {
	case j.Kind != "":
		kind, err := scheduler.ParseKind(j.Kind)
		if err != nil {
			return spec, fmt.Errorf("job %s: %w", j.ID, err)
		}
		spec.Kind = kind
	case j.Cron != "":
		spec.Kind = scheduler.Cron
	case !j.RunAt.IsZero():
		spec.Kind = scheduler.OneShot
	default:
		spec.Kind = scheduler.Interval
	}

	return spec, nil
}

type StatusConfig struct {
	EmitRecovered bool `yaml:"emitRecovered"`
}

type Config struct {
	Source        fleetsource.Config      `yaml:"source"`
	Credentials   fleetsource.Credentials `yaml:"credentials"`
	Fetch         fetch.Config            `yaml:"fetch"`
	Scheduler     scheduler.Config        `yaml:"scheduler"`
	Status        StatusConfig            `yaml:"status"`
	Notifications notifications.Config    `yaml:"notifications"`
	Cache         cache.Config            `yaml:"cache"`
	Watchdog      watchdog.Config         `yaml:"watchdog"`
	Jobs          []JobConfig             `yaml:"jobs"`
}

func DefaultJobs() []JobConfig {
	return []JobConfig{
		{ID: JobCollectPlants, Every: time.Hour, Description: "synchronize plant records"},
		{ID: JobCollectDevices, Every: 5 * time.Minute, Description: "synchronize devices, energy and status transitions"},
		{ID: JobCheckStatus, Every: 10 * time.Minute, Description: "confirm the status of silent devices"},
		{ID: JobSendNotifications, Cron: "0 */2 * * *", Description: "remind about offline devices"},
	}
}

func DefaultConfig() Config {
	return Config{
		Source:        fleetsource.DefaultConfig(),
		Fetch:         fetch.DefaultConfig(),
		Scheduler:     scheduler.DefaultConfig(),
		Status:        StatusConfig{EmitRecovered: true},
		Notifications: notifications.DefaultConfig(),
		Cache:         cache.Config{Size: 1024, TTL: 2 * time.Hour},
		Watchdog:      watchdog.Config{StaleAfter: watchdog.DefaultStaleAfter},
		Jobs:          DefaultJobs(),
	}
}

// LoadConfiguration reads a yaml configuration on top of the defaults. A
// configuration that lists jobs replaces the default job list.
func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Jobs = nil

	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Jobs) == 0 {
		cfg.Jobs = DefaultJobs()
	}

	return &cfg, nil
}
