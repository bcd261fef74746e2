package database

import (
	"context"
	"encoding/json"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/scheduler"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type jobStore struct {
	db *gorm.DB
}

// NewJobStore persists scheduled job definitions so that job identity and
// paused state survive a restart.
func NewJobStore(db *gorm.DB) (scheduler.JobStore, error) {
	err := db.AutoMigrate(&ScheduledJob{})
	if err != nil {
		return nil, err
	}

	return &jobStore{db: db}, nil
}

func (s *jobStore) Save(ctx context.Context, spec scheduler.JobSpec, paused bool) error {
	args, err := json.Marshal(spec.Args)
	if err != nil {
		return err
	}

	row := ScheduledJob{
		ID:          spec.ID,
		Kind:        spec.Kind.String(),
		Every:       spec.Every,
		Cron:        spec.Cron,
		RunAt:       spec.RunAt,
		Target:      spec.Target,
		Args:        string(args),
		Description: spec.Description,
		Paused:      paused,
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *jobStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ScheduledJob{}, "id = ?", id).Error
}

func (s *jobStore) Load(ctx context.Context) ([]scheduler.StoredJob, error) {
	rows := []ScheduledJob{}
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	jobs := make([]scheduler.StoredJob, 0, len(rows))
	for _, r := range rows {
		kind, err := scheduler.ParseKind(r.Kind)
		if err != nil {
			return nil, err
		}

		args := scheduler.Args{}
		if r.Args != "" {
			if err := json.Unmarshal([]byte(r.Args), &args); err != nil {
				return nil, err
			}
		}

		jobs = append(jobs, scheduler.StoredJob{
			Spec: scheduler.JobSpec{
				ID:          r.ID,
				Kind:        kind,
				Every:       r.Every,
				Cron:        r.Cron,
				RunAt:       r.RunAt,
				Target:      r.Target,
				Args:        args,
				Description: r.Description,
			},
			Paused: r.Paused,
		})
	}

	return jobs, nil
}
