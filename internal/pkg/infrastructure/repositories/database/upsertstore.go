package database

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/normalize"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPersistence = fmt.Errorf("could not persist record")

const rawPayloadColumn string = "raw_payload"

type Failure struct {
	Key string
	Err error
}

type UpsertResult struct {
	Saved  int
	Failed []Failure
}

type Store interface {
	UpsertPlants(ctx context.Context, plants []normalize.Plant) UpsertResult
	UpsertDevices(ctx context.Context, devices []normalize.Device) UpsertResult
	UpsertEnergy(ctx context.Context, records []normalize.EnergyRecord) UpsertResult

	PreviousStatuses(ctx context.Context, serials []string) (map[string]string, error)
	ListDevices(ctx context.Context, conditions ...ConditionFunc) ([]Device, error)
	UpdateStatus(ctx context.Context, serial, status string) error
	PlantIDs(ctx context.Context) ([]string, error)
}

type UpsertStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewUpsertStore(db *gorm.DB) (*UpsertStore, error) {
	err := db.AutoMigrate(&Plant{}, &Device{}, &EnergyRecord{})
	if err != nil {
		return nil, err
	}

	return &UpsertStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *UpsertStore) UpsertPlants(ctx context.Context, plants []normalize.Plant) UpsertResult {
	log := logging.GetLoggerFromContext(ctx)
	result := UpsertResult{}

	for _, p := range plants {
		row := Plant{
			ID:          p.ID,
			Name:        p.Name,
			Status:      p.Status,
			Capacity:    p.Capacity,
			LastUpdated: s.now(),
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&row).Error
		})
		if err != nil {
			log.Error().Err(err).Str("plantID", p.ID).Msg("failed to upsert plant")
			result.Failed = append(result.Failed, Failure{Key: p.ID, Err: fmt.Errorf("%w: plant %s: %s", ErrPersistence, p.ID, err.Error())})
			continue
		}

		result.Saved++
	}

	return result
}

// UpsertDevices writes each device in its own transaction. A device that
// refers to an unknown plant is stored without a plant.
func (s *UpsertStore) UpsertDevices(ctx context.Context, devices []normalize.Device) UpsertResult {
	log := logging.GetLoggerFromContext(ctx)
	result := UpsertResult{}

	db := s.db.WithContext(ctx)

	omit := []string{}
	if !db.Migrator().HasColumn(&Device{}, rawPayloadColumn) {
		log.Warn().Msgf("column %s missing on devices, payloads will not be stored", rawPayloadColumn)
		omit = append(omit, rawPayloadColumn)
	}

	knownPlants := map[string]bool{}

	for _, d := range devices {
		row := Device{
			SerialNumber:   d.SerialNumber,
			PlantID:        s.plantRef(ctx, d.PlantID, knownPlants),
			Alias:          d.Alias,
			Type:           d.Type,
			Status:         d.Status,
			LastUpdateTime: d.LastUpdateTime,
			Synthetic:      d.Synthetic,
			Power:          d.Power,
			EnergyToday:    d.EnergyToday,
			EnergyTotal:    d.EnergyTotal,
			PVVoltage:      d.PVVoltage,
			RawPayload:     string(d.RawPayload),
			LastUpdated:    s.now(),
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if len(omit) > 0 {
				tx = tx.Omit(omit...)
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "serial_number"}},
				UpdateAll: true,
			}).Create(&row).Error
		})
		if err != nil {
			log.Error().Err(err).Str("serial", d.SerialNumber).Msg("failed to upsert device")
			result.Failed = append(result.Failed, Failure{Key: d.SerialNumber, Err: fmt.Errorf("%w: device %q: %s", ErrPersistence, d.SerialNumber, err.Error())})
			continue
		}

		result.Saved++
	}

	return result
}

// plantRef returns a reference to plantID if the plant exists, nil if it
// does not or if that could not be determined.
func (s *UpsertStore) plantRef(ctx context.Context, plantID string, known map[string]bool) *string {
	if plantID == "" {
		return nil
	}

	exists, checked := known[plantID]
	if !checked {
		var count int64
		err := s.db.WithContext(ctx).Model(&Plant{}).Where("id = ?", plantID).Count(&count).Error
		if err != nil {
			log := logging.GetLoggerFromContext(ctx)
			log.Warn().Err(err).Str("plantID", plantID).Msg("plant lookup failed, storing device without plant")
			return nil
		}
		exists = count > 0
		known[plantID] = exists
	}

	if !exists {
		return nil
	}

	return &plantID
}

func (s *UpsertStore) UpsertEnergy(ctx context.Context, records []normalize.EnergyRecord) UpsertResult {
	log := logging.GetLoggerFromContext(ctx)
	result := UpsertResult{}

	for _, r := range records {
		row := EnergyRecord{
			PlantID:      r.PlantID,
			DeviceSerial: r.DeviceSerial,
			Date:         r.Date,
			DailyEnergy:  r.DailyEnergy,
			PeakPower:    r.PeakPower,
			LastUpdated:  s.now(),
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "plant_id"}, {Name: "device_serial"}, {Name: "date"}},
				DoUpdates: clause.Assignments(map[string]any{
					"daily_energy": gorm.Expr("excluded.daily_energy"),
					"peak_power":   gorm.Expr("CASE WHEN excluded.peak_power > energy_records.peak_power THEN excluded.peak_power ELSE energy_records.peak_power END"),
					"last_updated": gorm.Expr("excluded.last_updated"),
				}),
			}).Create(&row).Error
		})
		if err != nil {
			key := fmt.Sprintf("%s/%s/%s", r.PlantID, r.DeviceSerial, r.Date)
			log.Error().Err(err).Str("key", key).Msg("failed to upsert energy record")
			result.Failed = append(result.Failed, Failure{Key: key, Err: fmt.Errorf("%w: energy %s: %s", ErrPersistence, key, err.Error())})
			continue
		}

		result.Saved++
	}

	return result
}

func (s *UpsertStore) PreviousStatuses(ctx context.Context, serials []string) (map[string]string, error) {
	statuses := map[string]string{}

	for _, chunk := range lo.Chunk(lo.Uniq(serials), 500) {
		rows := []Device{}
		err := s.db.WithContext(ctx).Select("serial_number", "status").Where("serial_number IN ?", chunk).Find(&rows).Error
		if err != nil {
			return nil, err
		}

		for _, r := range rows {
			statuses[r.SerialNumber] = r.Status
		}
	}

	return statuses, nil
}

func (s *UpsertStore) ListDevices(ctx context.Context, conditions ...ConditionFunc) ([]Device, error) {
	c := &Condition{}
	for _, condition := range conditions {
		c = condition(c)
	}

	query := s.db.WithContext(ctx).Model(&Device{})

	if len(c.Statuses) > 0 {
		query = query.Where("status IN ?", c.Statuses)
	}
	if c.PlantID != "" {
		query = query.Where("plant_id = ?", c.PlantID)
	}
	if len(c.SerialNumbers) > 0 {
		query = query.Where("serial_number IN ?", c.SerialNumbers)
	}
	if !c.UpdatedBefore.IsZero() {
		query = query.Where("last_update_time < ?", c.UpdatedBefore)
	}

	devices := []Device{}
	err := query.Order("serial_number").Find(&devices).Error

	return devices, err
}

func (s *UpsertStore) UpdateStatus(ctx context.Context, serial, status string) error {
	result := s.db.WithContext(ctx).Model(&Device{}).
		Where("serial_number = ?", serial).
		Updates(map[string]any{"status": status, "last_updated": s.now()})

	if result.Error != nil {
		return fmt.Errorf("%w: device %q: %s", ErrPersistence, serial, result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

func (s *UpsertStore) PlantIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).Model(&Plant{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

var ErrDeviceNotFound = fmt.Errorf("device not found")

type ConditionFunc func(*Condition) *Condition

type Condition struct {
	Statuses      []string
	PlantID       string
	SerialNumbers []string
	UpdatedBefore time.Time
}

func WithStatus(statuses ...string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Statuses = append(c.Statuses, statuses...)
		return c
	}
}

func WithPlantID(plantID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.PlantID = plantID
		return c
	}
}

func WithSerialNumbers(serials ...string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.SerialNumbers = append(c.SerialNumbers, serials...)
		return c
	}
}

func WithUpdatedBefore(t time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.UpdatedBefore = t
		return c
	}
}
