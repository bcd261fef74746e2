package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/normalize"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/notifications"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/scheduler"
	"github.com/matryer/is"
	"gorm.io/gorm"
)

func TestUpsertDeviceTwiceKeepsOneRow(t *testing.T) {
	is, ctx, db, s := testSetupUpsertStore(t)

	d := device("A1", "P1", "online")

	is.Equal(1, s.UpsertPlants(ctx, []normalize.Plant{{ID: "P1", Name: "Roof"}}).Saved)
	is.Equal(1, s.UpsertDevices(ctx, []normalize.Device{d}).Saved)

	d.Status = "offline"
	d.Power = 12.5
	is.Equal(1, s.UpsertDevices(ctx, []normalize.Device{d}).Saved)

	var count int64
	is.NoErr(db.Model(&Device{}).Count(&count).Error)
	is.Equal(int64(1), count)

	devices, err := s.ListDevices(ctx)
	is.NoErr(err)
	is.Equal("offline", devices[0].Status)
	is.Equal(12.5, devices[0].Power)
	is.Equal("P1", *devices[0].PlantID)
}

func TestFailingRecordDoesNotAffectTheOthers(t *testing.T) {
	is, ctx, db, s := testSetupUpsertStore(t)

	devices := []normalize.Device{}
	for i := 1; i <= 5; i++ {
		devices = append(devices, device(fmt.Sprintf("SN%d", i), "", "online"))
	}
	devices[2].SerialNumber = ""

	result := s.UpsertDevices(ctx, devices)
	is.Equal(4, result.Saved)
	is.Equal(1, len(result.Failed))
	is.True(errors.Is(result.Failed[0].Err, ErrPersistence))

	var count int64
	is.NoErr(db.Model(&Device{}).Count(&count).Error)
	is.Equal(int64(4), count)
}

func TestDeviceWithUnknownPlantIsStoredWithoutPlant(t *testing.T) {
	is, ctx, _, s := testSetupUpsertStore(t)

	result := s.UpsertDevices(ctx, []normalize.Device{device("A1", "P404", "online")})
	is.Equal(1, result.Saved)

	devices, err := s.ListDevices(ctx, WithSerialNumbers("A1"))
	is.NoErr(err)
	is.Equal(1, len(devices))
	is.True(devices[0].PlantID == nil)
}

func TestPayloadIsSkippedWhenColumnIsMissing(t *testing.T) {
	is, ctx, db, s := testSetupUpsertStore(t)

	is.NoErr(db.Migrator().DropColumn(&Device{}, rawPayloadColumn))

	result := s.UpsertDevices(ctx, []normalize.Device{device("A1", "", "online")})
	is.Equal(1, result.Saved)
	is.Equal(0, len(result.Failed))

	var count int64
	is.NoErr(db.Model(&Device{}).Where("serial_number = ?", "A1").Count(&count).Error)
	is.Equal(int64(1), count)
}

func TestEnergyRecordKeepsHighestPeak(t *testing.T) {
	is, ctx, db, s := testSetupUpsertStore(t)

	r := normalize.EnergyRecord{PlantID: "P1", DeviceSerial: "A1", Date: "2024-05-01", DailyEnergy: 4.2, PeakPower: 900}
	is.Equal(1, s.UpsertEnergy(ctx, []normalize.EnergyRecord{r}).Saved)

	r.DailyEnergy = 6.1
	r.PeakPower = 400
	is.Equal(1, s.UpsertEnergy(ctx, []normalize.EnergyRecord{r}).Saved)

	rows := []EnergyRecord{}
	is.NoErr(db.Find(&rows).Error)
	is.Equal(1, len(rows))
	is.Equal(6.1, rows[0].DailyEnergy)
	is.Equal(900.0, rows[0].PeakPower)
}

func TestPreviousStatuses(t *testing.T) {
	is, ctx, _, s := testSetupUpsertStore(t)

	s.UpsertDevices(ctx, []normalize.Device{
		device("A1", "", "online"),
		device("A2", "", "offline"),
	})

	statuses, err := s.PreviousStatuses(ctx, []string{"A1", "A2", "A3", "A1"})
	is.NoErr(err)
	is.Equal(2, len(statuses))
	is.Equal("online", statuses["A1"])
	is.Equal("offline", statuses["A2"])

	_, seen := statuses["A3"]
	is.True(!seen)
}

func TestListDevicesWithConditions(t *testing.T) {
	is, ctx, _, s := testSetupUpsertStore(t)

	s.UpsertPlants(ctx, []normalize.Plant{{ID: "P1"}, {ID: "P2"}})

	old := device("A1", "P1", "online")
	old.LastUpdateTime = time.Now().UTC().Add(-2 * time.Hour)

	s.UpsertDevices(ctx, []normalize.Device{
		old,
		device("A2", "P1", "offline"),
		device("B1", "P2", "online"),
	})

	devices, err := s.ListDevices(ctx, WithPlantID("P1"))
	is.NoErr(err)
	is.Equal(2, len(devices))

	devices, err = s.ListDevices(ctx, WithStatus("online"))
	is.NoErr(err)
	is.Equal("A1", devices[0].SerialNumber)
	is.Equal("B1", devices[1].SerialNumber)

	devices, err = s.ListDevices(ctx, WithUpdatedBefore(time.Now().UTC().Add(-time.Hour)))
	is.NoErr(err)
	is.Equal(1, len(devices))
	is.Equal("A1", devices[0].SerialNumber)

	ids, err := s.PlantIDs(ctx)
	is.NoErr(err)
	is.Equal([]string{"P1", "P2"}, ids)
}

func TestUpdateStatus(t *testing.T) {
	is, ctx, _, s := testSetupUpsertStore(t)

	s.UpsertDevices(ctx, []normalize.Device{device("A1", "", "online")})

	is.NoErr(s.UpdateStatus(ctx, "A1", "offline"))
	is.True(errors.Is(s.UpdateStatus(ctx, "nope", "offline"), ErrDeviceNotFound))

	statuses, _ := s.PreviousStatuses(ctx, []string{"A1"})
	is.Equal("offline", statuses["A1"])
}

func TestHistoryReturnsLatestSuccessfulSend(t *testing.T) {
	is, ctx, db, _ := testSetupUpsertStore(t)

	h, err := NewHistoryRepository(db)
	is.NoErr(err)

	_, found, err := h.LastSuccessful(ctx, "A1", "device_offline", "email")
	is.NoErr(err)
	is.True(!found)

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	is.NoErr(h.Record(ctx, notifications.Entry{DeviceSerial: "A1", NotificationType: "device_offline", Channel: "email", SentAt: first, Success: true}))
	is.NoErr(h.Record(ctx, notifications.Entry{DeviceSerial: "A1", NotificationType: "device_offline", Channel: "email", SentAt: first.Add(time.Hour), Success: false, Error: "smtp down"}))
	is.NoErr(h.Record(ctx, notifications.Entry{DeviceSerial: "A1", NotificationType: "device_offline", Channel: "webhook", SentAt: first.Add(2 * time.Hour), Success: true}))

	last, found, err := h.LastSuccessful(ctx, "A1", "device_offline", "email")
	is.NoErr(err)
	is.True(found)
	is.True(last.Equal(first))

	entries, err := h.Entries(ctx, "A1")
	is.NoErr(err)
	is.Equal(3, len(entries))
	is.Equal("smtp down", entries[1].Error)
}

func TestJobStoreRoundTrip(t *testing.T) {
	is, ctx, db, _ := testSetupUpsertStore(t)

	store, err := NewJobStore(db)
	is.NoErr(err)

	spec := scheduler.JobSpec{
		ID:          "collect_devices_data",
		Kind:        scheduler.Interval,
		Every:       5 * time.Minute,
		Target:      "collect_devices_data",
		Args:        scheduler.Args{"plant_ids": "P1,P2"},
		Description: "collect device data",
	}

	is.NoErr(store.Save(ctx, spec, false))
	is.NoErr(store.Save(ctx, spec, true))
	is.NoErr(store.Save(ctx, scheduler.JobSpec{ID: "nightly", Kind: scheduler.Cron, Cron: "0 2 * * *", Target: "noop"}, false))

	jobs, err := store.Load(ctx)
	is.NoErr(err)
	is.Equal(2, len(jobs))
	is.Equal(spec.ID, jobs[0].Spec.ID)
	is.True(jobs[0].Paused)
	is.Equal(5*time.Minute, jobs[0].Spec.Every)
	is.Equal("P1,P2", jobs[0].Spec.Args["plant_ids"])
	is.Equal(scheduler.Cron, jobs[1].Spec.Kind)

	is.NoErr(store.Delete(ctx, "nightly"))

	jobs, _ = store.Load(ctx)
	is.Equal(1, len(jobs))
}

func device(serial, plantID, status string) normalize.Device {
	return normalize.Device{
		SerialNumber:   serial,
		PlantID:        plantID,
		Alias:          "inverter " + serial,
		Type:           "inv",
		Status:         status,
		LastUpdateTime: time.Now().UTC(),
		RawPayload:     []byte(`{"deviceSn":"` + serial + `"}`),
	}
}

func testSetupUpsertStore(t *testing.T) (*is.I, context.Context, *gorm.DB, *UpsertStore) {
	is := is.New(t)
	ctx := context.Background()

	db, err := NewSQLiteConnector(ctx)()
	is.NoErr(err)

	s, err := NewUpsertStore(db)
	is.NoErr(err)

	return is, ctx, db, s
}
