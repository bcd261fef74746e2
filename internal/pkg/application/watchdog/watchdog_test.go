package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/normalize"
	"github.com/matryer/is"
)

func TestCheckFindsSilentOnlineDevices(t *testing.T) {
	is, ctx, now := testSetup(t)

	devices := []normalize.Device{
		{SerialNumber: "fresh", Status: "1", LastUpdateTime: now.Add(-10 * time.Minute)},
		{SerialNumber: "silent", Status: "1", LastUpdateTime: now.Add(-45 * time.Minute)},
		{SerialNumber: "silent-longer", Status: "online", LastUpdateTime: now.Add(-3 * time.Hour)},
		{SerialNumber: "offline", Status: "0", LastUpdateTime: now.Add(-3 * time.Hour)},
		{SerialNumber: "never", Status: "1"},
	}

	stale := New(Config{}).Check(ctx, devices, now)

	is.Equal(2, len(stale))
	is.Equal("silent-longer", stale[0].Device.SerialNumber)
	is.Equal("silent", stale[1].Device.SerialNumber)
	is.Equal(45*time.Minute, stale[1].Silence)
}

func TestStaleAfterIsConfigurable(t *testing.T) {
	is, ctx, now := testSetup(t)

	devices := []normalize.Device{
		{SerialNumber: "A1", Status: "1", LastUpdateTime: now.Add(-10 * time.Minute)},
	}

	is.Equal(0, len(New(Config{}).Check(ctx, devices, now)))
	is.Equal(1, len(New(Config{StaleAfter: 5 * time.Minute}).Check(ctx, devices, now)))
}

func testSetup(t *testing.T) (*is.I, context.Context, time.Time) {
	is := is.New(t)
	return is, context.Background(), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}
