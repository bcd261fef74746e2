package watchdog

import (
	"context"
	"sort"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/normalize"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/status"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
)

const DefaultStaleAfter = 30 * time.Minute

type Config struct {
	StaleAfter time.Duration `yaml:"staleAfter"`
}

type StaleDevice struct {
	Device  normalize.Device
	Silence time.Duration
}

// Watchdog finds devices that are stored as online but have not reported
// for longer than the configured stale time.
type Watchdog struct {
	staleAfter time.Duration
}

func New(cfg Config) *Watchdog {
	w := &Watchdog{staleAfter: cfg.StaleAfter}
	if w.staleAfter <= 0 {
		w.staleAfter = DefaultStaleAfter
	}
	return w
}

// Check returns the stale devices, the longest silence first. Devices that
// never reported an update time are not considered stale.
func (w *Watchdog) Check(ctx context.Context, devices []normalize.Device, now time.Time) []StaleDevice {
	log := logging.GetLoggerFromContext(ctx)

	stale := []StaleDevice{}

	for _, d := range devices {
		if status.Classify(d.Status) != status.Online || d.LastUpdateTime.IsZero() {
			continue
		}

		silence := now.Sub(d.LastUpdateTime)
		if silence <= w.staleAfter {
			continue
		}

		log.Debug().Str("serial", d.SerialNumber).Dur("silence", silence).Msg("device has not reported in time")
		stale = append(stale, StaleDevice{Device: d, Silence: silence})
	}

	sort.SliceStable(stale, func(i, j int) bool { return stale[i].Silence > stale[j].Silence })

	return stale
}
