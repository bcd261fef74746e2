package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/normalize"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/metrics"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	MaxWorkers    int           `yaml:"maxWorkers"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	BackoffFactor float64       `yaml:"backoffFactor"`
	BackoffUnit   time.Duration `yaml:"backoffUnit"`
	MaxPages      int           `yaml:"maxPages"`
}

func DefaultConfig() Config {
	return Config{
		MaxWorkers:    5,
		MaxAttempts:   3,
		BackoffFactor: 2,
		BackoffUnit:   time.Second,
		MaxPages:      100,
	}
}

var ErrPageLimit = fmt.Errorf("declared page count exceeds the page limit")

type PlantError struct {
	PlantID string
	Err     error
}

type FleetSnapshot struct {
	Plants  []normalize.Plant
	Devices []normalize.Device
	Errors  []PlantError
}

// Coordinator pulls plants and their device pages from a FleetSource.
type Coordinator struct {
	source fleetsource.FleetSource
	cfg    Config
	now    func() time.Time
}

func New(source fleetsource.FleetSource, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = def.BackoffUnit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}

	return &Coordinator{
		source: source,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) SyncPlants(ctx context.Context) ([]normalize.Plant, error) {
	var raws []fleetsource.PlantRaw

	err := c.retry(ctx, "get_plants", func() error {
		var err error
		raws, err = c.source.GetPlants(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plants: %w", err)
	}

	run := normalize.NewRun(logging.GetLoggerFromContext(ctx))

	return run.Plants(lo.Map(raws, func(p fleetsource.PlantRaw, _ int) map[string]any {
		return p
	}), c.now()), nil
}

// SyncFleet fetches all device pages of the given plants, or of every plant
// when plantIDs is empty. Plant level failures are collected in the
// snapshot. The returned error is set when the plant list could not be
// fetched or when the upstream session expired during the sync, in which
// case the snapshot holds what was fetched before.
func (c *Coordinator) SyncFleet(ctx context.Context, plantIDs []string) (FleetSnapshot, error) {
	log := logging.GetLoggerFromContext(ctx)
	snapshot := FleetSnapshot{}

	plants, err := c.SyncPlants(ctx)
	if err != nil {
		if len(plantIDs) == 0 || errors.Is(err, fleetsource.ErrSessionExpired) {
			return snapshot, err
		}
		log.Warn().Err(err).Msg("continuing with requested plants only")
	}

	ids := lo.Uniq(plantIDs)
	if len(ids) == 0 {
		ids = lo.Map(plants, func(p normalize.Plant, _ int) string { return p.ID })
	} else {
		plants = lo.Filter(plants, func(p normalize.Plant, _ int) bool { return lo.Contains(ids, p.ID) })
	}
	sort.Strings(ids)

	snapshot.Plants = plants

	if len(ids) == 0 {
		return snapshot, nil
	}

	pages := make([][]normalize.RawDevice, len(ids))
	errs := make([]error, len(ids))

	g := &errgroup.Group{}
	g.SetLimit(min(c.cfg.MaxWorkers, len(ids)))

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			pages[i], errs[i] = c.fetchPlant(ctx, id)
			return nil
		})
	}

	g.Wait()

	run := normalize.NewRun(log)
	expired := 0

	for i, id := range ids {
		snapshot.Devices = append(snapshot.Devices, run.Devices(id, pages[i])...)

		if errs[i] == nil {
			continue
		}

		log.Error().Err(errs[i]).Str("plantID", id).Msg("failed to fetch devices for plant")
		metrics.PlantErrors.Inc()
		snapshot.Errors = append(snapshot.Errors, PlantError{PlantID: id, Err: errs[i]})

		if errors.Is(errs[i], fleetsource.ErrSessionExpired) {
			expired++
		}
	}

	if expired > 0 {
		return snapshot, fmt.Errorf("%w: %d of %d plants affected", fleetsource.ErrSessionExpired, expired, len(ids))
	}

	return snapshot, nil
}

// fetchPlant reads every declared page of a plant. Devices from pages read
// before a failure, or before the page limit, are returned along with the
// error.
func (c *Coordinator) fetchPlant(ctx context.Context, plantID string) ([]normalize.RawDevice, error) {
	log := logging.GetLoggerFromContext(ctx)

	devices := []normalize.RawDevice{}
	totalPages := 1
	declared := 0

	for page := 1; page <= totalPages; page++ {
		var raw []byte

		err := c.retry(ctx, "get_devices", func() error {
			var err error
			raw, err = c.source.GetDevices(ctx, plantID, page)
			return err
		})
		if err != nil {
			return devices, fmt.Errorf("page %d: %w", page, err)
		}

		p, err := normalize.DecodePage(raw)
		if err != nil {
			return devices, fmt.Errorf("page %d: %w", page, err)
		}

		devices = append(devices, p.Devices...)

		if page == 1 && p.TotalPages > 1 {
			totalPages = p.TotalPages
			if totalPages > c.cfg.MaxPages {
				log.Warn().Str("plantID", plantID).Int("declared", totalPages).Int("max", c.cfg.MaxPages).Msg("upstream declares more pages than allowed")
				declared = totalPages
				totalPages = c.cfg.MaxPages
			}
		}
	}

	if declared > 0 {
		return devices, fmt.Errorf("%w: fetched %d of %d pages", ErrPageLimit, totalPages, declared)
	}

	return devices, nil
}

// Status fetches the current status of a single device.
func (c *Coordinator) Status(ctx context.Context, plantID, serial string) (string, error) {
	var raw fleetsource.RawStatus

	err := c.retry(ctx, "get_status", func() error {
		var err error
		raw, err = c.source.GetStatus(ctx, plantID, serial)
		return err
	})
	if err != nil {
		return "", err
	}

	return normalize.ParseStatus(raw), nil
}
