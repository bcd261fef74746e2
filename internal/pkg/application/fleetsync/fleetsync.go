package fleetsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/fetch"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/normalize"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/notifications"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/scheduler"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/status"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/watchdog"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/tracing"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("iot-fleet-sync/fleetsync")

const plantIDsKey string = "plant_ids"

type Notifier interface {
	Dispatch(ctx context.Context, target notifications.Target, notificationType string, channels []string, opts ...notifications.Option) notifications.Report
}

// Service runs the fleet synchronization pipeline behind the scheduled jobs.
type Service struct {
	source   fleetsource.FleetSource
	creds    fleetsource.Credentials
	fetcher  *fetch.Coordinator
	store    database.Store
	tracker  *status.Tracker
	notifier Notifier
	watchdog *watchdog.Watchdog
	cache    cache.Cache
	cacheTTL time.Duration
	workers  int
	now      func() time.Time

	loginMu  sync.Mutex
	loggedIn atomic.Bool
}

func New(source fleetsource.FleetSource, store database.Store, notifier Notifier, c cache.Cache, cfg Config) *Service {
	return &Service{
		source:   source,
		creds:    cfg.Credentials,
		fetcher:  fetch.New(source, cfg.Fetch),
		store:    store,
		tracker:  status.New(cfg.Status.EmitRecovered),
		notifier: notifier,
		watchdog: watchdog.New(cfg.Watchdog),
		cache:    c,
		cacheTTL: cfg.Cache.TTL,
		workers:  max(cfg.Fetch.MaxWorkers, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login establishes a session with the fleet source.
func (s *Service) Login(ctx context.Context) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	s.loggedIn.Store(false)

	if err := s.source.Login(ctx, s.creds); err != nil {
		return fmt.Errorf("failed to log in to fleet source: %w", err)
	}

	s.loggedIn.Store(true)
	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msg("logged in to fleet source")

	return nil
}

func (s *Service) ensureSession(ctx context.Context) error {
	if s.loggedIn.Load() {
		return nil
	}
	return s.Login(ctx)
}

// withSession runs fn and, if the session expired on the way, logs in again
// and runs fn a second time.
func (s *Service) withSession(ctx context.Context, fn func() error) error {
	if err := s.ensureSession(ctx); err != nil {
		return err
	}

	err := fn()
	if !errors.Is(err, fleetsource.ErrSessionExpired) {
		return err
	}

	log := logging.GetLoggerFromContext(ctx)
	log.Warn().Err(err).Msg("session expired, logging in again")

	if err := s.Login(ctx); err != nil {
		return err
	}

	return fn()
}

func (s *Service) RegisterTargets(targets *scheduler.Targets) {
	targets.Register(JobCollectPlants, s.CollectPlants)
	targets.Register(JobCollectDevices, s.CollectDevices)
	targets.Register(JobCheckStatus, s.CheckDevicesStatus)
	targets.Register(JobSendNotifications, s.SendOfflineNotifications)
}

func (s *Service) CollectPlants(ctx context.Context, args scheduler.Args) (summary scheduler.Summary, err error) {
	ctx, span := tracer.Start(ctx, JobCollectPlants)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var plants []normalize.Plant

	err = s.withSession(ctx, func() error {
		var err error
		plants, err = s.fetcher.SyncPlants(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := s.store.UpsertPlants(ctx, plants)
	recordUpsert("plant", result)

	s.rememberPlantIDs(ctx, lo.Map(plants, func(p normalize.Plant, _ int) string { return p.ID }))

	return scheduler.Summary{
		"plants": len(plants),
		"saved":  result.Saved,
		"failed": len(result.Failed),
	}, nil
}

// CollectDevices synchronizes the devices of the plants given in the
// plant_ids argument, or of the known plants, and notifies about status
// transitions.
func (s *Service) CollectDevices(ctx context.Context, args scheduler.Args) (summary scheduler.Summary, err error) {
	ctx, span := tracer.Start(ctx, JobCollectDevices)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)

	plantIDs := s.plantIDs(ctx, args)

	var snapshot fetch.FleetSnapshot

	err = s.withSession(ctx, func() error {
		var err error
		snapshot, err = s.fetcher.SyncFleet(ctx, plantIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	summary = scheduler.Summary{
		"plants":       len(snapshot.Plants),
		"devices":      len(snapshot.Devices),
		"plant_errors": len(snapshot.Errors),
	}

	if len(snapshot.Plants) > 0 {
		plants := s.store.UpsertPlants(ctx, snapshot.Plants)
		recordUpsert("plant", plants)
	}

	serials := lo.Map(snapshot.Devices, func(d normalize.Device, _ int) string { return d.SerialNumber })

	previous, err := s.store.PreviousStatuses(ctx, serials)
	if err != nil {
		return summary, fmt.Errorf("failed to read previous statuses: %w", err)
	}

	devices := s.store.UpsertDevices(ctx, snapshot.Devices)
	recordUpsert("device", devices)

	summary["saved"] = devices.Saved
	summary["failed"] = len(devices.Failed)

	energy := s.store.UpsertEnergy(ctx, normalize.Energy(snapshot.Devices, s.now().Format(time.DateOnly)))
	recordUpsert("energy", energy)

	summary["energy_saved"] = energy.Saved

	failed := lo.SliceToMap(devices.Failed, func(f database.Failure) (string, bool) { return f.Key, true })
	saved := lo.Filter(snapshot.Devices, func(d normalize.Device, _ int) bool { return !failed[d.SerialNumber] })

	transitions := s.tracker.Diff(previous, saved, s.now())
	summary["transitions"] = len(transitions)
	summary.Add(s.notify(ctx, transitions, splitList(args["channels"])))

	log.Info().Interface("summary", summary).Msg("device synchronization done")

	return summary, nil
}

// CheckDevicesStatus asks the fleet source for the current status of every
// online device that has been silent for too long.
func (s *Service) CheckDevicesStatus(ctx context.Context, args scheduler.Args) (summary scheduler.Summary, err error) {
	ctx, span := tracer.Start(ctx, JobCheckStatus)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)
	now := s.now()

	stored, err := s.store.ListDevices(ctx, database.WithStatus(status.Values(status.Online)...))
	if err != nil {
		return nil, err
	}

	stale := s.watchdog.Check(ctx, lo.Map(stored, toDevice), now)

	summary = scheduler.Summary{"stale": len(stale)}
	if len(stale) == 0 {
		return summary, nil
	}

	var current []string

	err = s.withSession(ctx, func() error {
		var err error
		current, err = s.currentStatuses(ctx, stale)
		return err
	})
	if err != nil {
		return summary, err
	}

	previous := map[string]string{}
	updated := []normalize.Device{}

	for i, sd := range stale {
		if current[i] == "" {
			summary["status_errors"]++
			continue
		}

		d := sd.Device
		previous[d.SerialNumber] = d.Status
		d.Status = current[i]

		if err := s.store.UpdateStatus(ctx, d.SerialNumber, d.Status); err != nil {
			log.Error().Err(err).Str("serial", d.SerialNumber).Msg("failed to update device status")
			summary["failed"]++
			continue
		}

		updated = append(updated, d)
	}

	transitions := s.tracker.Diff(previous, updated, now)
	summary["checked"] = len(updated)
	summary["transitions"] = len(transitions)
	summary.Add(s.notify(ctx, transitions, splitList(args["channels"])))

	return summary, nil
}

// currentStatuses fetches the status of each stale device on a bounded pool.
// Devices whose status could not be read get an empty status.
func (s *Service) currentStatuses(ctx context.Context, stale []watchdog.StaleDevice) ([]string, error) {
	log := logging.GetLoggerFromContext(ctx)

	current := make([]string, len(stale))
	errs := make([]error, len(stale))

	g := &errgroup.Group{}
	g.SetLimit(min(s.workers, len(stale)))

	for i, sd := range stale {
		i, sd := i, sd
		g.Go(func() error {
			current[i], errs[i] = s.fetcher.Status(ctx, sd.Device.PlantID, sd.Device.SerialNumber)
			return nil
		})
	}

	g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, fleetsource.ErrSessionExpired) {
			return nil, err
		}
		log.Error().Err(err).Str("serial", stale[i].Device.SerialNumber).Msg("failed to fetch device status")
	}

	return current, nil
}

// SendOfflineNotifications notifies about every device stored as offline.
// Devices already notified within the cooldown are suppressed.
func (s *Service) SendOfflineNotifications(ctx context.Context, args scheduler.Args) (summary scheduler.Summary, err error) {
	ctx, span := tracer.Start(ctx, JobSendNotifications)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	devices, err := s.store.ListDevices(ctx, database.WithStatus(status.Values(status.Offline)...))
	if err != nil {
		return nil, err
	}

	summary = scheduler.Summary{"devices": len(devices)}

	channels := splitList(args["channels"])

	for _, d := range devices {
		report := s.notifier.Dispatch(ctx, target(toDevice(d, 0), s.now()), notifications.TypeOffline, channels)
		summary.Add(reportSummary(report))
	}

	return summary, nil
}

// ForceNotification re-sends a notification about a stored device
// regardless of the cooldown.
func (s *Service) ForceNotification(ctx context.Context, serial, notificationType string, channels []string) (notifications.Report, error) {
	devices, err := s.store.ListDevices(ctx, database.WithSerialNumbers(serial))
	if err != nil {
		return notifications.Report{}, err
	}
	if len(devices) == 0 {
		return notifications.Report{}, fmt.Errorf("%w: %s", database.ErrDeviceNotFound, serial)
	}

	if notificationType == "" {
		notificationType = notifications.TypeOffline
	}

	return s.notifier.Dispatch(ctx, target(toDevice(devices[0], 0), s.now()), notificationType, channels, notifications.Force()), nil
}

func (s *Service) notify(ctx context.Context, transitions []status.Transition, channels []string) scheduler.Summary {
	summary := scheduler.Summary{}

	for _, t := range transitions {
		tgt := notifications.Target{
			SerialNumber: t.SerialNumber,
			PlantID:      t.PlantID,
			Alias:        t.Alias,
			Status:       t.Status,
			ObservedAt:   t.ObservedAt,
		}

		report := s.notifier.Dispatch(ctx, tgt, string(t.Event), channels)
		summary.Add(reportSummary(report))
	}

	return summary
}

func reportSummary(r notifications.Report) scheduler.Summary {
	return scheduler.Summary{
		"notified":      r.Sent(),
		"suppressed":    r.Suppressed(),
		"notify_failed": r.Failed(),
	}
}

// plantIDs resolves the plants to synchronize from the job arguments, the
// cache or the store, in that order. An empty result means every plant.
func (s *Service) plantIDs(ctx context.Context, args scheduler.Args) []string {
	log := logging.GetLoggerFromContext(ctx)

	if ids := splitList(args["plant_ids"]); len(ids) > 0 {
		return ids
	}

	if s.cache != nil {
		b, found, err := s.cache.Get(ctx, plantIDsKey)
		if err != nil {
			log.Warn().Err(err).Msg("could not read plant ids from cache")
		} else if found {
			if ids := splitList(string(b)); len(ids) > 0 {
				return ids
			}
		}
	}

	ids, err := s.store.PlantIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not read plant ids from store")
		return nil
	}

	return ids
}

func (s *Service) rememberPlantIDs(ctx context.Context, ids []string) {
	if s.cache == nil || len(ids) == 0 {
		return
	}

	err := s.cache.Set(ctx, plantIDsKey, []byte(strings.Join(ids, ",")), s.cacheTTL)
	if err != nil {
		log := logging.GetLoggerFromContext(ctx)
		log.Warn().Err(err).Msg("could not cache plant ids")
	}
}

// Bootstrap registers the configured jobs with the scheduler, restoring
// persisted jobs and paused flags.
func Bootstrap(ctx context.Context, sched *scheduler.Scheduler, jobs []JobConfig) error {
	specs := make([]scheduler.JobSpec, 0, len(jobs))

	for _, j := range jobs {
		spec, err := j.Spec()
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	return sched.Bootstrap(ctx, specs)
}

func recordUpsert(entity string, result database.UpsertResult) {
	metrics.UpsertedRecords.WithLabelValues(entity, "saved").Add(float64(result.Saved))
	metrics.UpsertedRecords.WithLabelValues(entity, "failed").Add(float64(len(result.Failed)))
}

func toDevice(d database.Device, _ int) normalize.Device {
	plantID := ""
	if d.PlantID != nil {
		plantID = *d.PlantID
	}

	return normalize.Device{
		SerialNumber:   d.SerialNumber,
		PlantID:        plantID,
		Alias:          d.Alias,
		Type:           d.Type,
		Status:         d.Status,
		LastUpdateTime: d.LastUpdateTime,
		Synthetic:      d.Synthetic,
		Power:          d.Power,
		EnergyToday:    d.EnergyToday,
		EnergyTotal:    d.EnergyTotal,
		PVVoltage:      d.PVVoltage,
	}
}

func target(d normalize.Device, now time.Time) notifications.Target {
	return notifications.Target{
		SerialNumber: d.SerialNumber,
		PlantID:      d.PlantID,
		Alias:        d.Alias,
		Status:       d.Status,
		ObservedAt:   now,
	}
}

func splitList(s string) []string {
	return lo.Uniq(lo.Filter(lo.Map(strings.Split(s, ","), func(v string, _ int) string {
		return strings.TrimSpace(v)
	}), func(v string, _ int) bool {
		return v != ""
	}))
}
