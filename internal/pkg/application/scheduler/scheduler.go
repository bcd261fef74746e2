package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const maxIdle = time.Minute

type Config struct {
	Workers      int            `yaml:"workers"`
	MisfireGrace time.Duration  `yaml:"misfireGrace"`
	Location     *time.Location `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Workers:      10,
		MisfireGrace: 30 * time.Second,
	}
}

type Option func(*Scheduler)

func WithStore(store JobStore) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

type job struct {
	spec    JobSpec
	trigger trigger
	target  TargetFunc
	next    time.Time
	paused  bool
	lastRun time.Time
	lastErr string
}

// Scheduler fires registered jobs from a single clock goroutine and runs
// their bodies on a bounded pool. At most one execution per job id is in
// flight at any time.
type Scheduler struct {
	cfg     Config
	targets *Targets
	store   JobStore
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	running map[string]bool

	pool   *semaphore.Weighted
	wake   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

func New(targets *Targets, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = def.MisfireGrace
	}

	s := &Scheduler{
		cfg:     cfg,
		targets: targets,
		log:     zerolog.Nop(),
		now:     time.Now,
		jobs:    map[string]*job{},
		running: map[string]bool{},
		pool:    semaphore.NewWeighted(int64(cfg.Workers)),
		wake:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Scheduler) AddInterval(ctx context.Context, id string, every time.Duration, target string, args Args, description string) (JobInfo, error) {
	return s.Add(ctx, JobSpec{ID: id, Kind: Interval, Every: every, Target: target, Args: args, Description: description})
}

func (s *Scheduler) AddCron(ctx context.Context, id, expr, target string, args Args, description string) (JobInfo, error) {
	return s.Add(ctx, JobSpec{ID: id, Kind: Cron, Cron: expr, Target: target, Args: args, Description: description})
}

func (s *Scheduler) AddOnce(ctx context.Context, id string, runAt time.Time, target string, args Args) (JobInfo, error) {
	return s.Add(ctx, JobSpec{ID: id, Kind: OneShot, RunAt: runAt, Target: target, Args: args})
}

// Add registers spec, replacing any job with the same id.
func (s *Scheduler) Add(ctx context.Context, spec JobSpec) (JobInfo, error) {
	if spec.ID == "" {
		return JobInfo{}, fmt.Errorf("%w: job id is required", ErrValidation)
	}

	target, ok := s.targets.Lookup(spec.Target)
	if !ok {
		return JobInfo{}, fmt.Errorf("%w: unknown target %q for job %s", ErrValidation, spec.Target, spec.ID)
	}

	now := s.now()

	t, err := newTrigger(spec, now, s.cfg.Location)
	if err != nil {
		return JobInfo{}, err
	}

	spec.Args = spec.Args.clone()

	j := &job{
		spec:    spec,
		trigger: t,
		target:  target,
		next:    t.Next(now),
	}

	s.mu.Lock()
	if previous, ok := s.jobs[spec.ID]; ok {
		j.lastRun = previous.lastRun
		j.lastErr = previous.lastErr
		s.log.Info().Str("job_id", spec.ID).Msg("replacing existing job")
	}
	s.jobs[spec.ID] = j
	info := s.info(j)
	s.mu.Unlock()

	s.persist(ctx, spec, false)
	s.signal()

	s.log.Info().Str("job_id", spec.ID).Str("trigger", t.String()).Time("next_run", info.NextRun).Msg("job registered")

	return info, nil
}

func (s *Scheduler) Pause(ctx context.Context, id string) (JobInfo, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return JobInfo{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j.paused = true
	j.next = time.Time{}
	info := s.info(j)
	spec := j.spec
	s.mu.Unlock()

	s.persist(ctx, spec, true)
	s.signal()

	return info, nil
}

func (s *Scheduler) Resume(ctx context.Context, id string) (JobInfo, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return JobInfo{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.paused {
		j.paused = false
		j.next = j.trigger.Next(s.now())
	}
	info := s.info(j)
	spec := j.spec
	s.mu.Unlock()

	s.persist(ctx, spec, false)
	s.signal()

	return info, nil
}

// Remove unregisters a job. An execution already in flight runs to completion.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if s.store != nil {
		if err := s.store.Delete(ctx, id); err != nil {
			s.log.Error().Err(err).Str("job_id", id).Msg("failed to delete persisted job")
		}
	}

	s.signal()

	return nil
}

// RunNow executes the job body on the calling goroutine with the stored
// arguments. The trigger and its next fire time are left untouched. The
// returned error is only set when the job could not be started, failures
// of the body are reported in RunResult.Err.
func (s *Scheduler) RunNow(ctx context.Context, id string) (RunResult, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return RunResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if s.running[id] {
		s.mu.Unlock()
		return RunResult{}, fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	s.running[id] = true
	target, args := j.target, j.spec.Args.clone()
	s.mu.Unlock()

	result := s.execute(ctx, id, target, args)
	s.finish(result)

	return result, nil
}

func (s *Scheduler) Get(id string) (JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return s.info(j), nil
}

func (s *Scheduler) List() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, s.info(j))
	}

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })

	return jobs
}

// Bootstrap registers the given jobs, then any persisted job not among
// them, and finally re-applies persisted paused flags.
func (s *Scheduler) Bootstrap(ctx context.Context, specs []JobSpec) error {
	stored, err := s.load(ctx)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		if _, err := s.Add(ctx, spec); err != nil {
			return err
		}
	}

	s.restore(ctx, stored)

	return nil
}

// Restore registers persisted jobs that are not already registered.
func (s *Scheduler) Restore(ctx context.Context) error {
	stored, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.restore(ctx, stored)

	return nil
}

func (s *Scheduler) load(ctx context.Context) ([]StoredJob, error) {
	if s.store == nil {
		return []StoredJob{}, nil
	}

	stored, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted jobs: %w", err)
	}

	return stored, nil
}

func (s *Scheduler) restore(ctx context.Context, stored []StoredJob) {
	for _, sj := range stored {
		if _, err := s.Get(sj.Spec.ID); err == nil {
			continue
		}
		if _, err := s.Add(ctx, sj.Spec); err != nil {
			s.log.Error().Err(err).Str("job_id", sj.Spec.ID).Msg("skipping persisted job")
		}
	}

	for _, sj := range stored {
		if !sj.Paused {
			continue
		}
		if _, err := s.Pause(ctx, sj.Spec.ID); err != nil {
			s.log.Warn().Err(err).Str("job_id", sj.Spec.ID).Msg("could not restore paused state")
		}
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.Info().Int("workers", s.cfg.Workers).Msg("starting scheduler")

	go s.loop(ctx)
}

// Stop halts the clock and waits for in-flight executions until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stopped with jobs still running: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(maxIdle)
	defer timer.Stop()

	for {
		wait := s.dispatchDue(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatchDue hands every due job to the pool and returns how long the
// clock may sleep until the next fire time.
func (s *Scheduler) dispatchDue(ctx context.Context) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	wait := maxIdle

	for id, j := range s.jobs {
		if j.paused || j.next.IsZero() {
			continue
		}

		if j.next.After(now) {
			if d := j.next.Sub(now); d < wait {
				wait = d
			}
			continue
		}

		switch late := now.Sub(j.next); {
		case late > s.cfg.MisfireGrace:
			s.log.Warn().Str("job_id", id).Dur("late", late).Msg("run time missed by more than the grace time, skipping")
			metrics.JobRuns.WithLabelValues(id, "missed").Inc()
		case s.running[id]:
			s.log.Debug().Str("job_id", id).Msg("previous run still in progress, skipping")
			metrics.JobRuns.WithLabelValues(id, "coalesced").Inc()
		default:
			s.running[id] = true
			s.dispatch(ctx, id, j.target, j.spec.Args.clone())
		}

		if j.spec.Kind == OneShot {
			delete(s.jobs, id)
			s.forget(id)
			continue
		}

		j.next = j.trigger.Next(now)
		if d := j.next.Sub(now); d < wait {
			wait = d
		}
	}

	if wait < 0 {
		wait = 0
	}

	return wait
}

func (s *Scheduler) dispatch(ctx context.Context, id string, target TargetFunc, args Args) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		// executions are not cancelled when the scheduler stops
		runCtx := context.WithoutCancel(ctx)

		if err := s.pool.Acquire(ctx, 1); err != nil {
			s.finish(RunResult{JobID: id, Err: err})
			return
		}
		defer s.pool.Release(1)

		s.finish(s.execute(runCtx, id, target, args))
	}()
}

func (s *Scheduler) execute(ctx context.Context, id string, target TargetFunc, args Args) (result RunResult) {
	result = RunResult{
		JobID:     id,
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}

	log := s.log.With().Str("job_id", id).Str("run_id", result.RunID).Logger()
	ctx = logging.NewContextWithLogger(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			log.Error().Str("stack", string(debug.Stack())).Msgf("recovered from panic in job: %v", r)
		}
		result.FinishedAt = s.now()
	}()

	log.Debug().Msg("running job")

	summary, err := target(ctx, args)
	result.Summary = summary
	result.Err = err

	if err != nil {
		log.Error().Err(err).Msg("job failed")
	} else {
		log.Info().Interface("summary", summary).Dur("duration", s.now().Sub(result.StartedAt)).Msg("job finished")
	}

	return result
}

func (s *Scheduler) finish(result RunResult) {
	outcome := "success"
	if result.Err != nil {
		outcome = "failure"
	}
	metrics.JobRuns.WithLabelValues(result.JobID, outcome).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, result.JobID)

	if j, ok := s.jobs[result.JobID]; ok {
		j.lastRun = result.StartedAt
		j.lastErr = ""
		if result.Err != nil {
			j.lastErr = result.Err.Error()
		}
	}
}

// info must be called with s.mu held.
func (s *Scheduler) info(j *job) JobInfo {
	return JobInfo{
		ID:          j.spec.ID,
		Kind:        j.spec.Kind,
		Trigger:     j.trigger.String(),
		Target:      j.spec.Target,
		Description: j.spec.Description,
		NextRun:     j.next,
		Paused:      j.paused,
		Running:     s.running[j.spec.ID],
		LastRun:     j.lastRun,
		LastError:   j.lastErr,
	}
}

func (s *Scheduler) persist(ctx context.Context, spec JobSpec, paused bool) {
	if s.store == nil {
		return
	}

	if err := s.store.Save(ctx, spec, paused); err != nil {
		s.log.Error().Err(err).Str("job_id", spec.ID).Msg("failed to persist job")
	}
}

// forget drops a finished one-shot job from the store without blocking the clock.
func (s *Scheduler) forget(id string) {
	if s.store == nil {
		return
	}

	go func() {
		if err := s.store.Delete(context.Background(), id); err != nil {
			s.log.Error().Err(err).Str("job_id", id).Msg("failed to delete persisted job")
		}
	}()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
