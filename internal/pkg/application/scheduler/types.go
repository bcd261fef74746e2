package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrValidation = fmt.Errorf("invalid job specification")
var ErrJobNotFound = fmt.Errorf("job not found")
var ErrJobRunning = fmt.Errorf("job is already running")
var ErrPanic = fmt.Errorf("job panicked")

type Kind int

const (
	Interval Kind = iota
	Cron
	OneShot
)

func (k Kind) String() string {
	switch k {
	case Interval:
		return "interval"
	case Cron:
		return "cron"
	case OneShot:
		return "once"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "interval":
		return Interval, nil
	case "cron":
		return Cron, nil
	case "once", "date":
		return OneShot, nil
	default:
		return 0, fmt.Errorf("%w: unknown job kind %q", ErrValidation, s)
	}
}

type Args map[string]string

func (a Args) clone() Args {
	c := make(Args, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Summary holds the aggregated counts a job run reports, e.g. saved or suppressed.
type Summary map[string]int

func (s Summary) Add(other Summary) {
	for k, v := range other {
		s[k] += v
	}
}

type TargetFunc func(ctx context.Context, args Args) (Summary, error)

type JobSpec struct {
	ID          string
	Kind        Kind
	Every       time.Duration
	Cron        string
	RunAt       time.Time
	Target      string
	Args        Args
	Description string
}

type JobInfo struct {
	ID          string
	Kind        Kind
	Trigger     string
	Target      string
	Description string
	NextRun     time.Time
	Paused      bool
	Running     bool
	LastRun     time.Time
	LastError   string
}

type RunResult struct {
	JobID      string
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    Summary
	Err        error
}

type StoredJob struct {
	Spec   JobSpec
	Paused bool
}

//go:generate moq -rm -out jobstore_mock.go . JobStore

type JobStore interface {
	Save(ctx context.Context, spec JobSpec, paused bool) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context) ([]StoredJob, error)
}

// Targets maps stable job target names to functions. It is filled once at
// startup; jobs refer to targets by name only.
type Targets struct {
	mu    sync.RWMutex
	funcs map[string]TargetFunc
}

func NewTargets() *Targets {
	return &Targets{funcs: map[string]TargetFunc{}}
}

func (t *Targets) Register(name string, fn TargetFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs[name] = fn
}

func (t *Targets) Lookup(name string) (TargetFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.funcs[name]
	return fn, ok
}

func (t *Targets) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.funcs))
	for n := range t.funcs {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}
