package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/metrics"
	"github.com/google/uuid"
)

var ErrChannel = fmt.Errorf("notification channel failed")
var ErrAllChannelsFailed = fmt.Errorf("no notification channel delivered")

const (
	TypeOffline   string = "offline"
	TypeRecovered string = "recovered"
)

// Target is the device a notification is about.
type Target struct {
	SerialNumber string    `json:"serialNumber"`
	PlantID      string    `json:"plantID,omitempty"`
	Alias        string    `json:"alias,omitempty"`
	Status       string    `json:"status,omitempty"`
	ObservedAt   time.Time `json:"observedAt"`
}

type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Target    Target    `json:"device"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type Entry struct {
	DeviceSerial     string
	NotificationType string
	Channel          string
	SentAt           time.Time
	Success          bool
	Error            string
}

//go:generate moq -rm -out history_mock.go . HistoryRepository

type HistoryRepository interface {
	LastSuccessful(ctx context.Context, serial, notificationType, channel string) (time.Time, bool, error)
	Record(ctx context.Context, entry Entry) error
	Entries(ctx context.Context, serial string) ([]Entry, error)
}

type Outcome string

const (
	Sent       Outcome = "sent"
	Suppressed Outcome = "suppressed"
	Failed     Outcome = "failed"
)

type ChannelResult struct {
	Channel string
	Outcome Outcome
	Err     error
}

type Report struct {
	Serial  string
	Type    string
	Results []ChannelResult
}

func (r Report) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r Report) Sent() int       { return r.count(Sent) }
func (r Report) Suppressed() int { return r.count(Suppressed) }
func (r Report) Failed() int     { return r.count(Failed) }

// Delivered maps every attempted channel to whether it delivered the message.
func (r Report) Delivered() map[string]bool {
	m := make(map[string]bool, len(r.Results))
	for _, res := range r.Results {
		m[res.Channel] = res.Outcome == Sent
	}
	return m
}

// Err is set when no channel delivered and at least one of them failed.
func (r Report) Err() error {
	if r.Sent() > 0 || r.Failed() == 0 {
		return nil
	}

	msgs := []string{}
	for _, res := range r.Results {
		if res.Outcome == Failed && res.Err != nil {
			msgs = append(msgs, res.Err.Error())
		}
	}

	return fmt.Errorf("%w: %s", ErrAllChannelsFailed, strings.Join(msgs, "; "))
}

type options struct {
	force bool
}

type Option func(*options)

// Force ignores the cooldown for a single call.
func Force() Option {
	return func(o *options) {
		o.force = true
	}
}

type Dispatcher struct {
	history   HistoryRepository
	channels  map[string]Channel
	cfg       Config
	templates *templates
	now       func() time.Time
	locks     *keyedMutex
}

type DispatcherOption func(*Dispatcher)

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(history HistoryRepository, channels []Channel, cfg Config, opts ...DispatcherOption) (*Dispatcher, error) {
	tmpl, err := newTemplates(cfg.Templates)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		history:   history,
		channels:  map[string]Channel{},
		cfg:       cfg,
		templates: tmpl,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     &keyedMutex{locks: map[string]*refMutex{}},
	}

	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Channels returns the names of the registered channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) Notify(ctx context.Context, target Target, notificationType string, channels []string, opts ...Option) (map[string]bool, error) {
	report := d.Dispatch(ctx, target, notificationType, channels, opts...)
	return report.Delivered(), report.Err()
}

// Dispatch sends a notification of the given type about target to each
// channel, or to the configured default channels when none are given.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, notificationType string, channels []string, opts ...Option) Report {
	log := logging.GetLoggerFromContext(ctx).With().Str("serial", target.SerialNumber).Str("type", notificationType).Logger()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if len(channels) == 0 {
		channels = d.cfg.Channels
	}
	if len(channels) == 0 {
		channels = d.Channels()
	}

	report := Report{Serial: target.SerialNumber, Type: notificationType}

	msg, err := d.templates.render(notificationType, target)
	if err != nil {
		log.Error().Err(err).Msg("failed to render notification")
		for _, name := range channels {
			report.Results = append(report.Results, ChannelResult{Channel: name, Outcome: Failed, Err: err})
		}
		return report
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = d.now()

	cooldown := d.cfg.CooldownFor(notificationType)
	if o.force {
		cooldown = 0
	}

	for _, name := range channels {
		res := d.send(logging.NewContextWithLogger(ctx, log), name, msg, cooldown)
		metrics.Notifications.WithLabelValues(name, notificationType, string(res.Outcome)).Inc()
		report.Results = append(report.Results, res)
	}

	return report
}

func (d *Dispatcher) send(ctx context.Context, name string, msg Message, cooldown time.Duration) ChannelResult {
	log := logging.GetLoggerFromContext(ctx).With().Str("channel", name).Logger()

	ch, ok := d.channels[name]
	if !ok {
		return ChannelResult{Channel: name, Outcome: Failed, Err: fmt.Errorf("%w: unknown channel %q", ErrChannel, name)}
	}

	unlock := d.locks.lock(msg.Target.SerialNumber + "|" + msg.Type + "|" + name)
	defer unlock()

	if cooldown > 0 {
		last, found, err := d.history.LastSuccessful(ctx, msg.Target.SerialNumber, msg.Type, name)
		if err != nil {
			log.Error().Err(err).Msg("could not read notification history")
			return ChannelResult{Channel: name, Outcome: Failed, Err: fmt.Errorf("%w: history lookup: %s", ErrChannel, err.Error())}
		}

		if found && d.now().Sub(last) < cooldown {
			log.Debug().Time("last_sent", last).Msg("notification suppressed by cooldown")
			return ChannelResult{Channel: name, Outcome: Suppressed}
		}
	}

	sendErr := ch.Send(ctx, msg)

	entry := Entry{
		DeviceSerial:     msg.Target.SerialNumber,
		NotificationType: msg.Type,
		Channel:          name,
		SentAt:           d.now(),
		Success:          sendErr == nil,
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}

	if err := d.history.Record(ctx, entry); err != nil {
		log.Error().Err(err).Msg("failed to record notification history")
	}

	if sendErr != nil {
		log.Error().Err(sendErr).Msg("failed to send notification")
		return ChannelResult{Channel: name, Outcome: Failed, Err: fmt.Errorf("%w: %s: %s", ErrChannel, name, sendErr.Error())}
	}

	log.Info().Msg("notification sent")

	return ChannelResult{Channel: name, Outcome: Sent}
}

// keyedMutex serializes work per key. Entries are reference counted and
// dropped when the last holder or waiter unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
