package status

import (
	"sort"
	"strings"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/normalize"
)

type State int

const (
	Unknown State = iota
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

type EventType string

const (
	EventOffline   EventType = "offline"
	EventRecovered EventType = "recovered"
)

var onlineValues = map[string]bool{"1": true, "online": true, "normal": true, "ok": true}
var offlineValues = map[string]bool{"0": true, "-1": true, "offline": true, "lost": true, "disconnected": true}

// Classify maps a stored or upstream status value onto the tracker states.
func Classify(status string) State {
	s := strings.ToLower(strings.TrimSpace(status))
	if onlineValues[s] {
		return Online
	}
	if offlineValues[s] {
		return Offline
	}
	return Unknown
}

type Transition struct {
	SerialNumber string
	PlantID      string
	Alias        string
	Status       string
	From         State
	To           State
	Event        EventType
	ObservedAt   time.Time
}

type Tracker struct {
	EmitRecovered bool
}

func New(emitRecovered bool) *Tracker {
	return &Tracker{EmitRecovered: emitRecovered}
}

// Diff compares the previously persisted statuses with freshly synchronized
// devices. Devices without a previous status are never reported. A stored
// value that does not classify, such as a fault code, still counts as not
// offline.
func (t *Tracker) Diff(previous map[string]string, current []normalize.Device, now time.Time) []Transition {
	transitions := []Transition{}

	for _, d := range current {
		before, seen := previous[d.SerialNumber]
		if !seen {
			continue
		}

		from := Classify(before)
		to := Classify(d.Status)

		event, ok := t.event(from, to)
		if !ok {
			continue
		}

		transitions = append(transitions, Transition{
			SerialNumber: d.SerialNumber,
			PlantID:      d.PlantID,
			Alias:        d.Alias,
			Status:       d.Status,
			From:         from,
			To:           to,
			Event:        event,
			ObservedAt:   now,
		})
	}

	return transitions
}

func (t *Tracker) event(from, to State) (EventType, bool) {
	if from == to {
		return "", false
	}

	if to == Offline {
		return EventOffline, true
	}

	if to == Online && from == Offline && t.EmitRecovered {
		return EventRecovered, true
	}

	return "", false
}

// Values returns the known status values that classify as s, sorted.
func Values(s State) []string {
	var source map[string]bool
	switch s {
	case Online:
		source = onlineValues
	case Offline:
		source = offlineValues
	default:
		return []string{}
	}

	values := make([]string, 0, len(source))
	for v := range source {
		values = append(values, v)
	}
	sort.Strings(values)

	return values
}
