package normalize

import (
	"encoding/json"
	"time"
)

// RawDevice is a single device entry as found in an upstream page.
type RawDevice map[string]any

// Device is the canonical device record.
type Device struct {
	SerialNumber   string
	PlantID        string
	Alias          string
	Type           string
	Status         string
	LastUpdateTime time.Time
	Synthetic      bool

	Power       float64
	EnergyToday float64
	EnergyTotal float64
	PVVoltage   float64

	RawPayload json.RawMessage
}

type Plant struct {
	ID          string
	Name        string
	Status      string
	Capacity    float64
	LastUpdated time.Time
}

type EnergyRecord struct {
	PlantID      string
	DeviceSerial string
	Date         string
	DailyEnergy  float64
	PeakPower    float64
}

type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeLegacy
	ShapeFlat
	ShapeTyped
)

func (s Shape) String() string {
	switch s {
	case ShapeLegacy:
		return "legacy"
	case ShapeFlat:
		return "flat"
	case ShapeTyped:
		return "typed"
	default:
		return "unknown"
	}
}

// Page is one decoded upstream page. TotalPages is zero when the upstream
// did not declare it.
type Page struct {
	Shape      Shape
	Devices    []RawDevice
	TotalPages int
}
