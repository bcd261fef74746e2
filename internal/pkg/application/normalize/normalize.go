package normalize

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const syntheticPrefix string = "SYN-"

// Run scopes a single normalization pass. Synthetic identifiers are unique
// within a run and derived only from upstream attributes, so a new run over
// the same data yields the same identifiers.
type Run struct {
	log zerolog.Logger

	mu       sync.Mutex
	used     map[string]bool
	counters map[string]int
}

func NewRun(log zerolog.Logger) *Run {
	return &Run{
		log:      log,
		used:     map[string]bool{},
		counters: map[string]int{},
	}
}

// Devices normalizes the devices of one plant. Output order follows input order.
func (r *Run) Devices(plantID string, raws []RawDevice) []Device {
	devices := make([]Device, 0, len(raws))

	for idx, raw := range raws {
		devices = append(devices, r.device(plantID, idx, raw))
	}

	return devices
}

func (r *Run) device(plantID string, idx int, raw RawDevice) Device {
	d := Device{
		PlantID:        text(raw, "plantId", "plantID"),
		Alias:          text(raw, "alias", "deviceAilas", "deviceAlias", "deviceName"),
		Type:           text(raw, "deviceType", "type"),
		Status:         canonicalStatus(text(raw, "status", "deviceStatus")),
		LastUpdateTime: timestamp(raw, "lastUpdateTime", "lastUpdateTimeText", "time"),
		Power:          number(raw, "pac", "power", "ppv"),
		EnergyToday:    number(raw, "eToday", "eDay", "todayEnergy"),
		EnergyTotal:    number(raw, "eTotal", "totalEnergy"),
		PVVoltage:      number(raw, "vPv1", "vpv1"),
	}

	if d.PlantID == "" {
		d.PlantID = plantID
	}

	if b, err := json.Marshal(raw); err == nil {
		d.RawPayload = b
	}

	serial := text(raw, "deviceSn", "sn", "serialNum")
	if serial == "" {
		serial = text(raw, "deviceId")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if serial != "" {
		r.used[serial] = true
		d.SerialNumber = serial
		return d
	}

	base := syntheticBase(d.PlantID, d.Type, idx, raw)
	d.SerialNumber = r.claim(base)
	d.Synthetic = true

	r.log.Debug().Str("serial", d.SerialNumber).Str("plantID", d.PlantID).Int("index", idx).Msg("assigned synthetic serial number")

	return d
}

// syntheticBase derives an identifier from the most stable attributes
// available: datalogger serial and index, else plant, type, index and
// coordinates truncated to four decimals.
func syntheticBase(plantID, deviceType string, idx int, raw RawDevice) string {
	if logger := text(raw, "datalogSn", "dataLogSn", "datalogger"); logger != "" {
		return fmt.Sprintf("%s%s-%d", syntheticPrefix, logger, idx)
	}

	if deviceType == "" {
		deviceType = "unknown"
	}

	lat := truncate(number(raw, "lat", "latitude"), 4)
	lng := truncate(number(raw, "lng", "lon", "longitude"), 4)

	return fmt.Sprintf("%s%s-%s-%d-%.4f_%.4f", syntheticPrefix, plantID, deviceType, idx, lat, lng)
}

// claim returns base, or base with the next free counter suffix when base
// is already taken in this run. Must be called with r.mu held.
func (r *Run) claim(base string) string {
	id := base
	for r.used[id] {
		r.counters[base]++
		id = fmt.Sprintf("%s-%d", base, r.counters[base])
	}
	r.used[id] = true
	return id
}

func (r *Run) Plants(raws []map[string]any, now time.Time) []Plant {
	plants := make([]Plant, 0, len(raws))

	for _, raw := range raws {
		id := text(raw, "id", "plantId", "plantID")
		if id == "" {
			r.log.Warn().Msg("skipping plant without id")
			continue
		}

		plants = append(plants, Plant{
			ID:          id,
			Name:        text(raw, "plantName", "name"),
			Status:      canonicalStatus(text(raw, "status")),
			Capacity:    number(raw, "nominalPower", "capacity"),
			LastUpdated: now,
		})
	}

	return plants
}

// Energy derives the daily energy point for each device on date (YYYY-MM-DD).
func Energy(devices []Device, date string) []EnergyRecord {
	records := make([]EnergyRecord, 0, len(devices))

	for _, d := range devices {
		records = append(records, EnergyRecord{
			PlantID:      d.PlantID,
			DeviceSerial: d.SerialNumber,
			Date:         date,
			DailyEnergy:  d.EnergyToday,
			PeakPower:    d.Power,
		})
	}

	return records
}

// ParseStatus extracts the canonical status of a single device status response.
func ParseStatus(raw map[string]any) string {
	return canonicalStatus(text(raw, "status", "deviceStatus"))
}
