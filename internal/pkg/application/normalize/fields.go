package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// lookup returns the first present value for keys, trying exact matches
// before case insensitive ones (vPv1 vs vpv1). Nil and blank strings are
// absent, so an empty deviceSn falls through to sn.
func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && present(v) {
			return v, true
		}
	}

	for _, k := range keys {
		for rk, v := range raw {
			if present(v) && strings.EqualFold(rk, k) {
				return v, true
			}
		}
	}

	return nil, false
}

func present(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return v != nil
}

func text(raw map[string]any, keys ...string) string {
	v, ok := lookup(raw, keys...)
	if !ok {
		return ""
	}

	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func number(raw map[string]any, keys ...string) float64 {
	v, _ := lookup(raw, keys...)
	return parseFloat(v)
}

// parseFloat never fails, anything that is not a finite number is 0.0
func parseFloat(v any) float64 {
	var f float64
	var err error

	switch value := v.(type) {
	case nil:
		return 0.0
	case float64:
		f = value
	case float32:
		f = float64(value)
	case int:
		f = float64(value)
	case int64:
		f = float64(value)
	case json.Number:
		f, err = value.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
	default:
		return 0.0
	}

	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}

	return f
}

// canonicalStatus trims numeric statuses to their integer form and lower
// cases textual ones so "1", 1 and "1.0" compare equal.
func canonicalStatus(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
		return strconv.Itoa(int(f))
	}

	return strings.ToLower(s)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func timestamp(raw map[string]any, keys ...string) time.Time {
	v, ok := lookup(raw, keys...)
	if !ok {
		return time.Time{}
	}

	// some device classes carry {time: <epoch millis>, ...} objects
	if obj, ok := v.(map[string]any); ok {
		v, ok = lookup(obj, "time")
		if !ok {
			return time.Time{}
		}
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC()
			}
		}
	}

	ms := parseFloat(v)
	if ms <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(int64(ms)).UTC()
}

func truncate(f float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Trunc(f*p) / p
}
