package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
)

// typedKeys are the per device class arrays of the typed page shape, in the
// order their devices are emitted.
var typedKeys = []string{"mix", "inv", "tlx", "max", "storage"}

type pageDecoder func(envelope map[string]json.RawMessage) (Page, bool, error)

// DecodePage detects which of the known upstream shapes raw is and decodes
// it. An object in none of the known shapes decodes to an empty single page.
func DecodePage(raw []byte) (Page, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return Page{}, fmt.Errorf("%w: empty page", fleetsource.ErrUpstreamFormat)
	}

	if err := fleetsource.CheckBody(body); err != nil {
		return Page{}, err
	}

	if body[0] != '{' {
		return Page{}, fmt.Errorf("%w: page is not an object: %.32s", fleetsource.ErrUpstreamFormat, string(body))
	}

	envelope := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, fmt.Errorf("%w: %s", fleetsource.ErrUpstreamFormat, err.Error())
	}

	if len(envelope) == 0 {
		return Page{}, fmt.Errorf("%w: empty page", fleetsource.ErrUpstreamFormat)
	}

	for _, decode := range []pageDecoder{decodeLegacy, decodeFlat, decodeTyped} {
		page, ok, err := decode(envelope)
		if err != nil {
			return Page{}, err
		}
		if ok {
			return page, nil
		}
	}

	return Page{Shape: ShapeUnknown}, nil
}

// decodeLegacy handles {obj: {datas: [...], pageCount|totalPage|totalCount+pageSize}}
func decodeLegacy(envelope map[string]json.RawMessage) (Page, bool, error) {
	obj, ok := object(envelope["obj"])
	if !ok {
		return Page{}, false, nil
	}

	datas, ok := obj["datas"]
	if !ok {
		return Page{}, false, nil
	}

	devices, err := decodeDevices(datas)
	if err != nil {
		return Page{}, false, err
	}

	meta := map[string]any{}
	for k, v := range obj {
		if k == "datas" {
			continue
		}
		var value any
		if unmarshal(v, &value) == nil {
			meta[k] = value
		}
	}

	total := int(number(meta, "pageCount", "totalPage"))
	if total <= 0 {
		count := number(meta, "totalCount")
		size := number(meta, "pageSize")
		if count > 0 && size > 0 {
			total = int(math.Ceil(count / size))
		}
	}

	return Page{Shape: ShapeLegacy, Devices: devices, TotalPages: total}, true, nil
}

// decodeFlat handles {datas: [...], pages: N}
func decodeFlat(envelope map[string]json.RawMessage) (Page, bool, error) {
	datas, ok := envelope["datas"]
	if !ok {
		return Page{}, false, nil
	}

	devices, err := decodeDevices(datas)
	if err != nil {
		return Page{}, false, err
	}

	var pages any
	unmarshal(envelope["pages"], &pages)

	return Page{Shape: ShapeFlat, Devices: devices, TotalPages: int(parseFloat(pages))}, true, nil
}

// decodeTyped handles {obj: {mix: [...], inv: [...], tlx: [...], max: [...], storage: [...]}}
func decodeTyped(envelope map[string]json.RawMessage) (Page, bool, error) {
	obj, ok := object(envelope["obj"])
	if !ok {
		return Page{}, false, nil
	}

	found := false
	devices := []RawDevice{}

	for _, key := range typedKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		found = true

		typed, err := decodeDevices(raw)
		if err != nil {
			return Page{}, false, err
		}

		for _, d := range typed {
			if _, ok := lookup(d, "deviceType"); !ok {
				d["deviceType"] = key
			}
			devices = append(devices, d)
		}
	}

	if !found {
		return Page{}, false, nil
	}

	return Page{Shape: ShapeTyped, Devices: devices}, true, nil
}

func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}

	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}

	return obj, true
}

func decodeDevices(raw json.RawMessage) ([]RawDevice, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []RawDevice{}, nil
	}

	devices := []RawDevice{}
	if err := unmarshal(raw, &devices); err != nil {
		return nil, fmt.Errorf("%w: device list: %s", fleetsource.ErrUpstreamFormat, err.Error())
	}

	// null entries carry nothing to normalize
	result := devices[:0]
	for _, d := range devices {
		if d != nil {
			result = append(result, d)
		}
	}

	return result, nil
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("no data")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
