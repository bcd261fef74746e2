package normalize

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestDecodeLegacyPageWithPageCount(t *testing.T) {
	is := is.New(t)

	page, err := DecodePage([]byte(`{"result":1,"obj":{"pageCount":3,"datas":[{"deviceSn":"A1"},{"deviceSn":"A2"}]}}`))
	is.NoErr(err)
	is.Equal(ShapeLegacy, page.Shape)
	is.Equal(3, page.TotalPages)
	is.Equal(2, len(page.Devices))
}

func TestDecodeLegacyPageWithTotalCountAndPageSize(t *testing.T) {
	is := is.New(t)

	page, err := DecodePage([]byte(`{"obj":{"totalCount":"41","pageSize":20,"datas":[]}}`))
	is.NoErr(err)
	is.Equal(ShapeLegacy, page.Shape)
	is.Equal(3, page.TotalPages)
}

func TestDecodeFlatPage(t *testing.T) {
	is := is.New(t)

	page, err := DecodePage([]byte(`{"datas":[{"deviceSn":"B1"}],"pages":2}`))
	is.NoErr(err)
	is.Equal(ShapeFlat, page.Shape)
	is.Equal(2, page.TotalPages)
	is.Equal("B1", page.Devices[0]["deviceSn"])
}

func TestDecodeTypedPageTagsDeviceTypes(t *testing.T) {
	is := is.New(t)

	page, err := DecodePage([]byte(`{"obj":{"inv":[{"deviceSn":"I1"}],"mix":[{"deviceSn":"M1"}],"storage":null}}`))
	is.NoErr(err)
	is.Equal(ShapeTyped, page.Shape)
	is.Equal(0, page.TotalPages)
	is.Equal(2, len(page.Devices))
	is.Equal("mix", page.Devices[0]["deviceType"])
	is.Equal("inv", page.Devices[1]["deviceType"])
}

func TestDecodeUnknownShapeIsEmptySinglePage(t *testing.T) {
	is := is.New(t)

	page, err := DecodePage([]byte(`{"result":1,"msg":"ok"}`))
	is.NoErr(err)
	is.Equal(ShapeUnknown, page.Shape)
	is.Equal(0, len(page.Devices))
	is.Equal(0, page.TotalPages)
}

func TestDecodeRejectsEmptyAndNonObjectPages(t *testing.T) {
	is := is.New(t)

	for _, body := range []string{"", "  ", "{}", "0", "-1", `[{"deviceSn":"A1"}]`, `"error"`} {
		_, err := DecodePage([]byte(body))
		is.True(errors.Is(err, fleetsource.ErrUpstreamFormat)) // every bad body is a format error
	}
}

func TestDecodeLoginPageIsSessionExpired(t *testing.T) {
	is := is.New(t)

	_, err := DecodePage([]byte(`<html><body><form>Login <input type="password"/></form></body></html>`))
	is.True(errors.Is(err, fleetsource.ErrSessionExpired))
}

func TestDevicesMapsFieldsCaseTolerant(t *testing.T) {
	is, run := testSetup(t)

	page, err := DecodePage([]byte(`{"datas":[
		{"deviceSn":"A1","deviceAilas":"roof","deviceType":"inv","status":"1.0","vpv1":"301.5","pac":1200,"eToday":"4.2","lastUpdateTime":"2024-05-01 10:00:00"},
		{"deviceSn":"A2","status":-1,"vPv1":"n/a","eToday":null,"lastUpdateTime":{"time":1714557600000}}
	]}`))
	is.NoErr(err)

	devices := run.Devices("P1", page.Devices)
	is.Equal(2, len(devices))

	a1 := devices[0]
	is.Equal("A1", a1.SerialNumber)
	is.Equal("P1", a1.PlantID)
	is.Equal("roof", a1.Alias)
	is.Equal("1", a1.Status)
	is.Equal(301.5, a1.PVVoltage)
	is.Equal(1200.0, a1.Power)
	is.Equal(4.2, a1.EnergyToday)
	is.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), a1.LastUpdateTime)
	is.True(len(a1.RawPayload) > 0)

	a2 := devices[1]
	is.Equal("-1", a2.Status)
	is.Equal(0.0, a2.PVVoltage)
	is.Equal(0.0, a2.EnergyToday)
	is.Equal(time.UnixMilli(1714557600000).UTC(), a2.LastUpdateTime)
}

func TestDeviceIdIsUsedWhenSerialIsMissing(t *testing.T) {
	is, run := testSetup(t)

	devices := run.Devices("P1", []RawDevice{{"deviceId": "D-77"}})
	is.Equal("D-77", devices[0].SerialNumber)
	is.True(!devices[0].Synthetic)
}

func TestBlankSerialFallsThroughToNextKey(t *testing.T) {
	is, run := testSetup(t)

	devices := run.Devices("P1", []RawDevice{
		{"deviceSn": "", "sn": "REAL1"},
		{"deviceSn": "  ", "deviceId": "D-78"},
	})
	is.Equal("REAL1", devices[0].SerialNumber)
	is.True(!devices[0].Synthetic)
	is.Equal("D-78", devices[1].SerialNumber)
	is.True(!devices[1].Synthetic)
}

func TestSyntheticSerialFromDatalogger(t *testing.T) {
	is, run := testSetup(t)

	devices := run.Devices("P1", []RawDevice{{"deviceSn": "A1"}, {"datalogSn": "DL9", "deviceType": "inv"}})
	is.Equal("SYN-DL9-1", devices[1].SerialNumber)
	is.True(devices[1].Synthetic)
}

func TestSyntheticSerialFromPlantTypeAndCoordinates(t *testing.T) {
	is, run := testSetup(t)

	devices := run.Devices("P1", []RawDevice{{"deviceType": "storage", "lat": "59.3293123", "lng": 18.0686789}})
	is.Equal("SYN-P1-storage-0-59.3293_18.0686", devices[0].SerialNumber)
}

func TestSyntheticSerialIsStableAcrossRuns(t *testing.T) {
	is := is.New(t)

	raw := []RawDevice{{"datalogSn": "DL1", "deviceType": "mix"}}

	first := NewRun(zerolog.New(io.Discard)).Devices("P1", raw)
	second := NewRun(zerolog.New(io.Discard)).Devices("P1", raw)

	is.Equal(first[0].SerialNumber, second[0].SerialNumber)
}

func TestSyntheticSerialCollisionsGetSuffixes(t *testing.T) {
	is, run := testSetup(t)

	raw := []RawDevice{{"deviceType": "inv"}}

	first := run.Devices("P1", raw)
	second := run.Devices("P1", raw)
	third := run.Devices("P1", raw)

	is.Equal("SYN-P1-inv-0-0.0000_0.0000", first[0].SerialNumber)
	is.Equal("SYN-P1-inv-0-0.0000_0.0000-1", second[0].SerialNumber)
	is.Equal("SYN-P1-inv-0-0.0000_0.0000-2", third[0].SerialNumber)
}

func TestPlants(t *testing.T) {
	is, run := testSetup(t)
	now := time.Now().UTC()

	plants := run.Plants([]map[string]any{
		{"id": "P1", "plantName": "North", "nominalPower": "12.5", "status": 1},
		{"plantName": "no id"},
	}, now)

	is.Equal(1, len(plants))
	is.Equal("North", plants[0].Name)
	is.Equal(12.5, plants[0].Capacity)
	is.Equal("1", plants[0].Status)
	is.Equal(now, plants[0].LastUpdated)
}

func TestEnergy(t *testing.T) {
	is := is.New(t)

	records := Energy([]Device{{SerialNumber: "A1", PlantID: "P1", EnergyToday: 3.5, Power: 800}}, "2024-05-01")
	is.Equal(EnergyRecord{PlantID: "P1", DeviceSerial: "A1", Date: "2024-05-01", DailyEnergy: 3.5, PeakPower: 800}, records[0])
}

func TestParseFloat(t *testing.T) {
	is := is.New(t)

	is.Equal(0.0, parseFloat(nil))
	is.Equal(0.0, parseFloat("abc"))
	is.Equal(0.0, parseFloat("NaN"))
	is.Equal(0.0, parseFloat(map[string]any{}))
	is.Equal(2.5, parseFloat(" 2.5 "))
	is.Equal(7.0, parseFloat(7))
}

func testSetup(t *testing.T) (*is.I, *Run) {
	is := is.New(t)
	return is, NewRun(zerolog.New(io.Discard))
}
