package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	"github.com/matryer/is"
)

func TestAllDeclaredPagesAreFetched(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.pages["P1"] = []string{
		`{"obj":{"pageCount":3,"datas":[{"deviceSn":"A1"},{"deviceSn":"A2"}]}}`,
		`{"obj":{"pageCount":3,"datas":[{"deviceSn":"A3"}]}}`,
		`{"obj":{"pageCount":3,"datas":[{"deviceSn":"A4"}]}}`,
	}

	snapshot, err := c.SyncFleet(ctx, []string{"P1"})
	is.NoErr(err)
	is.Equal(0, len(snapshot.Errors))
	is.Equal(4, len(snapshot.Devices))
	is.Equal("A1", snapshot.Devices[0].SerialNumber)
	is.Equal("A4", snapshot.Devices[3].SerialNumber)
	is.Equal(int32(3), src.calls("devices:P1"))
}

func TestUndeclaredPageCountIsSinglePage(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.pages["P1"] = []string{
		`{"datas":[{"deviceSn":"A1"}]}`,
		`{"datas":[{"deviceSn":"A2"}]}`,
	}

	snapshot, err := c.SyncFleet(ctx, []string{"P1"})
	is.NoErr(err)
	is.Equal(1, len(snapshot.Devices))
	is.Equal(int32(1), src.calls("devices:P1"))
}

func TestDeclaredPagesAreCapped(t *testing.T) {
	is, ctx, src, _ := testSetup(t)

	src.pages["P1"] = []string{
		`{"datas":[{"deviceSn":"A1"}],"pages":500}`,
		`{"datas":[{"deviceSn":"A2"}],"pages":500}`,
	}

	c := New(src, Config{MaxPages: 2, BackoffUnit: time.Millisecond})

	snapshot, err := c.SyncFleet(ctx, []string{"P1"})
	is.NoErr(err)
	is.Equal(2, len(snapshot.Devices))
	is.Equal(int32(2), src.calls("devices:P1"))

	is.Equal(1, len(snapshot.Errors))
	is.Equal("P1", snapshot.Errors[0].PlantID)
	is.True(errors.Is(snapshot.Errors[0].Err, ErrPageLimit))
}

func TestBadPageIsRecordedAndEarlierPagesKept(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.pages["P1"] = []string{
		`{"obj":{"pageCount":3,"datas":[{"deviceSn":"A1"}]}}`,
		`0`,
	}
	src.pages["P2"] = []string{
		`{"datas":[{"deviceSn":"B1"}]}`,
	}

	snapshot, err := c.SyncFleet(ctx, []string{"P1", "P2"})
	is.NoErr(err)
	is.Equal(2, len(snapshot.Devices))
	is.Equal(1, len(snapshot.Errors))
	is.Equal("P1", snapshot.Errors[0].PlantID)
	is.True(errors.Is(snapshot.Errors[0].Err, fleetsource.ErrUpstreamFormat))
}

func TestTransientFailuresAreRetried(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.pages["P1"] = []string{`{"datas":[{"deviceSn":"A1"}]}`}
	src.failures["devices:P1"] = []error{fleetsource.ErrTransient, fleetsource.ErrTransient}

	snapshot, err := c.SyncFleet(ctx, []string{"P1"})
	is.NoErr(err)
	is.Equal(1, len(snapshot.Devices))
	is.Equal(int32(3), src.calls("devices:P1"))
}

func TestRetriesAreBoundedAndOtherPlantsSurvive(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.pages["P1"] = []string{`{"datas":[{"deviceSn":"A1"}]}`}
	src.pages["P2"] = []string{`{"datas":[{"deviceSn":"B1"}]}`}
	src.failures["devices:P1"] = []error{fleetsource.ErrTransient, fleetsource.ErrTransient, fleetsource.ErrTransient, fleetsource.ErrTransient}

	snapshot, err := c.SyncFleet(ctx, []string{"P1", "P2"})
	is.NoErr(err)
	is.Equal(int32(3), src.calls("devices:P1")) // default attempts
	is.Equal(1, len(snapshot.Devices))
	is.Equal("B1", snapshot.Devices[0].SerialNumber)
	is.Equal(1, len(snapshot.Errors))
	is.True(errors.Is(snapshot.Errors[0].Err, fleetsource.ErrTransient))
}

func TestNonTransientFailuresAreNotRetried(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.pages["P1"] = []string{`{"datas":[{"deviceSn":"A1"}]}`}
	src.failures["devices:P1"] = []error{fleetsource.ErrRequest}

	snapshot, err := c.SyncFleet(ctx, []string{"P1"})
	is.NoErr(err)
	is.Equal(int32(1), src.calls("devices:P1"))
	is.True(errors.Is(snapshot.Errors[0].Err, fleetsource.ErrRequest))
}

func TestSessionExpiryIsReportedWithPartialSnapshot(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.pages["P1"] = []string{`{"datas":[{"deviceSn":"A1"}]}`}
	src.pages["P2"] = []string{`<!DOCTYPE html><html><form>login password</form></html>`}

	snapshot, err := c.SyncFleet(ctx, []string{"P1", "P2"})
	is.True(errors.Is(err, fleetsource.ErrSessionExpired))
	is.Equal(int32(1), src.calls("devices:P2")) // not retried
	is.Equal(1, len(snapshot.Devices))
	is.Equal(1, len(snapshot.Errors))
}

func TestAllPlantsAreSyncedWhenNoneAreRequested(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.plants = []fleetsource.PlantRaw{
		{"id": "P2", "plantName": "Barn"},
		{"id": "P1", "plantName": "Roof"},
	}
	src.pages["P1"] = []string{`{"datas":[{"deviceSn":"A1"}]}`}
	src.pages["P2"] = []string{`{"datas":[{"deviceSn":"B1"}]}`}

	snapshot, err := c.SyncFleet(ctx, nil)
	is.NoErr(err)
	is.Equal(2, len(snapshot.Plants))
	is.Equal(2, len(snapshot.Devices))
	is.Equal("P1", snapshot.Devices[0].PlantID) // plant id order
}

func TestRequestedPlantsFilterPlantRecords(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.plants = []fleetsource.PlantRaw{{"id": "P1"}, {"id": "P2"}}
	src.pages["P2"] = []string{`{"datas":[]}`}

	snapshot, err := c.SyncFleet(ctx, []string{"P2"})
	is.NoErr(err)
	is.Equal(1, len(snapshot.Plants))
	is.Equal("P2", snapshot.Plants[0].ID)
}

func TestPlantListFailureIsFatalWithoutRequestedPlants(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.failures["plants"] = []error{fleetsource.ErrRequest}

	_, err := c.SyncFleet(ctx, nil)
	is.True(errors.Is(err, fleetsource.ErrRequest))
}

func TestInnerPoolIsBoundedByPlantCount(t *testing.T) {
	is, ctx, src, _ := testSetup(t)

	for _, id := range []string{"P1", "P2", "P3"} {
		src.pages[id] = []string{`{"datas":[{"deviceSn":"` + id + `-1"}]}`}
	}
	src.delay = 20 * time.Millisecond

	c := New(src, Config{MaxWorkers: 10, BackoffUnit: time.Millisecond})

	snapshot, err := c.SyncFleet(ctx, []string{"P1", "P2", "P3"})
	is.NoErr(err)
	is.Equal(3, len(snapshot.Devices))
	is.True(atomic.LoadInt32(&src.maxConcurrent) <= 3)
}

func TestInnerPoolIsBoundedByMaxWorkers(t *testing.T) {
	is, ctx, src, _ := testSetup(t)

	ids := []string{}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("P%d", i)
		ids = append(ids, id)
		src.pages[id] = []string{`{"datas":[]}`}
	}
	src.delay = 20 * time.Millisecond

	c := New(src, Config{MaxWorkers: 2, BackoffUnit: time.Millisecond})

	_, err := c.SyncFleet(ctx, ids)
	is.NoErr(err)
	is.True(atomic.LoadInt32(&src.maxConcurrent) <= 2)
}

func TestBackoffGrowsByFactor(t *testing.T) {
	is := is.New(t)

	b := &exponential{unit: time.Second, factor: 2}
	is.Equal(time.Second, b.NextBackOff())
	is.Equal(2*time.Second, b.NextBackOff())
	is.Equal(4*time.Second, b.NextBackOff())

	b.Reset()
	is.Equal(time.Second, b.NextBackOff())
}

func TestStatus(t *testing.T) {
	is, ctx, src, c := testSetup(t)

	src.statuses["A1"] = fleetsource.RawStatus{"status": "0"}

	s, err := c.Status(ctx, "P1", "A1")
	is.NoErr(err)
	is.Equal("0", s)
}

type fakeSource struct {
	mu       sync.Mutex
	plants   []fleetsource.PlantRaw
	pages    map[string][]string
	statuses map[string]fleetsource.RawStatus
	failures map[string][]error
	counts   map[string]int32
	delay    time.Duration

	concurrent    int32
	maxConcurrent int32
}

func (f *fakeSource) call(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[key]++
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeSource) calls(key string) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key]
}

func (f *fakeSource) Login(ctx context.Context, creds fleetsource.Credentials) error {
	return f.call("login")
}

func (f *fakeSource) GetPlants(ctx context.Context) ([]fleetsource.PlantRaw, error) {
	if err := f.call("plants"); err != nil {
		return nil, err
	}
	return f.plants, nil
}

func (f *fakeSource) GetDevices(ctx context.Context, plantID string, page int) (json.RawMessage, error) {
	n := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)

	for {
		m := atomic.LoadInt32(&f.maxConcurrent)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxConcurrent, m, n) {
			break
		}
	}

	time.Sleep(f.delay)

	if err := f.call("devices:" + plantID); err != nil {
		return nil, err
	}

	pages := f.pages[plantID]
	if page > len(pages) {
		return json.RawMessage(`{"datas":[]}`), nil
	}

	return json.RawMessage(pages[page-1]), nil
}

func (f *fakeSource) GetStatus(ctx context.Context, plantID, deviceSN string) (fleetsource.RawStatus, error) {
	if err := f.call("status:" + deviceSN); err != nil {
		return nil, err
	}
	return f.statuses[deviceSN], nil
}

func testSetup(t *testing.T) (*is.I, context.Context, *fakeSource, *Coordinator) {
	is := is.New(t)

	src := &fakeSource{
		pages:    map[string][]string{},
		statuses: map[string]fleetsource.RawStatus{},
		failures: map[string][]error{},
		counts:   map[string]int32{},
	}

	c := New(src, Config{BackoffUnit: time.Millisecond})

	return is, context.Background(), src, c
}
