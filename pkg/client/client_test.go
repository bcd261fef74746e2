package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/iot-fleet-sync/pkg/types"
	"github.com/matryer/is"
)

func TestListJobs(t *testing.T) {
	is := is.New(t)

	var authorization string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal("/api/v0/jobs", r.URL.Path)
		authorization = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"collect_devices_data","kind":"interval","trigger":"every 5m0s","target":"collect_devices_data","paused":false,"running":false}]`))
	}))
	defer srv.Close()

	jobs, err := New(srv.URL, "t0k3n").List(context.Background())
	is.NoErr(err)
	is.Equal(1, len(jobs))
	is.Equal("collect_devices_data", jobs[0].ID)
	is.Equal("Bearer t0k3n", authorization)
}

func TestRunJob(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(http.MethodPost, r.Method)
		is.Equal("/api/v0/jobs/collect_plants_data/run", r.URL.Path)
		w.Write([]byte(`{"jobID":"collect_plants_data","runID":"1","summary":{"plants":2}}`))
	}))
	defer srv.Close()

	run, err := New(srv.URL+"/", "").Run(context.Background(), "collect_plants_data")
	is.NoErr(err)
	is.Equal(2, run.Summary["plants"])
}

func TestStatusCodesAreMappedToErrors(t *testing.T) {
	is := is.New(t)

	code := http.StatusNotFound

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ctx := context.Background()

	_, err := c.Get(ctx, "nope")
	is.True(errors.Is(err, ErrNotFound))

	code = http.StatusConflict
	_, err = c.Run(ctx, "busy")
	is.True(errors.Is(err, ErrConflict))

	code = http.StatusUnauthorized
	is.True(errors.Is(c.Remove(ctx, "x"), ErrUnauthorized))

	code = http.StatusNoContent
	is.NoErr(c.Remove(ctx, "x"))
}

func TestNotifySendsRequest(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		req := types.NotificationRequest{}
		is.NoErr(json.Unmarshal(b, &req))
		is.Equal("A1", req.SerialNumber)
		is.Equal("application/json", r.Header.Get("Content-Type"))

		w.Write([]byte(`{"serialNumber":"A1","type":"offline","results":[{"channel":"email","outcome":"sent"}]}`))
	}))
	defer srv.Close()

	report, err := New(srv.URL, "").Notify(context.Background(), types.NotificationRequest{SerialNumber: "A1"})
	is.NoErr(err)
	is.Equal("sent", report.Results[0].Outcome)
}
