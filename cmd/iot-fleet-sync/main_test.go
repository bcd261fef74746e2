package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/fleetsync"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-fleet-sync/internal/pkg/presentation/api"
	"github.com/diwise/iot-fleet-sync/pkg/types"
	"github.com/matryer/is"
)

func TestEnvironmentOverridesDefaults(t *testing.T) {
	is := is.New(t)

	t.Setenv("SERVICE_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "db.local")

	flags := parseExternalConfig(defaultFlags())
	is.Equal("9090", flags[servicePort])
	is.Equal("db.local", flags[dbHost])
	is.Equal("0.0.0.0", flags[listenAddress])
}

func TestCommandLineOverridesEnvironment(t *testing.T) {
	is := is.New(t)

	t.Setenv("LOG_LEVEL", "warn")

	flags := defaultFlags()
	root := newRootCmd(context.Background(), flags)
	root.SetOut(io.Discard)
	root.SetArgs([]string{"version", "--log-level", "debug"})

	is.NoErr(root.Execute())
	is.Equal("debug", flags[logLevel])
}

func TestConfigurationCredentialsFromEnvironment(t *testing.T) {
	is := is.New(t)

	flags := defaultFlags()
	flags[fleetUsername] = "fleet"
	flags[fleetPassword] = "secret"

	cfg, err := loadConfiguration(io.NopCloser(strings.NewReader(configYaml)), flags)
	is.NoErr(err)
	is.Equal("fleet", cfg.Credentials.Username)
	is.Equal("secret", cfg.Credentials.Password)
	is.Equal("https://portal.example.com", cfg.Source.BaseURL)
}

func TestServiceIsInitializedWithBootstrapJobs(t *testing.T) {
	is, server := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/health", nil)
	is.Equal(http.StatusNoContent, resp.StatusCode)

	resp, body := testRequest(is, server, http.MethodGet, "/api/v0/jobs", nil)
	is.Equal(http.StatusOK, resp.StatusCode)

	jobs := []map[string]any{}
	is.NoErr(json.Unmarshal(body, &jobs))
	is.Equal(len(fleetsync.DefaultJobs()), len(jobs))
}

func TestMetricsAreExposed(t *testing.T) {
	is, server := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/metrics", nil)
	is.Equal(http.StatusOK, resp.StatusCode)
}

func TestJobsAreListedAsTable(t *testing.T) {
	is := is.New(t)

	next := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	out := &bytes.Buffer{}

	printJobs(out, []types.Job{
		{ID: "collect_plants_data", Trigger: "interval[1h0m0s]", NextRun: &next},
		{ID: "send_offline_notifications", Trigger: "cron[0 */2 * * *]", Paused: true, LastError: "boom"},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	is.True(len(lines) >= 3)
	is.True(strings.Contains(lines[0], "NEXT RUN"))
	is.True(strings.Contains(out.String(), "2024-05-01T13:00:00Z"))
	is.True(strings.Contains(out.String(), "scheduled"))
	is.True(strings.Contains(out.String(), "paused"))
	is.True(strings.Contains(out.String(), "boom"))
}

func setupTest(t *testing.T) (*is.I, *httptest.Server) {
	is := is.New(t)
	ctx := logging.Discard(context.Background())

	db, err := database.NewSQLiteConnector(ctx)()
	is.NoErr(err)

	cfg, err := fleetsync.LoadConfiguration(strings.NewReader(configYaml))
	is.NoErr(err)

	app, err := initialize(ctx, db, fleetsource.NewHTTPSource(cfg.Source), cfg)
	is.NoErr(err)

	r := api.RegisterHandlers(ctx, router.New("testService"), app.scheduler, app.service, "")

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return is, server
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, []byte) {
	req, _ := http.NewRequest(method, ts.URL+path, body)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	is.NoErr(err)

	return resp, bytes.TrimSpace(respBody)
}

const configYaml string = `
source:
  baseURL: https://portal.example.com
notifications:
  cooldown: 2h
`
