package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-fleet-sync/pkg/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("job is already running")
var ErrUnauthorized = errors.New("unauthorized")

type JobsClient interface {
	List(ctx context.Context) ([]types.Job, error)
	Get(ctx context.Context, id string) (types.Job, error)
	Pause(ctx context.Context, id string) (types.Job, error)
	Resume(ctx context.Context, id string) (types.Job, error)
	Run(ctx context.Context, id string) (types.JobRun, error)
	Remove(ctx context.Context, id string) error
	Notify(ctx context.Context, req types.NotificationRequest) (types.NotificationReport, error)
}

type jobsClient struct {
	url        string
	token      string
	httpClient http.Client
}

var tracer = otel.Tracer("iot-fleet-sync-client")

// New returns a client for the control api at baseURL. The token is sent as
// a bearer token when set.
func New(baseURL, token string) JobsClient {
	return &jobsClient{
		url:   strings.TrimSuffix(baseURL, "/"),
		token: token,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *jobsClient) List(ctx context.Context) ([]types.Job, error) {
	jobs := []types.Job{}
	err := c.do(ctx, "list-jobs", http.MethodGet, "/api/v0/jobs", nil, &jobs)
	return jobs, err
}

func (c *jobsClient) Get(ctx context.Context, id string) (types.Job, error) {
	job := types.Job{}
	err := c.do(ctx, "get-job", http.MethodGet, jobPath(id, ""), nil, &job)
	return job, err
}

func (c *jobsClient) Pause(ctx context.Context, id string) (types.Job, error) {
	job := types.Job{}
	err := c.do(ctx, "pause-job", http.MethodPost, jobPath(id, "pause"), nil, &job)
	return job, err
}

func (c *jobsClient) Resume(ctx context.Context, id string) (types.Job, error) {
	job := types.Job{}
	err := c.do(ctx, "resume-job", http.MethodPost, jobPath(id, "resume"), nil, &job)
	return job, err
}

func (c *jobsClient) Run(ctx context.Context, id string) (types.JobRun, error) {
	run := types.JobRun{}
	err := c.do(ctx, "run-job", http.MethodPost, jobPath(id, "run"), nil, &run)
	return run, err
}

func (c *jobsClient) Remove(ctx context.Context, id string) error {
	return c.do(ctx, "remove-job", http.MethodDelete, jobPath(id, ""), nil, nil)
}

func (c *jobsClient) Notify(ctx context.Context, req types.NotificationRequest) (types.NotificationReport, error) {
	report := types.NotificationReport{}
	err := c.do(ctx, "force-notification", http.MethodPost, "/api/v0/notifications", req, &report)
	return report, err
}

func jobPath(id, action string) string {
	p := "/api/v0/jobs/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *jobsClient) do(ctx context.Context, operation, method, path string, body, result any) (err error) {
	ctx, span := tracer.Start(ctx, operation)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		err = fmt.Errorf("failed to create http request: %w", err)
		return err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("request to %s failed: %w", path, err)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read response body: %w", err)
		return err
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusBadGateway {
		log.Error().Msgf("request failed with status code %d", resp.StatusCode)
		return fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	err = json.Unmarshal(respBody, result)
	if err != nil {
		err = fmt.Errorf("failed to unmarshal response body: %w", err)
		return err
	}

	return nil
}
