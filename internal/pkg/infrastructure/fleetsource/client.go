package fleetsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/tracing"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("iot-fleet-sync/fleetsource")

type Config struct {
	BaseURL     string        `yaml:"baseURL"`
	LoginPath   string        `yaml:"loginPath"`
	PlantsPath  string        `yaml:"plantsPath"`
	DevicesPath string        `yaml:"devicesPath"`
	StatusPath  string        `yaml:"statusPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		LoginPath:   "/login",
		PlantsPath:  "/index/getPlantListTitle",
		DevicesPath: "/panel/getDevicesByPlantList",
		StatusPath:  "/panel/getDeviceInfo",
		Timeout:     30 * time.Second,
	}
}

type httpSource struct {
	cfg    Config
	client *resty.Client
}

// NewHTTPSource returns a FleetSource talking to the vendor portal over
// HTTP. The session is kept in the client's cookie jar.
func NewHTTPSource(cfg Config) FleetSource {
	def := DefaultConfig()
	if cfg.LoginPath == "" {
		cfg.LoginPath = def.LoginPath
	}
	if cfg.PlantsPath == "" {
		cfg.PlantsPath = def.PlantsPath
	}
	if cfg.DevicesPath == "" {
		cfg.DevicesPath = def.DevicesPath
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = def.StatusPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json")

	return &httpSource{
		cfg:    cfg,
		client: client,
	}
}

func (s *httpSource) Login(ctx context.Context, creds Credentials) error {
	var err error
	ctx, span := tracer.Start(ctx, "login")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)

	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"account":  creds.Username,
			"password": creds.Password,
		}).
		Post(s.cfg.LoginPath)
	if err != nil {
		err = s.requestError(ctx, err)
		return err
	}

	if err = ErrorFromStatusCode(resp.StatusCode()); err != nil {
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrRequest) {
			err = fmt.Errorf("%w: %s", ErrAuthentication, err.Error())
		}
		return err
	}

	result := map[string]any{}
	if err = json.Unmarshal(resp.Body(), &result); err != nil {
		err = fmt.Errorf("%w: login response: %s", ErrUpstreamFormat, err.Error())
		return err
	}

	if !loginAccepted(result) {
		err = fmt.Errorf("%w: credentials rejected for %s", ErrAuthentication, creds.Username)
		return err
	}

	log.Debug().Str("account", creds.Username).Msg("logged in to fleet portal")

	return nil
}

func loginAccepted(result map[string]any) bool {
	if r, ok := result["result"]; ok {
		return fmt.Sprint(r) == "1"
	}
	if s, ok := result["success"].(bool); ok {
		return s
	}
	if back, ok := result["back"].(map[string]any); ok {
		if s, ok := back["success"].(bool); ok {
			return s
		}
	}
	return false
}

func (s *httpSource) GetPlants(ctx context.Context) ([]PlantRaw, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-plants")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp, err := s.client.R().SetContext(ctx).Get(s.cfg.PlantsPath)
	if err != nil {
		err = s.requestError(ctx, err)
		return nil, err
	}

	body, err := s.checkResponse(resp)
	if err != nil {
		return nil, err
	}

	var plants []PlantRaw
	if err = json.Unmarshal(body, &plants); err == nil {
		return plants, nil
	}

	wrapped := map[string]json.RawMessage{}
	if err = json.Unmarshal(body, &wrapped); err != nil {
		err = fmt.Errorf("%w: plant list: %s", ErrUpstreamFormat, err.Error())
		return nil, err
	}

	for _, key := range []string{"datas", "obj", "data"} {
		if raw, ok := wrapped[key]; ok {
			if err = json.Unmarshal(raw, &plants); err == nil {
				return plants, nil
			}
		}
	}

	err = fmt.Errorf("%w: plant list not found in response", ErrUpstreamFormat)
	return nil, err
}

func (s *httpSource) GetDevices(ctx context.Context, plantID string, page int) (json.RawMessage, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-devices")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"plantId":  plantID,
			"currPage": strconv.Itoa(page),
		}).
		Post(s.cfg.DevicesPath)
	if err != nil {
		err = s.requestError(ctx, err)
		return nil, err
	}

	body, err := s.checkResponse(resp)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(body), nil
}

func (s *httpSource) GetStatus(ctx context.Context, plantID, deviceSN string) (RawStatus, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-status")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"plantId":  plantID,
			"deviceSn": deviceSN,
		}).
		Get(s.cfg.StatusPath)
	if err != nil {
		err = s.requestError(ctx, err)
		return nil, err
	}

	body, err := s.checkResponse(resp)
	if err != nil {
		return nil, err
	}

	status := RawStatus{}
	if err = json.Unmarshal(body, &status); err != nil {
		err = fmt.Errorf("%w: device status: %s", ErrUpstreamFormat, err.Error())
		return nil, err
	}

	if obj, ok := status["obj"].(map[string]any); ok {
		return RawStatus(obj), nil
	}

	return status, nil
}

func (s *httpSource) checkResponse(resp *resty.Response) ([]byte, error) {
	body := resp.Body()

	if err := ErrorFromStatusCode(resp.StatusCode()); err != nil {
		return nil, err
	}

	if err := CheckBody(body); err != nil {
		return nil, err
	}

	return body, nil
}

// requestError classifies transport level failures. Cancellation by the
// caller is returned as is, everything else is considered transient.
func (s *httpSource) requestError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s", ErrTransient, err.Error())
}
