package fleetsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// FleetSource is the vendor monitoring portal as seen by the sync engine.
// Every method may fail with ErrTransient, ErrUpstreamFormat or ErrSessionExpired.
type FleetSource interface {
	Login(ctx context.Context, creds Credentials) error
	GetPlants(ctx context.Context) ([]PlantRaw, error)
	GetDevices(ctx context.Context, plantID string, page int) (json.RawMessage, error)
	GetStatus(ctx context.Context, plantID, deviceSN string) (RawStatus, error)
}

type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PlantRaw map[string]any
type RawStatus map[string]any

var ErrTransient = fmt.Errorf("transient upstream failure")
var ErrUpstreamFormat = fmt.Errorf("unexpected upstream response format")
var ErrSessionExpired = fmt.Errorf("upstream session expired")
var ErrRequest = fmt.Errorf("upstream rejected request")
var ErrAuthentication = fmt.Errorf("upstream authentication failed")

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// ErrorFromStatusCode maps an HTTP status to the error taxonomy, nil for 2xx.
func ErrorFromStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: status code %d", ErrTransient, code)
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: status code %d", ErrSessionExpired, code)
	default:
		return fmt.Errorf("%w: status code %d", ErrRequest, code)
	}
}

var htmlMarkers = [][]byte{[]byte("<!doctype html"), []byte("<html")}
var loginMarkers = [][]byte{[]byte("login"), []byte("password"), []byte("sign in")}

// LooksLikeLoginPage reports whether body is an HTML page asking for credentials.
func LooksLikeLoginPage(body []byte) bool {
	lower := bytes.ToLower(body)

	html := false
	for _, m := range htmlMarkers {
		if bytes.Contains(lower, m) {
			html = true
			break
		}
	}
	if !html {
		return false
	}

	for _, m := range loginMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}

	return false
}

// CheckBody returns ErrSessionExpired for a login page, ErrUpstreamFormat
// for any other body that is not valid JSON and nil otherwise.
func CheckBody(body []byte) error {
	if json.Valid(body) {
		return nil
	}

	if LooksLikeLoginPage(body) {
		return ErrSessionExpired
	}

	return fmt.Errorf("%w: body is not json (%d bytes)", ErrUpstreamFormat, len(body))
}
