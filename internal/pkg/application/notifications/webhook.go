package notifications

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type WebhookConfig struct {
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`
	TokenURL     string            `yaml:"tokenURL"`
	ClientID     string            `yaml:"clientID"`
	ClientSecret string            `yaml:"clientSecret"`
	Scopes       []string          `yaml:"scopes"`
}

type webhookChannel struct {
	url    string
	client *resty.Client
}

type webhookPayload struct {
	Text    string  `json:"text"`
	Message Message `json:"notification"`
}

// NewWebhookChannel posts notifications as JSON to a chat bot endpoint.
// When a token URL is configured requests carry an OAuth2 client
// credentials token.
func NewWebhookChannel(ctx context.Context, cfg WebhookConfig) (Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}

	if cfg.TokenURL != "" {
		oauthConfig := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}

		httpClient = oauthConfig.Client(context.WithValue(ctx, oauth2.HTTPClient, httpClient))
		httpClient.Timeout = timeout
	}

	client := resty.NewWithClient(httpClient).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers)

	return &webhookChannel{url: cfg.URL, client: client}, nil
}

func (w *webhookChannel) Name() string {
	return "webhook"
}

func (w *webhookChannel) Send(ctx context.Context, msg Message) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Text: msg.Subject + "\n" + msg.Body, Message: msg}).
		Post(w.url)
	if err != nil {
		return err
	}

	if resp.IsError() {
		return fmt.Errorf("webhook responded with status code %d", resp.StatusCode())
	}

	return nil
}
