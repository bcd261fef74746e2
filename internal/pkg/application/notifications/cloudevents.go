package notifications

import (
	"context"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"golang.org/x/sys/unix"
)

const eventSource string = "github.com/diwise/iot-fleet-sync"

type SubscriberConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Types    []string `yaml:"types"`
}

type CloudEventsConfig struct {
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type cloudEventsChannel struct {
	client      cloudevents.Client
	subscribers []SubscriberConfig
}

func NewCloudEventsChannel(cfg CloudEventsConfig) (Channel, error) {
	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, err
	}

	return &cloudEventsChannel{client: c, subscribers: cfg.Subscribers}, nil
}

func (e *cloudEventsChannel) Name() string {
	return "cloudevents"
}

// Send delivers the notification to every subscriber of its type. The send
// fails if any subscriber did not acknowledge the event.
func (e *cloudEventsChannel) Send(ctx context.Context, msg Message) error {
	event := cloudevents.NewEvent()
	event.SetID(msg.ID)
	event.SetTime(msg.CreatedAt)
	event.SetSource(eventSource)
	event.SetType("fleetsync.device." + msg.Type)
	event.SetSubject(msg.Target.SerialNumber)

	if err := event.SetData(cloudevents.ApplicationJSON, msg); err != nil {
		return err
	}

	logger := logging.GetLoggerFromContext(ctx)

	var errs []error

	for _, s := range e.subscribers {
		if !subscribes(s, msg.Type) {
			continue
		}

		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := e.client.Send(ctxWithTarget, event)
		if errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("subscriber %s refused connection", s.Endpoint)
		}
		if cloudevents.IsUndelivered(result) || !cloudevents.IsACK(result) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
			errs = append(errs, fmt.Errorf("%s: %w", s.Endpoint, result))
		}
	}

	return errors.Join(errs...)
}

func subscribes(s SubscriberConfig, notificationType string) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == notificationType {
			return true
		}
	}
	return false
}
