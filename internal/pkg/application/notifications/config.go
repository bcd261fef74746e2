package notifications

import (
	"context"
	"fmt"
	"time"
)

type Config struct {
	Cooldown  time.Duration            `yaml:"cooldown"`
	Cooldowns map[string]time.Duration `yaml:"cooldowns"`
	Channels  []string                 `yaml:"channels"`
	Templates map[string]Template      `yaml:"templates"`

	Email       *EmailConfig       `yaml:"email"`
	Webhook     *WebhookConfig     `yaml:"webhook"`
	CloudEvents *CloudEventsConfig `yaml:"cloudevents"`
	AMQP        *AMQPConfig        `yaml:"amqp"`
}

func DefaultConfig() Config {
	return Config{
		Cooldown:  time.Hour,
		Cooldowns: map[string]time.Duration{},
		Channels:  []string{},
		Templates: map[string]Template{},
	}
}

// CooldownFor returns the cooldown of a notification type, falling back to
// the common cooldown.
func (c Config) CooldownFor(notificationType string) time.Duration {
	if d, ok := c.Cooldowns[notificationType]; ok {
		return d
	}
	return c.Cooldown
}

// NewChannels creates every channel that has a configuration section. The
// log channel is always available.
func NewChannels(ctx context.Context, cfg Config) ([]Channel, error) {
	channels := []Channel{NewLogChannel()}

	if cfg.Email != nil {
		channels = append(channels, NewEmailChannel(*cfg.Email))
	}

	if cfg.Webhook != nil {
		ch, err := NewWebhookChannel(ctx, *cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook channel: %w", err)
		}
		channels = append(channels, ch)
	}

	if cfg.CloudEvents != nil {
		ch, err := NewCloudEventsChannel(*cfg.CloudEvents)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloudevents channel: %w", err)
		}
		channels = append(channels, ch)
	}

	if cfg.AMQP != nil {
		ch, err := NewAMQPChannel(*cfg.AMQP)
		if err != nil {
			return nil, fmt.Errorf("failed to create amqp channel: %w", err)
		}
		channels = append(channels, ch)
	}

	return channels, nil
}
