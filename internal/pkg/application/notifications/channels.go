package notifications

import (
	"context"

	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
)

type logChannel struct{}

// NewLogChannel returns a channel that writes notifications to the log.
func NewLogChannel() Channel {
	return &logChannel{}
}

func (l *logChannel) Name() string {
	return "log"
}

func (l *logChannel) Send(ctx context.Context, msg Message) error {
	log := logging.GetLoggerFromContext(ctx)
	log.Warn().
		Str("notification_id", msg.ID).
		Str("serial", msg.Target.SerialNumber).
		Str("subject", msg.Subject).
		Msg(msg.Body)

	return nil
}
