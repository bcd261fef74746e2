package fetch

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/metrics"
)

// exponential waits unit * factor^attempt before retry number attempt+1.
type exponential struct {
	unit    time.Duration
	factor  float64
	attempt int
}

func (e *exponential) NextBackOff() time.Duration {
	d := time.Duration(float64(e.unit) * math.Pow(e.factor, float64(e.attempt)))
	e.attempt++
	return d
}

func (e *exponential) Reset() {
	e.attempt = 0
}

// retry calls fn until it succeeds, fails with a non transient error or the
// configured number of attempts is used up.
func (c *Coordinator) retry(ctx context.Context, operation string, fn func() error) error {
	log := logging.GetLoggerFromContext(ctx)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&exponential{unit: c.cfg.BackoffUnit, factor: c.cfg.BackoffFactor}, uint64(c.cfg.MaxAttempts-1)),
		ctx,
	)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !fleetsource.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		metrics.FetchRetries.WithLabelValues(operation).Inc()
		log.Warn().Err(err).Str("operation", operation).Dur("wait", wait).Msg("transient upstream failure, retrying")
	})
}
