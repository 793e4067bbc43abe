package facilitator

import (
	"time"

	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
)

type Option func(*Facilitator)

func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		f.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(f *Facilitator) {
		f.rec = r
	}
}

// WithDistributionTimeout bounds the secondary distribution leg.
func WithDistributionTimeout(t time.Duration) Option {
	return func(f *Facilitator) {
		f.timeout = t
	}
}
