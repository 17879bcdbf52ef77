package engine

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/stepflow-dev/stepflow/events"
)

// RetryPolicy controls the delay before a failed step is retried. With a
// zero InitialInterval failed steps re-enter the ready set immediately.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Delay returns the backoff delay before the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialInterval <= 0 || attempt <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = p.Multiplier
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	return delay
}

type Options struct {
	// MaxConcurrentWorkflows bounds the number of simultaneously active
	// workflows. Requests beyond the bound are rejected, not queued.
	MaxConcurrentWorkflows int

	// PollingInterval is the supervisory loop tick.
	PollingInterval time.Duration

	// PausePollInterval is the tick used while a workflow is paused.
	PausePollInterval time.Duration

	RetryPolicy RetryPolicy

	Logger *slog.Logger

	Publisher events.Publisher

	Clock clock.Clock
}

var DefaultOptions = Options{
	MaxConcurrentWorkflows: 10,
	PollingInterval:        100 * time.Millisecond,
	PausePollInterval:      time.Second,
	RetryPolicy: RetryPolicy{
		Multiplier: 2,
	},
}

func applyDefaults(options *Options) *Options {
	if options == nil {
		o := DefaultOptions
		options = &o
	}

	if options.MaxConcurrentWorkflows <= 0 {
		options.MaxConcurrentWorkflows = DefaultOptions.MaxConcurrentWorkflows
	}
	if options.PollingInterval <= 0 {
		options.PollingInterval = DefaultOptions.PollingInterval
	}
	if options.PausePollInterval <= 0 {
		options.PausePollInterval = DefaultOptions.PausePollInterval
	}
	if options.RetryPolicy.Multiplier <= 0 {
		options.RetryPolicy.Multiplier = DefaultOptions.RetryPolicy.Multiplier
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Publisher == nil {
		options.Publisher = events.NewNoopPublisher()
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}

	return options
}
