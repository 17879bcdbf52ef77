package client

import (
	"log/slog"
	"time"

	"github.com/stepflow-dev/stepflow/events"
)

type Options struct {
	Logger *slog.Logger

	Publisher events.Publisher

	// StatusCacheTTL bounds how long the status of a recently finished
	// workflow is answered from memory instead of the backend.
	StatusCacheTTL time.Duration
}

var DefaultOptions = Options{
	StatusCacheTTL: 5 * time.Minute,
}

func applyDefaults(options *Options) *Options {
	if options == nil {
		o := DefaultOptions
		options = &o
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Publisher == nil {
		options.Publisher = events.NewNoopPublisher()
	}
	if options.StatusCacheTTL <= 0 {
		options.StatusCacheTTL = DefaultOptions.StatusCacheTTL
	}

	return options
}
