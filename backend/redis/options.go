package redis

import (
	"github.com/stepflow-dev/stepflow/backend"
)

type RedisOptions struct {
	backend.Options

	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

func WithKeyPrefix(keyPrefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = keyPrefix
	}
}
