package repository

import (
	"time"

	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

const defaultPollInterval = time.Second

type settings struct {
	pollInterval time.Duration
	log          logger.Logger
}

func newSettings(name string, opts []Option) settings {
	s := settings{pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.Named(name)
	}
	return s
}

// Option applies a configuration option to a store.
type Option func(*settings)

// WithPollInterval sets how often the SQLite change feed polls the session revision.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithLogger overrides the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}
