package broadcast

import "github.com/Yria/cocktime-scheduler-sub000/pkg/logger"

const defaultBuffer = 256

type settings struct {
	buffer int
	log    logger.Logger
}

func newSettings(name string, opts []Option) settings {
	s := settings{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.Named(name)
	}
	return s
}

// Option applies a configuration option to a bus.
type Option func(*settings)

// WithBuffer sets the per-subscriber channel capacity. Events beyond it are dropped.
func WithBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithLogger overrides the bus logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}
