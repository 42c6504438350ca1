package checkpoint

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

type options struct {
	log          zerolog.Logger
	now          func() time.Time
	defaultLimit int
	maxLimit     int
}

// Option configures a Writer, Reader, Index or Saver.
type Option func(*options)

// WithLogger sets the logger. Components are silent by default.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock replaces the clock used to timestamp messages.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPageLimits sets the page size used when a caller passes no limit and
// the largest page a caller may request.
func WithPageLimits(defaultLimit, maxLimit int) Option {
	return func(o *options) {
		if defaultLimit > 0 {
			o.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			o.maxLimit = maxLimit
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:          zerolog.Nop(),
		now:          time.Now,
		defaultLimit: DefaultPageLimit,
		maxLimit:     MaxPageLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaultLimit > o.maxLimit {
		o.defaultLimit = o.maxLimit
	}
	return o
}
