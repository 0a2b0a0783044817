package patternstore

import (
	"log/slog"
	"time"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
)

type options struct {
	flushEvery      int
	maxInteractions int
	logger          *slog.Logger
	bus             domain.EventBus
	now             func() time.Time
}

// Option configures a FileStore or SQLiteStore.
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		flushEvery: 1,
		logger:     logger.Discard(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithFlushEvery flushes a FileStore after every n committed transactions.
// Values below 1 mean 1. SQLiteStore commits every transaction and ignores it.
func WithFlushEvery(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.flushEvery = n
	}
}

// WithMaxInteractions caps the interaction log; the oldest entries are
// dropped. Zero keeps everything.
func WithMaxInteractions(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxInteractions = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEventBus publishes store.recovered, store.flushed and store.imported.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *options) { o.bus = bus }
}
