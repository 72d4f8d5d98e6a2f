package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager created by New.
type Option func(*options)

type options struct {
	defaultTTL time.Duration
	interval   time.Duration
	clock      Clock
	logger     Logger
	sink       StatsSink
	registerer prometheus.Registerer
}

// WithDefaultTTL sets the TTL used when Put is given ttl <= 0.
// Non-positive values are ignored.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.defaultTTL = ttl
		}
	}
}

// WithPurgeInterval sets how often the reaper runs.
// Non-positive values are ignored.
func WithPurgeInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.interval = interval
		}
	}
}

// WithClock replaces the wall clock used for expiry.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStatsSink sets a sink that receives Stats after every reaper pass.
func WithStatsSink(sink StatsSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithRegisterer exports the Manager's entry count as the
// lithium_cache_entries gauge on reg until Close. The process-wide
// instance is registered on prometheus.DefaultRegisterer by the store.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
