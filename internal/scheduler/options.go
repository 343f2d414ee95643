package scheduler

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options tunes dispatch. Zero values are replaced by defaults.
type Options struct {
	// MissTolerance is how late a wake-up may be before it counts as missed.
	MissTolerance time.Duration
	// Concurrency bounds parallel sends within one batch.
	Concurrency int
	// RatePerSecond caps sends across all contests; <= 0 means unlimited.
	RatePerSecond float64
	// RetryAttempts is the max tries per subscriber, including the first.
	RetryAttempts uint
	RetryInitial  time.Duration
	RetryMax      time.Duration
	// ResultBuffer is the capacity of the Results channel.
	ResultBuffer int
	Logger       zerolog.Logger
	Clock        func() time.Time
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MissTolerance: time.Minute,
		Concurrency:   8,
		RetryAttempts: 3,
		RetryInitial:  500 * time.Millisecond,
		RetryMax:      10 * time.Second,
		ResultBuffer:  64,
		Logger:        log.Logger,
		Clock:         time.Now,
	}
}

func (o *Options) normalize() {
	d := defaultOptions()
	if o.MissTolerance <= 0 {
		o.MissTolerance = d.MissTolerance
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 1
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = d.RetryInitial
	}
	if o.RetryMax <= 0 {
		o.RetryMax = d.RetryMax
	}
	if o.RetryMax < o.RetryInitial {
		o.RetryMax = o.RetryInitial
	}
	if o.ResultBuffer < 0 {
		o.ResultBuffer = 0
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// WithMissTolerance sets Options.MissTolerance.
func WithMissTolerance(d time.Duration) Option { return func(o *Options) { o.MissTolerance = d } }

// WithConcurrency sets Options.Concurrency.
func WithConcurrency(n int) Option { return func(o *Options) { o.Concurrency = n } }

// WithRate sets Options.RatePerSecond.
func WithRate(rps float64) Option { return func(o *Options) { o.RatePerSecond = rps } }

// WithRetry sets the per-subscriber retry policy.
func WithRetry(attempts uint, initial, maxInterval time.Duration) Option {
	return func(o *Options) {
		o.RetryAttempts = attempts
		o.RetryInitial = initial
		o.RetryMax = maxInterval
	}
}

// WithLogger sets Options.Logger.
func WithLogger(l zerolog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Options) { o.Clock = now } }
