// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package parkinglot

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultBuckets is the number of buckets used when WithBuckets is not
// provided.
const DefaultBuckets = 256

var (
	// ErrInvalidBucketCount is returned by New if the bucket count is not a
	// positive power of two.
	ErrInvalidBucketCount = errors.New("parkinglot: bucket count must be a positive power of two")

	// ErrInvalidSlowParkRates is returned by New if the slow park log rates
	// are rejected by the rate limiter.
	ErrInvalidSlowParkRates = errors.New("parkinglot: invalid slow park log rates")

	// ErrInvalidSlowParkThreshold is returned by New if the slow park
	// threshold is negative.
	ErrInvalidSlowParkThreshold = errors.New("parkinglot: slow park threshold must not be negative")
)

// defaultSlowParkLogRates allows one warning per second, and ten per minute,
// for each address.
var defaultSlowParkLogRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

// lotOptions holds configuration options for Lot creation.
type lotOptions struct {
	logger            *logiface.Logger[logiface.Event]
	slowParkLogRates  map[time.Duration]int
	buckets           int
	slowParkThreshold time.Duration
}

// --- Lot Options ---

// Option configures a Lot instance.
type Option interface {
	applyLot(*lotOptions) error
}

// lotOptionImpl implements Option.
type lotOptionImpl struct {
	applyLotFunc func(*lotOptions) error
}

func (l *lotOptionImpl) applyLot(opts *lotOptions) error {
	return l.applyLotFunc(opts)
}

// WithBuckets sets the number of buckets the address to queue mapping is
// sharded into. It must be a positive power of two. More buckets reduce
// contention between unrelated addresses, at the cost of memory, as each
// bucket occupies at least one cache line.
func WithBuckets(n int) Option {
	return &lotOptionImpl{func(opts *lotOptions) error {
		if n <= 0 || n&(n-1) != 0 {
			return fmt.Errorf("%w: %d", ErrInvalidBucketCount, n)
		}
		opts.buckets = n
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger (the default) disables
// logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &lotOptionImpl{func(opts *lotOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSlowParkThreshold enables a warning, logged whenever a goroutine
// remains parked for at least the given duration. Zero (the default)
// disables it.
func WithSlowParkThreshold(d time.Duration) Option {
	return &lotOptionImpl{func(opts *lotOptions) error {
		if d < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidSlowParkThreshold, d)
		}
		opts.slowParkThreshold = d
		return nil
	}}
}

// WithSlowParkLogRates configures the per-address rate limits applied to slow
// park warnings, in the format accepted by catrate.NewLimiter. An empty map
// disables rate limiting. Defaults to 1 per second and 10 per minute.
func WithSlowParkLogRates(rates map[time.Duration]int) Option {
	return &lotOptionImpl{func(opts *lotOptions) error {
		opts.slowParkLogRates = rates
		if opts.slowParkLogRates == nil {
			opts.slowParkLogRates = map[time.Duration]int{}
		}
		return nil
	}}
}

// resolveLotOptions applies Option instances to lotOptions.
func resolveLotOptions(opts []Option) (*lotOptions, error) {
	cfg := &lotOptions{
		buckets: DefaultBuckets,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLot(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.slowParkLogRates == nil {
		cfg.slowParkLogRates = defaultSlowParkLogRates
	}
	return cfg, nil
}
