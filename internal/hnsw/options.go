package hnsw

import (
	"math/rand"
	"time"
)

// Defaults follow the reference deployment: 24 links per layer, a construction
// beam of 200, a query beam of 30 and node levels capped at 16.
const (
	DefaultM              = 24
	DefaultEfConstruction = 200
	DefaultEfSearch       = 30
	DefaultMaxLevel       = 16
)

// RandSource supplies uniform floats in [0, 1) for level assignment.
// *rand.Rand satisfies it; tests pass a seeded one for a reproducible topology.
type RandSource interface {
	Float64() float64
}

// Option configures a Graph.
type Option func(*options)

type options struct {
	m              int
	efConstruction int
	efSearch       int
	maxLevel       int
	keepPruned     bool
	rng            RandSource
}

func defaultOptions() options {
	return options{
		m:              DefaultM,
		efConstruction: DefaultEfConstruction,
		efSearch:       DefaultEfSearch,
		maxLevel:       DefaultMaxLevel,
		keepPruned:     true,
	}
}

// WithM sets the target number of links per node per layer. Layer 0 allows 2*M.
func WithM(m int) Option {
	return func(o *options) {
		if m > 0 {
			o.m = m
		}
	}
}

// WithEfConstruction sets the beam width used while inserting.
func WithEfConstruction(ef int) Option {
	return func(o *options) {
		if ef > 0 {
			o.efConstruction = ef
		}
	}
}

// WithEfSearch sets the default beam width used by Search.
func WithEfSearch(ef int) Option {
	return func(o *options) {
		if ef > 0 {
			o.efSearch = ef
		}
	}
}

// WithMaxLevel caps the level a node can be assigned.
func WithMaxLevel(level int) Option {
	return func(o *options) {
		if level >= 0 {
			o.maxLevel = level
		}
	}
}

// WithKeepPruned controls whether neighbour selection tops up the result with
// candidates the diversity rule rejected when too few survive. Enabled by default.
func WithKeepPruned(keep bool) Option {
	return func(o *options) { o.keepPruned = keep }
}

// WithRand sets the random source for level assignment.
func WithRand(r RandSource) Option {
	return func(o *options) {
		if r != nil {
			o.rng = r
		}
	}
}

// WithSeed seeds the level generator. A zero seed keeps the time-seeded default.
func WithSeed(seed int64) Option {
	return func(o *options) {
		if seed != 0 {
			o.rng = rand.New(rand.NewSource(seed))
		}
	}
}

func newTimeSeededRand() RandSource {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
