// Package rng hands out reproducible, independent random streams.
//
// A Registry is created once from the run seed. Each named stream is derived
// from the seed and the name, so adding a consumer never shifts the numbers
// another consumer sees, and nothing is ever reseeded after startup.
package rng

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"
)

// Stream names used across the module.
const (
	StreamModel   = "model"
	StreamInit    = "init"
	StreamShuffle = "shuffle"
)

// Registry owns the named streams of one run.
type Registry struct {
	seed uint64

	mu      sync.Mutex
	streams map[string]*rand.Rand
}

// New creates a registry seeded with seed.
func New(seed int64) *Registry {
	return &Registry{
		seed:    uint64(seed),
		streams: make(map[string]*rand.Rand),
	}
}

// Seed returns the run seed.
func (r *Registry) Seed() int64 {
	return int64(r.seed)
}

// Stream returns the stream called name, creating it on first use. Repeated
// calls return the same *rand.Rand, which is not safe for concurrent use.
func (r *Registry) Stream(name string) *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[name]; ok {
		return s
	}
	s := rand.New(rand.NewPCG(r.seed, streamKey(name)))
	r.streams[name] = s
	return s
}

func streamKey(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
