package engine

import "math/rand/v2"

// Random is the source of randomness consumed by the scheduler. It must be
// used by one scheduler only, so the draw sequence is fixed for a seed.
type Random interface {
	// Float64 returns a uniform draw in [0, 1).
	Float64() float64
	// ExpFloat64 returns an exponential draw with rate 1.
	ExpFloat64() float64
}

// seedStream decorrelates the second PCG word from the seed.
const seedStream = 0x9e3779b97f4a7c15

// NewRandom returns a PCG-backed Random for seed.
func NewRandom(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^seedStream))
}
