package analysis

import (
	"math/rand/v2"
	"sync"
	"time"
)

// source is a goroutine-safe random generator shared by all workloads.
type source struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newSource(seed uint64) *source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &source{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Uniform returns a float in [lo, hi).
func (s *source) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.Float64()
}

// Between returns an int in [lo, hi], both inclusive.
func (s *source) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.r.IntN(hi-lo+1)
}

func (s *source) Bool() bool { return s.Between(0, 1) == 1 }

// Pick returns one element of options chosen uniformly.
func (s *source) Pick(options []string) string {
	return options[s.Between(0, len(options)-1)]
}

// Duration returns a duration drawn uniformly from [lo, hi].
func (s *source) Duration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.r.Int64N(int64(hi-lo)+1))
}
