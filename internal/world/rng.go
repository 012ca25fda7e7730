package world

// RNG is the world's deterministic random source. Its state is part of the
// snapshot so replaying the same inputs reproduces the same draws.
// splitmix64 core, same construction the Go runtime uses for seeding.
type RNG struct {
	State uint64 `json:"state"`
}

func NewRNG(seed uint64) *RNG {
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	return &RNG{State: seed}
}

func (r *RNG) next() uint64 {
	r.State += 0x9e3779b97f4a7c15
	z := r.State
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Uint64 returns the next raw draw. Used for deriving ids that must be
// stable under replay.
func (r *RNG) Uint64() uint64 {
	return r.next()
}

// Float64 returns a uniform draw in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.next()>>11) / (1 << 53)
}

// Intn returns a uniform draw in [0, n). n must be positive.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic("world: Intn with non-positive n")
	}
	return int(r.next() % uint64(n))
}

// Int63n returns a uniform draw in [0, n). n must be positive.
func (r *RNG) Int63n(n int64) int64 {
	if n <= 0 {
		panic("world: Int63n with non-positive n")
	}
	return int64(r.next() % uint64(n))
}

// Range returns a uniform draw in [lo, hi).
func (r *RNG) Range(lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}
