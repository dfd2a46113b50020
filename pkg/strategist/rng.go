package strategist

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	mathrand "math/rand"
	"sync"
)

// RNG is the randomness source for exploration draws. The default source is
// seeded from crypto/rand; tests and replay harnesses inject a deterministic
// one.
type RNG interface {
	Float64() float64
	Intn(n int) int
}

// NewDefaultRNG returns a locked math/rand source with a random seed.
func NewDefaultRNG() RNG {
	var seed [8]byte
	_, _ = rand.Read(seed[:])
	return &lockedRNG{r: mathrand.New(mathrand.NewSource(int64(binary.BigEndian.Uint64(seed[:]))))}
}

type lockedRNG struct {
	mu sync.Mutex
	r  *mathrand.Rand
}

func (l *lockedRNG) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRNG) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// DeterministicRNG derives its stream from HMAC-SHA256 over a counter, so a
// fixed seed replays the exact same sequence of draws on any platform.
type DeterministicRNG struct {
	mu      sync.Mutex
	seed    []byte
	counter uint64
}

// NewDeterministicRNG creates a reproducible source from seed bytes.
func NewDeterministicRNG(seed []byte) *DeterministicRNG {
	s := make([]byte, len(seed))
	copy(s, seed)
	return &DeterministicRNG{seed: s}
}

func (d *DeterministicRNG) next() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	mac := hmac.New(sha256.New, d.seed)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], d.counter)
	d.counter++
	mac.Write(ctr[:])
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Float64 returns a draw in [0, 1) with 53 bits of precision.
func (d *DeterministicRNG) Float64() float64 {
	return float64(d.next()>>11) / (1 << 53)
}

// Intn returns a draw in [0, n). Panics if n <= 0, matching math/rand.
func (d *DeterministicRNG) Intn(n int) int {
	if n <= 0 {
		panic("strategist: Intn with non-positive n")
	}
	return int(d.next() % uint64(n))
}
