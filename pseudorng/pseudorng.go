// Package pseudorng provides software random sources: a crypto/rand
// backed source for when no hardware device is attached, and a seeded
// deterministic generator for reproducible streams in tests and
// simulations. Neither ever reports partial data.
package pseudorng

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	mrand "math/rand"

	"github.com/Thiagojm/entropy_go/entropy"
)

// Detect always succeeds: software RNG is always available.
func Detect() (bool, error) { return true, nil }

// Source draws from crypto/rand. The zero value is ready to use.
type Source struct{}

var _ entropy.Source = Source{}

// New returns a crypto/rand backed source.
func New() Source { return Source{} }

// Init is a no-op; the OS CSPRNG needs no setup.
func (Source) Init() error { return nil }

// Destroy is a no-op.
func (Source) Destroy() error { return nil }

// Fetch always fills all of p.
func (Source) Fetch(p []byte) (int, error) {
	return crand.Read(p)
}

// Generator is a deterministic source seeded with a 64-bit value, for
// reproducible byte streams. Not cryptographically strong; never use
// its output as real entropy.
type Generator struct {
	r *mrand.Rand
}

var _ entropy.Source = (*Generator)(nil)

// NewGenerator creates a deterministic generator. If seed is zero, a
// random seed is drawn from crypto/rand.
func NewGenerator(seed uint64) (*Generator, error) {
	if seed == 0 {
		var s [8]byte
		if _, err := crand.Read(s[:]); err != nil {
			return nil, err
		}
		seed = binary.LittleEndian.Uint64(s[:])
	}
	return &Generator{r: mrand.New(mrand.NewSource(int64(seed)))}, nil
}

// Init validates the generator was built through NewGenerator.
func (g *Generator) Init() error {
	if g == nil || g.r == nil {
		return errors.New("generator is nil")
	}
	return nil
}

// Destroy is a no-op.
func (g *Generator) Destroy() error { return nil }

// Fetch fills all of p from the deterministic stream.
func (g *Generator) Fetch(p []byte) (int, error) {
	if g == nil || g.r == nil {
		return 0, errors.New("generator is nil")
	}
	return g.r.Read(p)
}
