// Package devrand exposes the operating system's entropy pool as an
// entropy source, using getrandom(2) in non-blocking mode on Linux and
// getentropy(2) on the BSD-derived platforms. Before the kernel pool is
// seeded, fetches report no data rather than blocking, which is exactly
// the partial-data contract the service layer is built around.
package devrand

import (
	"github.com/Thiagojm/entropy_go/entropy"
)

// maxChunk is the largest request handed to the kernel per call. Both
// getrandom and getentropy are only guaranteed to deliver up to 256
// bytes in one uninterrupted call; larger requests are simply served as
// partial fetches and the service layer loops.
const maxChunk = 256

// Source reads from the OS entropy pool. The zero value is ready to
// use.
type Source struct{}

var _ entropy.Source = (*Source)(nil)

// New returns an OS entropy pool source.
func New() *Source { return &Source{} }

// Detect reports whether the running platform exposes an entropy
// syscall this package can use.
func Detect() (bool, error) {
	if err := probe(); err != nil {
		return false, err
	}
	return true, nil
}

// Init verifies the entropy syscall is available on the running
// kernel. The pool itself needs no setup.
func (s *Source) Init() error { return probe() }

// Destroy is a no-op; the kernel pool is not ours to tear down.
func (s *Source) Destroy() error { return nil }

// Fetch asks the kernel for up to maxChunk bytes without blocking. An
// unseeded pool yields (0, nil).
func (s *Source) Fetch(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > maxChunk {
		p = p[:maxChunk]
	}
	return fetch(p)
}
