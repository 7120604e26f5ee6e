//go:build darwin || openbsd

package devrand

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func probe() error {
	var b [1]byte
	if err := unix.Getentropy(b[:]); err != nil {
		return fmt.Errorf("getentropy: %w", err)
	}
	return nil
}

// getentropy always fills the whole request or fails; requests are
// already capped at maxChunk, the syscall's limit.
func fetch(p []byte) (int, error) {
	if err := unix.Getentropy(p); err != nil {
		return 0, fmt.Errorf("getentropy: %w", err)
	}
	return len(p), nil
}
