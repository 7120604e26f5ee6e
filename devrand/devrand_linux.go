//go:build linux

package devrand

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func probe() error {
	var b [1]byte
	_, err := unix.Getrandom(b[:], unix.GRND_NONBLOCK)
	if err == unix.EAGAIN {
		// Pool not seeded yet; fetches will report empty until it is.
		return nil
	}
	if err != nil {
		return fmt.Errorf("getrandom: %w", err)
	}
	return nil
}

func fetch(p []byte) (int, error) {
	n, err := unix.Getrandom(p, unix.GRND_NONBLOCK)
	switch err {
	case nil:
		return n, nil
	case unix.EAGAIN, unix.EINTR:
		return 0, nil
	default:
		return 0, fmt.Errorf("getrandom: %w", err)
	}
}
