//go:build !linux && !darwin && !openbsd

package devrand

import "errors"

var errUnsupported = errors.New("no OS entropy syscall on this platform")

func probe() error { return errUnsupported }

func fetch(p []byte) (int, error) { return 0, errUnsupported }
