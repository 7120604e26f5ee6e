package entropy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when a fill is requested before a
	// successful Init or after Destroy.
	ErrNotInitialized = errors.New("entropy service not initialized")

	// ErrCreationFailed is returned by Init when the source could not
	// be brought up, or when reviving a destroyed service is attempted.
	ErrCreationFailed = errors.New("entropy service creation failed")

	// ErrPartialData is returned by FillNonBlocking when fewer bytes
	// than requested were produced. The bytes that were written are
	// valid random data; it is an outcome, not a device fault.
	ErrPartialData = errors.New("partial random data")

	// ErrRetryExhausted is returned by Fill when the source kept
	// reporting no entropy for longer than the retry budget allows. It
	// means the source is slow, not broken.
	ErrRetryExhausted = errors.New("entropy retry budget exhausted")
)

// HardwareError reports a fault from the underlying entropy source.
// The current request fails and its buffer must be discarded, but the
// service stays usable: hardware faults are not assumed permanent.
type HardwareError struct {
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("entropy source failure: %v", e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }
