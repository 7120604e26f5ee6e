package bbusb

import (
	"context"
	"errors"
	"time"

	"github.com/Thiagojm/entropy_go/entropy"
)

// fetchWindow bounds one fetch exchange with the device. Whatever
// arrived inside the window is handed back as a short read.
const fetchWindow = 50 * time.Millisecond

// DeviceInfo contains key metadata for a detected BitBabbler device.
// Fields may be empty if not available on the current system.
type DeviceInfo struct {
	// DevicePath is the system path to the device interface, if known.
	DevicePath string
	// HardwareIDs is the list of hardware IDs from the registry
	// (Windows only).
	HardwareIDs []string
	// FriendlyName is a human-friendly device label if present.
	FriendlyName string
}

// Detect reports whether a BitBabbler (VID 0x0403, PID 0x7840) is
// attached, along with metadata for each device found.
func Detect() (bool, []DeviceInfo, error) {
	return detectDevices()
}

// Source adapts a BitBabbler to the entropy.Source lifecycle. Configure
// before Init; the zero value uses vendor defaults.
type Source struct {
	// Bitrate is the MPSSE clock in Hz. Zero means 2.5 MHz.
	Bitrate uint
	// LatencyMs is the FTDI latency timer in milliseconds. Zero means
	// 1 ms.
	LatencyMs uint8

	dev *Device
}

var _ entropy.Source = (*Source)(nil)

// Init opens and programs the device.
func (s *Source) Init() error {
	if s.dev != nil {
		return nil
	}
	dev, err := Open(s.Bitrate, s.LatencyMs)
	if err != nil {
		return err
	}
	s.dev = dev
	return nil
}

// Destroy releases the device.
func (s *Source) Destroy() error {
	if s.dev == nil {
		return nil
	}
	s.dev.Close()
	s.dev = nil
	return nil
}

// Fetch gathers whatever the device produces within the fetch window.
// Hitting the window with a partial (or empty) result is not a fault:
// the bytes gathered so far are returned and the caller retries.
func (s *Source) Fetch(p []byte) (int, error) {
	if s.dev == nil {
		return 0, errors.New("device not open")
	}
	ctx, cancel := context.WithTimeout(context.Background(), fetchWindow)
	defer cancel()
	n, err := s.dev.ReadRandom(ctx, p)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return 0, err
	}
	return n, nil
}
