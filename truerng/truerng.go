package truerng

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/Thiagojm/entropy_go/entropy"
)

// DeviceNamePrefix identifies a TrueRNG device by the prefix of its
// port name, product string or serial number.
const DeviceNamePrefix = "TrueRNG"

// fetchTimeout bounds a single port read. The device streams
// continuously, so a short window returns whatever the OS buffer holds
// without stalling the caller.
const fetchTimeout = 5 * time.Millisecond

// ErrDeviceNotFound is returned when no TrueRNG device is attached.
var ErrDeviceNotFound = errors.New("TrueRNG device not found")

// Detect returns true if a TrueRNG serial device is present on the
// system.
func Detect() (bool, error) {
	_, err := FindPort()
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindPort returns the port path of the first detected TrueRNG device,
// e.g. "COM5" on Windows or "/dev/ttyACM0" on Linux.
func FindPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerating ports: %w", err)
	}
	for _, p := range ports {
		if hasTrueRNGPrefix(p) && p.Name != "" {
			return p.Name, nil
		}
	}
	return "", ErrDeviceNotFound
}

// Source drives a TrueRNG stick through the entropy.Source lifecycle.
// The zero value autodetects the port on Init; use NewSourceAt to pin a
// specific port.
type Source struct {
	portName string
	port     serial.Port
}

var _ entropy.Source = (*Source)(nil)

// NewSource returns a source that locates the device itself during
// Init.
func NewSource() *Source { return &Source{} }

// NewSourceAt returns a source bound to the given serial port path.
func NewSourceAt(portName string) *Source {
	return &Source{portName: portName}
}

// Init locates and opens the device, raises DTR to start the entropy
// stream, and drains whatever stale data the OS had buffered.
func (s *Source) Init() error {
	if s.port != nil {
		return nil
	}
	name := s.portName
	if name == "" {
		found, err := FindPort()
		if err != nil {
			return err
		}
		name = found
	}

	mode := &serial.Mode{
		BaudRate: 3000000, // the OS clamps this if the model tops out lower
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	_ = port.SetDTR(true)
	if err := port.SetReadTimeout(fetchTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	// Stale buffered bytes predate DTR; dropping them can fail without
	// consequence.
	_ = port.ResetInputBuffer()

	s.port = port
	return nil
}

// Destroy closes the port. Safe to call on a source that never opened.
func (s *Source) Destroy() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("close port: %w", err)
	}
	return nil
}

// Fetch reads whatever the port delivers within the fetch timeout. A
// quiet window yields (0, nil): the stream has not produced anything
// yet and the caller should come back later.
func (s *Source) Fetch(p []byte) (int, error) {
	if s.port == nil {
		return 0, errors.New("port not open")
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.port.Read(p)
	if err != nil {
		return 0, fmt.Errorf("read error: %w", err)
	}
	return n, nil
}

func hasTrueRNGPrefix(p *enumerator.PortDetails) bool {
	if p == nil {
		return false
	}
	if p.IsUSB && (hasPrefix(p.Product) || hasPrefix(p.SerialNumber)) {
		return true
	}
	if hasPrefix(p.Name) {
		return true
	}
	// Common TrueRNG VID/PID pairs.
	if p.VID == "16D0" && (p.PID == "0AA0" || p.PID == "0AA2" || p.PID == "0AA4") {
		return true
	}
	return false
}

func hasPrefix(s string) bool {
	return len(s) >= len(DeviceNamePrefix) && s[:len(DeviceNamePrefix)] == DeviceNamePrefix
}
