// Package truerng exposes a TrueRNG USB device, presented by the OS as
// a serial (COM) port, as an entropy source. It handles device
// detection by USB metadata and VID/PID, and adapts the port's
// timeout-bounded reads to the non-blocking fetch contract of
// entropy.Source.
package truerng
