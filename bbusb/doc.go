// Package bbusb drives a BitBabbler hardware RNG, an FTDI MPSSE device
// on the USB bus, and exposes it as an entropy source. Device
// enumeration uses SetupAPI on Windows and libusb elsewhere.
package bbusb
