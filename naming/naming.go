// Package naming builds the filename convention used for collected
// entropy samples, so sample size, interval and source can be recovered
// from a file path later.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Device identifies the entropy source a sample file was collected
// from. Allowed values: "trng" (TrueRNG), "bitb" (BitBabbler), "os"
// (kernel entropy pool), and "pseudo" (software RNG).
type Device string

const (
	DeviceTrueRNG    Device = "trng"
	DeviceBitBabbler Device = "bitb"
	DeviceOS         Device = "os"
	DevicePseudo     Device = "pseudo"
)

// Validate checks whether d is one of the allowed device identifiers.
func (d Device) Validate() error {
	switch d {
	case DeviceTrueRNG, DeviceBitBabbler, DeviceOS, DevicePseudo:
		return nil
	}
	return fmt.Errorf("invalid device: %q (allowed: trng, bitb, os, pseudo)", string(d))
}

// BuildBaseName builds the base filename using the convention:
//
//	YYYYMMDDTHHMMSS_{device}_s{bytes}_i{interval}
//
// where bytes > 0 is the sample size in bytes per collection and
// interval > 0 is the seconds between collections.
func BuildBaseName(now time.Time, device Device, sampleBytes int, intervalSeconds int) (string, error) {
	if err := device.Validate(); err != nil {
		return "", err
	}
	if sampleBytes <= 0 {
		return "", errors.New("sampleBytes must be > 0")
	}
	if intervalSeconds <= 0 {
		return "", errors.New("intervalSeconds must be > 0")
	}
	stamp := now.Format("20060102T150405")
	return fmt.Sprintf("%s_%s_s%d_i%d", stamp, string(device), sampleBytes, intervalSeconds), nil
}

// WithExt appends an extension to a base name; a leading dot in ext is
// preserved once. Empty ext returns base unchanged.
func WithExt(base string, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}

// JoinDir joins an optional directory with the filename. An empty dir
// returns name as-is.
func JoinDir(dir string, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// BuildBinCSVNames builds both .bin and .csv filenames (without
// directory) based on the convention.
func BuildBinCSVNames(now time.Time, device Device, sampleBytes int, intervalSeconds int) (binName string, csvName string, err error) {
	base, err := BuildBaseName(now, device, sampleBytes, intervalSeconds)
	if err != nil {
		return "", "", err
	}
	return WithExt(base, ".bin"), WithExt(base, ".csv"), nil
}

// BuildBinCSVPaths builds full paths for .bin and .csv inside dir (dir
// may be empty).
func BuildBinCSVPaths(dir string, now time.Time, device Device, sampleBytes int, intervalSeconds int) (binPath string, csvPath string, err error) {
	binName, csvName, err := BuildBinCSVNames(now, device, sampleBytes, intervalSeconds)
	if err != nil {
		return "", "", err
	}
	return JoinDir(dir, binName), JoinDir(dir, csvName), nil
}
