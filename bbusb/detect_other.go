//go:build !windows

package bbusb

import (
	"fmt"

	"github.com/google/gousb"
)

// detectDevices enumerates the bus through libusb and matches
// BitBabblers by VID/PID without claiming them.
func detectDevices() (bool, []DeviceInfo, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(ftdiVendorID) && desc.Product == gousb.ID(bbProductID)
	})
	infos := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		infos = append(infos, DeviceInfo{
			DevicePath: fmt.Sprintf("bus %03d addr %03d", d.Desc.Bus, d.Desc.Address),
		})
		d.Close()
	}
	if err != nil {
		return false, nil, fmt.Errorf("enumerating usb devices: %w", err)
	}
	return len(infos) > 0, infos, nil
}
