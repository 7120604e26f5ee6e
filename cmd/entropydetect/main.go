// entropydetect reports which entropy sources are usable on this
// machine.
package main

import (
	"fmt"

	"github.com/Thiagojm/entropy_go/bbusb"
	"github.com/Thiagojm/entropy_go/devrand"
	"github.com/Thiagojm/entropy_go/pseudorng"
	"github.com/Thiagojm/entropy_go/truerng"
)

func main() {
	report("trng  (TrueRNG serial)", func() (bool, string, error) {
		ok, err := truerng.Detect()
		if !ok || err != nil {
			return ok, "", err
		}
		port, err := truerng.FindPort()
		return ok, port, err
	})
	report("bitb  (BitBabbler usb)", func() (bool, string, error) {
		ok, devices, err := bbusb.Detect()
		detail := ""
		if len(devices) > 0 {
			if devices[0].FriendlyName != "" {
				detail = devices[0].FriendlyName
			} else {
				detail = devices[0].DevicePath
			}
		}
		return ok, detail, err
	})
	report("os    (kernel entropy pool)", func() (bool, string, error) {
		ok, err := devrand.Detect()
		return ok, "", err
	})
	report("pseudo (software RNG)", func() (bool, string, error) {
		ok, err := pseudorng.Detect()
		return ok, "", err
	})
}

func report(name string, detect func() (bool, string, error)) {
	ok, detail, err := detect()
	switch {
	case err != nil:
		fmt.Printf("%s: error: %v\n", name, err)
	case ok && detail != "":
		fmt.Printf("%s: present (%s)\n", name, detail)
	case ok:
		fmt.Printf("%s: present\n", name)
	default:
		fmt.Printf("%s: not found\n", name)
	}
}
