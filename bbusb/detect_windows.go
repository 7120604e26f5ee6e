//go:build windows

package bbusb

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// GUID for all USB devices: {A5DCBF10-6530-11D2-901F-00C04FB951ED}
var guidDevInterfaceUsbDevice = windows.GUID{Data1: 0xA5DCBF10, Data2: 0x6530, Data3: 0x11D2, Data4: [8]byte{0x90, 0x1F, 0x00, 0xC0, 0x4F, 0xB9, 0x51, 0xED}}

const (
	_DIGCF_PRESENT         = 0x00000002
	_DIGCF_DEVICEINTERFACE = 0x00000010

	_SPDRP_DEVICEDESC   = 0x00000000
	_SPDRP_HARDWAREID   = 0x00000001
	_SPDRP_FRIENDLYNAME = 0x0000000C
)

// Structures mirroring setupapi.h.
type spDeviceInterfaceData struct {
	cbSize             uint32
	InterfaceClassGuid windows.GUID
	Flags              uint32
	Reserved           uintptr
}

type spDeviceInterfaceDetailDataW struct {
	cbSize     uint32
	DevicePath [1]uint16 // variable-length
}

type spDevinfoData struct {
	cbSize    uint32
	ClassGuid windows.GUID
	DevInst   uint32
	Reserved  uintptr
}

var (
	modSetupapi                           = windows.NewLazySystemDLL("setupapi.dll")
	procSetupDiGetClassDevsW              = modSetupapi.NewProc("SetupDiGetClassDevsW")
	procSetupDiEnumDeviceInterfaces       = modSetupapi.NewProc("SetupDiEnumDeviceInterfaces")
	procSetupDiGetDeviceInterfaceDetailW  = modSetupapi.NewProc("SetupDiGetDeviceInterfaceDetailW")
	procSetupDiGetDeviceRegistryPropertyW = modSetupapi.NewProc("SetupDiGetDeviceRegistryPropertyW")
	procSetupDiDestroyDeviceInfoList      = modSetupapi.NewProc("SetupDiDestroyDeviceInfoList")
)

// detectDevices enumerates present USB device interfaces via SetupAPI
// and matches BitBabblers by VID/PID in hardware IDs or device paths.
func detectDevices() (bool, []DeviceInfo, error) {
	devices, err := listUsbDevicesMatchingVIDPID(ftdiVendorID, bbProductID)
	if err != nil {
		return false, nil, err
	}
	return len(devices) > 0, devices, nil
}

func listUsbDevicesMatchingVIDPID(vendorID uint16, productID uint16) ([]DeviceInfo, error) {
	h, err := setupDiGetClassDevs(&guidDevInterfaceUsbDevice, _DIGCF_PRESENT|_DIGCF_DEVICEINTERFACE)
	if err != nil {
		return nil, err
	}
	defer setupDiDestroyDeviceInfoList(h)

	var results []DeviceInfo
	for index := uint32(0); ; index++ {
		var ifData spDeviceInterfaceData
		ifData.cbSize = uint32(unsafe.Sizeof(ifData))

		ok, errEnum := setupDiEnumDeviceInterfaces(h, &guidDevInterfaceUsbDevice, index, &ifData)
		if !ok {
			if errors.Is(errEnum, windows.ERROR_NO_MORE_ITEMS) {
				break
			}
			return nil, fmt.Errorf("SetupDiEnumDeviceInterfaces failed at index %d: %w", index, errEnum)
		}

		// First call probes the required buffer size.
		reqSize := uint32(0)
		var devInfo spDevinfoData
		devInfo.cbSize = uint32(unsafe.Sizeof(devInfo))
		_ = setupDiGetDeviceInterfaceDetailW(h, &ifData, nil, 0, &reqSize, &devInfo)
		if reqSize == 0 {
			continue
		}

		buf := make([]byte, reqSize)
		detail := (*spDeviceInterfaceDetailDataW)(unsafe.Pointer(&buf[0]))
		if runtime.GOARCH == "386" || runtime.GOARCH == "arm" {
			detail.cbSize = 6 // sizeof(DWORD) + 2 bytes for first WCHAR
		} else {
			detail.cbSize = 8 // on 64-bit
		}
		if err := setupDiGetDeviceInterfaceDetailW(h, &ifData, detail, reqSize, nil, &devInfo); err != nil {
			return nil, fmt.Errorf("SetupDiGetDeviceInterfaceDetailW failed: %w", err)
		}

		devicePath := windows.UTF16PtrToString(&detail.DevicePath[0])
		hwIDs, _ := setupDiGetDeviceRegistryMultiSz(h, &devInfo, _SPDRP_HARDWAREID)
		friendly, _ := setupDiGetDeviceRegistryString(h, &devInfo, _SPDRP_FRIENDLYNAME)
		if friendly == "" {
			friendly, _ = setupDiGetDeviceRegistryString(h, &devInfo, _SPDRP_DEVICEDESC)
		}

		if hasVIDPID(hwIDs, vendorID, productID) || pathHasVIDPID(devicePath, vendorID, productID) {
			results = append(results, DeviceInfo{
				DevicePath:   devicePath,
				HardwareIDs:  hwIDs,
				FriendlyName: friendly,
			})
		}
	}
	return results, nil
}

func hasVIDPID(hwIDs []string, vid uint16, pid uint16) bool {
	for _, s := range hwIDs {
		if pathHasVIDPID(s, vid, pid) {
			return true
		}
	}
	return false
}

func pathHasVIDPID(path string, vid uint16, pid uint16) bool {
	upper := strings.ToUpper(path)
	return strings.Contains(upper, fmt.Sprintf("VID_%04X", vid)) && strings.Contains(upper, fmt.Sprintf("PID_%04X", pid))
}

func setupDiGetClassDevs(classGUID *windows.GUID, flags uint32) (windows.Handle, error) {
	var enumerator uint16
	r0, _, e1 := procSetupDiGetClassDevsW.Call(
		uintptr(unsafe.Pointer(classGUID)),
		uintptr(unsafe.Pointer(&enumerator)),
		0,
		uintptr(flags),
	)
	if r0 == 0 || r0 == ^uintptr(0) { // INVALID_HANDLE_VALUE
		if e1 != nil {
			return 0, e1
		}
		return 0, windows.ERROR_PROC_NOT_FOUND
	}
	return windows.Handle(r0), nil
}

func setupDiEnumDeviceInterfaces(hdevinfo windows.Handle, classGUID *windows.GUID, index uint32, out *spDeviceInterfaceData) (bool, error) {
	r1, _, e1 := procSetupDiEnumDeviceInterfaces.Call(
		uintptr(hdevinfo),
		0,
		uintptr(unsafe.Pointer(classGUID)),
		uintptr(index),
		uintptr(unsafe.Pointer(out)),
	)
	if r1 == 0 {
		return false, e1
	}
	return true, nil
}

func setupDiGetDeviceInterfaceDetailW(hdevinfo windows.Handle, ifData *spDeviceInterfaceData, detail *spDeviceInterfaceDetailDataW, detailSize uint32, requiredSize *uint32, devInfo *spDevinfoData) error {
	r1, _, e1 := procSetupDiGetDeviceInterfaceDetailW.Call(
		uintptr(hdevinfo),
		uintptr(unsafe.Pointer(ifData)),
		uintptr(unsafe.Pointer(detail)),
		uintptr(detailSize),
		uintptr(unsafe.Pointer(requiredSize)),
		uintptr(unsafe.Pointer(devInfo)),
	)
	if r1 == 0 {
		// ERROR_INSUFFICIENT_BUFFER is expected when probing for size.
		if detail == nil && errors.Is(e1, windows.ERROR_INSUFFICIENT_BUFFER) {
			return nil
		}
		if e1 != nil {
			return e1
		}
		return errors.New("SetupDiGetDeviceInterfaceDetailW failed")
	}
	return nil
}

// setupDiGetDeviceRegistryProperty reads a raw registry property,
// handling the probe-then-read size dance.
func setupDiGetDeviceRegistryProperty(hdevinfo windows.Handle, devInfo *spDevinfoData, prop uint32) ([]uint16, error) {
	var dataType uint32
	var required uint32
	r1, _, e1 := procSetupDiGetDeviceRegistryPropertyW.Call(
		uintptr(hdevinfo),
		uintptr(unsafe.Pointer(devInfo)),
		uintptr(prop),
		uintptr(unsafe.Pointer(&dataType)),
		0,
		0,
		uintptr(unsafe.Pointer(&required)),
	)
	if r1 == 0 && !errors.Is(e1, windows.ERROR_INSUFFICIENT_BUFFER) {
		return nil, e1
	}
	if required == 0 {
		return nil, nil
	}
	buf := make([]uint16, required/2)
	r2, _, e2 := procSetupDiGetDeviceRegistryPropertyW.Call(
		uintptr(hdevinfo),
		uintptr(unsafe.Pointer(devInfo)),
		uintptr(prop),
		uintptr(unsafe.Pointer(&dataType)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(required),
		uintptr(unsafe.Pointer(&required)),
	)
	if r2 == 0 {
		if e2 != nil {
			return nil, e2
		}
		return nil, errors.New("SetupDiGetDeviceRegistryPropertyW read failed")
	}
	return buf, nil
}

func setupDiGetDeviceRegistryMultiSz(hdevinfo windows.Handle, devInfo *spDevinfoData, prop uint32) ([]string, error) {
	buf, err := setupDiGetDeviceRegistryProperty(hdevinfo, devInfo, prop)
	if err != nil || buf == nil {
		return nil, err
	}
	// REG_MULTI_SZ: NUL-terminated strings, ending with an extra NUL.
	var out []string
	start := 0
	for i, v := range buf {
		if v == 0 {
			if i == start {
				break
			}
			out = append(out, windows.UTF16ToString(buf[start:i]))
			start = i + 1
		}
	}
	return out, nil
}

func setupDiGetDeviceRegistryString(hdevinfo windows.Handle, devInfo *spDevinfoData, prop uint32) (string, error) {
	buf, err := setupDiGetDeviceRegistryProperty(hdevinfo, devInfo, prop)
	if err != nil || buf == nil {
		return "", err
	}
	return windows.UTF16ToString(buf), nil
}

func setupDiDestroyDeviceInfoList(hdevinfo windows.Handle) {
	_, _, _ = procSetupDiDestroyDeviceInfoList.Call(uintptr(hdevinfo))
}
