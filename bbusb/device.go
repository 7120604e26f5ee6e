package bbusb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// BitBabbler devices enumerate as an FTDI part with a vendor-assigned
// product ID.
const (
	ftdiVendorID = 0x0403
	bbProductID  = 0x7840
)

// MPSSE opcodes used to program and read the device.
const (
	mpsseNoClkDiv5     = 0x8A
	mpsseNoAdaptiveClk = 0x97
	mpsseNo3PhaseClk   = 0x8D
	mpsseSetDataLow    = 0x80
	mpsseSetDataHigh   = 0x82
	mpsseSetClkDivisor = 0x86
	mpsseSendImmediate = 0x87
	mpsseNoLoopback    = 0x85

	// read bytes in, MSB first, sample on +ve edge
	mpsseDataByteInPosMSB = 0x20
)

// FTDI vendor-specific control requests.
const (
	ftdiReqReset       = 0x00
	ftdiReqSetFlowCtrl = 0x02
	ftdiReqSetEvtChar  = 0x06
	ftdiReqSetErrChar  = 0x07
	ftdiReqSetLatency  = 0x09
	ftdiReqSetBitmode  = 0x0B
)

const (
	ftdiResetSIO = 0

	ftdiFlowRtsCts = 0x0100

	ftdiBitmodeReset = 0x0000
	ftdiBitmodeMpsse = 0x0200
)

// Device is an open BitBabbler in MPSSE mode, ready to stream random
// bytes. It is not safe for concurrent use.
type Device struct {
	usbCtx    *gousb.Context
	dev       *gousb.Device
	cfg       *gousb.Config
	intf      *gousb.Interface
	inEp      *gousb.InEndpoint
	outEp     *gousb.OutEndpoint
	maxPacket int
}

// Open claims the first BitBabbler on the bus and runs the vendor MPSSE
// initialization sequence. bitrate is the MPSSE clock in Hz and
// latencyMs the FTDI latency timer; zero selects the vendor defaults
// (2.5 MHz, 1 ms).
func Open(bitrate uint, latencyMs uint8) (*Device, error) {
	if bitrate == 0 {
		bitrate = 2_500_000
	}
	if latencyMs == 0 {
		latencyMs = 1
	}

	usbCtx := gousb.NewContext()
	dev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(ftdiVendorID), gousb.ID(bbProductID))
	if err != nil {
		usbCtx.Close()
		return nil, fmt.Errorf("open device: %w", err)
	}
	if dev == nil {
		usbCtx.Close()
		return nil, errors.New("BitBabbler device not found")
	}
	_ = dev.SetAutoDetach(true)

	d := &Device{usbCtx: usbCtx, dev: dev}
	if err := d.claim(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.initMPSSE(bitrate, latencyMs); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// claim takes configuration 1, interface 0 and locates the pair of
// bulk endpoints.
func (d *Device) claim() error {
	cfg, err := d.dev.Config(1)
	if err != nil {
		return fmt.Errorf("claim config: %w", err)
	}
	d.cfg = cfg
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		return fmt.Errorf("claim interface: %w", err)
	}
	d.intf = intf

	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			if d.inEp, err = intf.InEndpoint(ep.Number); err != nil {
				return fmt.Errorf("in endpoint: %w", err)
			}
		case gousb.EndpointDirectionOut:
			if d.outEp, err = intf.OutEndpoint(ep.Number); err != nil {
				return fmt.Errorf("out endpoint: %w", err)
			}
		}
	}
	if d.inEp == nil || d.outEp == nil {
		return errors.New("bulk endpoints not found")
	}
	d.maxPacket = int(d.inEp.Desc.MaxPacketSize)
	return nil
}

// initMPSSE follows the vendor bring-up: reset, purge, latency and flow
// control, switch to MPSSE, verify command sync, then program the
// clock and pin directions.
func (d *Device) initMPSSE(bitrate uint, latencyMs uint8) error {
	steps := []func() error{
		func() error { return d.control(ftdiReqReset, ftdiResetSIO, 1) },
		func() error { d.drain(); return nil },
		func() error { return d.control(ftdiReqSetEvtChar, 0, 1) },
		func() error { return d.control(ftdiReqSetErrChar, 0, 1) },
		func() error { return d.control(ftdiReqSetLatency, uint16(latencyMs), 1) },
		func() error { return d.control(ftdiReqSetFlowCtrl, 0, ftdiFlowRtsCts|1) },
		func() error { return d.control(ftdiReqSetBitmode, ftdiBitmodeReset, 1) },
		func() error { return d.control(ftdiReqSetBitmode, ftdiBitmodeMpsse, 1) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("mpsse bring-up: %w", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	// The chip echoes 0xFA + the bad opcode for the deliberately bogus
	// sync commands; one retry covers a slow first response.
	ok := d.checkSync(0xAA) && d.checkSync(0xAB)
	if !ok {
		ok = d.checkSync(0xAA) && d.checkSync(0xAB)
	}
	if !ok {
		return errors.New("MPSSE sync failed")
	}

	clkDiv := uint16(30_000_000/bitrate - 1)
	program := []byte{
		mpsseNoClkDiv5,
		mpsseNoAdaptiveClk,
		mpsseNo3PhaseClk,
		mpsseSetDataLow,
		0x00, // outputs low
		0x0B, // CLK, DO, CS as outputs
		mpsseSetDataHigh,
		0x00,
		0x00, // high pins as inputs
		mpsseSetClkDivisor,
		byte(clkDiv & 0xFF),
		byte(clkDiv >> 8),
		mpsseNoLoopback,
	}
	if _, err := d.outEp.Write(program); err != nil {
		return fmt.Errorf("program clock: %w", err)
	}
	time.Sleep(30 * time.Millisecond)
	d.drain()
	return nil
}

// Close releases all USB resources. Safe on a partially opened device.
func (d *Device) Close() {
	if d == nil {
		return
	}
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		d.cfg.Close()
	}
	if d.dev != nil {
		d.dev.Close()
	}
	if d.usbCtx != nil {
		d.usbCtx.Close()
	}
}

// ReadRandom issues one MPSSE bulk read for len(p) bytes and copies the
// payload into p, stripping the 2-byte FTDI status header from each
// USB packet. It returns the bytes gathered so far when ctx expires,
// which callers treat as a short read rather than a failure.
func (d *Device) ReadRandom(ctx context.Context, p []byte) (int, error) {
	want := len(p)
	if want == 0 {
		return 0, nil
	}
	cmd := []byte{
		mpsseDataByteInPosMSB,
		byte((want - 1) & 0xFF),
		byte((want - 1) >> 8),
		mpsseSendImmediate,
	}
	if _, err := d.outEp.Write(cmd); err != nil {
		return 0, fmt.Errorf("issue read: %w", err)
	}

	got := 0
	tmp := make([]byte, roundUpToPacket(want, d.maxPacket)+d.maxPacket)
	for got < want {
		if err := ctx.Err(); err != nil {
			return got, err
		}
		m, err := d.inEp.ReadContext(ctx, tmp)
		if err != nil {
			return got, err
		}
		got += compactPackets(p[got:], tmp[:m], d.maxPacket)
	}
	return got, nil
}

// compactPackets copies the payload of FTDI packets in src to dst,
// skipping the 2 status bytes that lead every packet-sized chunk.
func compactPackets(dst, src []byte, maxPacket int) int {
	copied := 0
	for off := 0; off < len(src) && copied < len(dst); {
		chunk := len(src) - off
		if chunk <= 2 {
			break
		}
		if chunk > maxPacket {
			chunk = maxPacket
		}
		usable := chunk - 2
		if usable > len(dst)-copied {
			usable = len(dst) - copied
		}
		copy(dst[copied:copied+usable], src[off+2:off+2+usable])
		copied += usable
		off += chunk
	}
	return copied
}

func (d *Device) control(req uint8, value, index uint16) error {
	typ := uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := d.dev.Control(typ, req, value, index, nil)
	return err
}

// drain discards pending input, including bare status headers.
func (d *Device) drain() {
	buf := make([]byte, 8192)
	for i := 0; i < 10; i++ {
		n, _ := d.inEp.Read(buf)
		if n <= 2 {
			return
		}
	}
}

func (d *Device) checkSync(opcode byte) bool {
	if _, err := d.outEp.Write([]byte{opcode, mpsseSendImmediate}); err != nil {
		return false
	}
	buf := make([]byte, 512)
	for i := 0; i < 10; i++ {
		n, _ := d.inEp.Read(buf)
		if n == 4 && buf[2] == 0xFA && buf[3] == opcode {
			return true
		}
	}
	return false
}

func roundUpToPacket(n, max int) int {
	if max <= 0 || n%max == 0 {
		return n
	}
	return (n/max + 1) * max
}
