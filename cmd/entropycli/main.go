// entropycli reads random bytes from a chosen entropy source through
// the blocking fill service. It can do a one-shot hex dump or collect
// samples at a fixed interval into .bin/.csv files for later analysis.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"math/bits"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thiagojm/entropy_go/bbusb"
	"github.com/Thiagojm/entropy_go/devrand"
	"github.com/Thiagojm/entropy_go/entropy"
	"github.com/Thiagojm/entropy_go/naming"
	"github.com/Thiagojm/entropy_go/pseudorng"
	"github.com/Thiagojm/entropy_go/truerng"
)

func main() {
	sourceFlag := flag.String("source", "os", "entropy source: trng|bitb|os|pseudo")
	sizeFlag := flag.Int("bytes", 256, "bytes per sample (must be > 0)")
	interval := flag.Duration("interval", 0, "interval between samples (whole seconds, e.g. 2s). 0 for one-shot")
	outDir := flag.String("outdir", "data", "output directory for collected samples")
	timeout := flag.Duration("timeout", 10*time.Second, "deadline for a single blocking fill")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	}

	if *sizeFlag <= 0 {
		log.Fatal().Msg("-bytes must be > 0")
	}

	dev := naming.Device(*sourceFlag)
	if err := dev.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid -source")
	}
	src, err := buildSource(dev)
	if err != nil {
		log.Fatal().Err(err).Msg("source unavailable")
	}

	svc := entropy.New(src, entropy.WithLogger(log))
	if err := svc.Init(); err != nil {
		log.Fatal().Err(err).Msg("entropy service init failed")
	}
	defer func() {
		if err := svc.Destroy(); err != nil {
			log.Error().Err(err).Msg("entropy service destroy failed")
		}
	}()

	if *interval == 0 {
		if err := oneShot(svc, *sizeFlag, *timeout); err != nil {
			log.Fatal().Err(err).Msg("read failed")
		}
		return
	}
	if err := collect(log, svc, dev, *sizeFlag, *interval, *outDir, *timeout); err != nil {
		log.Fatal().Err(err).Msg("collection failed")
	}
}

// buildSource maps a device name to a backend, checking presence first
// for clearer errors.
func buildSource(dev naming.Device) (entropy.Source, error) {
	switch dev {
	case naming.DeviceTrueRNG:
		present, err := truerng.Detect()
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, truerng.ErrDeviceNotFound
		}
		return truerng.NewSource(), nil
	case naming.DeviceBitBabbler:
		ok, _, err := bbusb.Detect()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("no BitBabbler devices found (VID 0x0403 PID 0x7840)")
		}
		return &bbusb.Source{}, nil
	case naming.DeviceOS:
		if _, err := devrand.Detect(); err != nil {
			return nil, err
		}
		return devrand.New(), nil
	default:
		return pseudorng.New(), nil
	}
}

func oneShot(svc *entropy.Service, size int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, size)
	if err := svc.Fill(ctx, buf); err != nil {
		return err
	}
	fmt.Printf("read %d bytes\n%s\n", size, hex.EncodeToString(buf))
	return nil
}

// collect runs interval sampling until interrupted: each sample's raw
// bytes go to the .bin file and its set-bit count to the .csv file.
func collect(log zerolog.Logger, svc *entropy.Service, dev naming.Device, size int, interval time.Duration, outDir string, timeout time.Duration) error {
	secs := int(interval / time.Second)
	if secs <= 0 || interval != time.Duration(secs)*time.Second {
		return errors.New("-interval must be a whole number of seconds, at least 1s")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating outdir: %w", err)
	}
	binPath, csvPath, err := naming.BuildBinCSVPaths(outDir, time.Now(), dev, size, secs)
	if err != nil {
		return err
	}

	binFile, err := os.OpenFile(binPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open bin file: %w", err)
	}
	defer func() { _ = binFile.Close() }()
	binBuf := bufio.NewWriter(binFile)
	defer binBuf.Flush()

	csvFile, err := os.OpenFile(csvPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer func() { _ = csvFile.Close() }()
	csvBuf := bufio.NewWriter(csvFile)
	defer csvBuf.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("source", string(dev)).Int("bytes", size).Dur("interval", interval).
		Msg("collecting samples, press Ctrl+C to stop")

	buf := make([]byte, size)
	sample := 0
	for {
		fillCtx, cancel := context.WithTimeout(ctx, timeout)
		err := svc.Fill(fillCtx, buf)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if _, err := binBuf.Write(buf); err != nil {
			return fmt.Errorf("write bin: %w", err)
		}
		_ = binBuf.Flush()

		ones := countOnes(buf)
		sample++
		ts := time.Now().Format("20060102T15:04:05")
		if _, err := fmt.Fprintf(csvBuf, "%s,%d\n", ts, ones); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		_ = csvBuf.Flush()

		log.Info().Int("sample", sample).Int("ones", ones).Int("bits", size*8).Msg("sample collected")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// countOnes returns the number of set bits in buf.
func countOnes(buf []byte) int {
	total := 0
	for _, b := range buf {
		total += bits.OnesCount8(b)
	}
	return total
}
