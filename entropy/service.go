package entropy

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Service. A service starts
// Uninitialized, becomes Ready after a successful Init, and ends up
// Destroyed after Destroy. There is no way back from Destroyed.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDestroyed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// Policy bounds how long a blocking fill keeps retrying while the
// source reports that no entropy is ready. Hardware entropy pools
// refill on the order of milliseconds, so the default budget is
// generous but finite.
type Policy struct {
	// MaxEmptyAttempts is the number of consecutive empty fetches
	// tolerated before Fill gives up with ErrRetryExhausted. The
	// counter resets whenever the source makes progress.
	MaxEmptyAttempts int

	// EmptyWait is how long Fill waits after an empty fetch before
	// trying again. The wait never holds the source lock, so other
	// callers can interleave their own fetches.
	EmptyWait time.Duration
}

// DefaultPolicy allows roughly 200ms of a completely dry source before
// a blocking fill fails.
var DefaultPolicy = Policy{
	MaxEmptyAttempts: 200,
	EmptyWait:        time.Millisecond,
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithPolicy overrides the retry policy used by Fill. Zero or negative
// fields fall back to their DefaultPolicy values.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger attaches a logger to the service. The default discards
// everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// Service adapts a raw hardware entropy Source into a dependable byte
// stream. It owns the source's lifecycle, serializes every device
// exchange, and composes a blocking fill out of single non-blocking
// fetch attempts.
//
// A Service is safe for concurrent use. Each caller's destination
// buffer is only ever written by that caller's own fetches, so no byte
// can appear in two buffers. Destroy must not race an in-flight fill;
// that synchronization is the caller's obligation.
type Service struct {
	mu     sync.Mutex // guards state and all Source calls
	state  State
	src    Source
	policy Policy
	log    zerolog.Logger
}

// New creates a service over src. The service is Uninitialized until
// Init is called.
func New(src Source, opts ...Option) *Service {
	s := &Service{
		src:    src,
		policy: DefaultPolicy,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxEmptyAttempts <= 0 {
		s.policy.MaxEmptyAttempts = DefaultPolicy.MaxEmptyAttempts
	}
	if s.policy.EmptyWait <= 0 {
		s.policy.EmptyWait = DefaultPolicy.EmptyWait
	}
	return s
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init brings up the source and moves the service to Ready. Calling
// Init on a service that is already Ready succeeds without touching the
// hardware again. A destroyed service cannot be revived: Init then
// fails with ErrCreationFailed. If the source fails to come up the
// service stays Uninitialized.
func (s *Service) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return nil
	case StateDestroyed:
		return fmt.Errorf("%w: service was destroyed", ErrCreationFailed)
	}
	if err := s.src.Init(); err != nil {
		s.log.Error().Err(err).Msg("entropy source init failed")
		return fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	s.state = StateReady
	s.log.Debug().Msg("entropy service ready")
	return nil
}

// Destroy tears down the source and moves the service to Destroyed.
// Destroying an Uninitialized or already Destroyed service is a no-op
// success. Destroy must not be called while fills are outstanding.
func (s *Service) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil
	}
	s.state = StateDestroyed
	if err := s.src.Destroy(); err != nil {
		s.log.Error().Err(err).Msg("entropy source destroy failed")
		return &HardwareError{Err: err}
	}
	s.log.Debug().Msg("entropy service destroyed")
	return nil
}

// Outcome classification for a single fetch attempt.
type fetchKind uint8

const (
	fetchFull fetchKind = iota
	fetchPartial
	fetchEmpty
	fetchFailed
)

type fetchOutcome struct {
	kind fetchKind
	n    int
	err  error
}

// attempt performs exactly one serialized fetch into dst[off:] and
// classifies the result. Retrying is the caller's job, never attempt's.
func (s *Service) attempt(dst []byte, off int) fetchOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return fetchOutcome{kind: fetchFailed, err: ErrNotInitialized}
	}
	room := dst[off:]
	n, err := s.src.Fetch(room)
	switch {
	case err != nil:
		s.log.Error().Err(err).Msg("entropy source fetch failed")
		return fetchOutcome{kind: fetchFailed, err: &HardwareError{Err: err}}
	case n < 0 || n > len(room):
		// A size outside the requested capacity means the device
		// contract is corrupted; nothing in dst can be trusted.
		err := fmt.Errorf("source reported %d bytes for a %d byte request", n, len(room))
		s.log.Error().Err(err).Msg("entropy source violated fetch contract")
		return fetchOutcome{kind: fetchFailed, err: &HardwareError{Err: err}}
	case n == len(room):
		return fetchOutcome{kind: fetchFull, n: n}
	case n == 0:
		return fetchOutcome{kind: fetchEmpty}
	default:
		return fetchOutcome{kind: fetchPartial, n: n}
	}
}

func (s *Service) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return ErrNotInitialized
	}
	return nil
}

// FillNonBlocking makes a single attempt to fill p and returns how many
// bytes were produced. A short count comes back with ErrPartialData;
// the n bytes that were written are valid random data and may be used.
// A *HardwareError means the device faulted and nothing in p can be
// trusted. FillNonBlocking never retries.
func (s *Service) FillNonBlocking(p []byte) (int, error) {
	if len(p) == 0 {
		if err := s.ready(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	out := s.attempt(p, 0)
	switch out.kind {
	case fetchFull:
		return out.n, nil
	case fetchPartial, fetchEmpty:
		return out.n, ErrPartialData
	default:
		return 0, out.err
	}
}

// Fill populates all of p with random bytes before returning nil. It
// keeps issuing single fetch attempts, appending whatever each one
// produces, and waits out empty attempts within the retry policy's
// budget. If the source faults, if the budget runs out, or if ctx is
// done, Fill returns the corresponding error and the contents of p are
// not random data: the caller must discard them, even though some bytes
// may have been physically written.
//
// Filling an empty buffer succeeds without touching the hardware.
func (s *Service) Fill(ctx context.Context, p []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	written := 0
	empties := 0
	for written < len(p) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out := s.attempt(p, written)
		switch out.kind {
		case fetchFull, fetchPartial:
			written += out.n
			empties = 0
		case fetchEmpty:
			empties++
			if empties > s.policy.MaxEmptyAttempts {
				return fmt.Errorf("%w: no entropy in %d attempts", ErrRetryExhausted, s.policy.MaxEmptyAttempts)
			}
			// Let the pool refill. The source lock is free here so
			// other callers can interleave their own attempts.
			t := time.NewTimer(s.policy.EmptyWait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		default:
			return out.err
		}
	}
	return nil
}

// Reader exposes the blocking fill as an io.Reader. Read fills p
// completely or fails; it never returns a short count with nil error.
func (s *Service) Reader() io.Reader {
	return reader{s: s}
}

type reader struct {
	s *Service
}

func (r reader) Read(p []byte) (int, error) {
	if err := r.s.Fill(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}
