package entropy

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeSource replays a scripted sequence of fetch results. Produced
// bytes are a sequential counter so tests can assert ordering and
// concatenation. Once the script runs out every fetch is a full read.
type fakeSource struct {
	mu           sync.Mutex
	script       []fetchStep
	calls        int
	initCalls    int
	destroyCalls int
	initErr      error
	next         byte
}

type fetchStep struct {
	n   int // -1 means fill everything asked for
	err error
}

func (f *fakeSource) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeSource) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls++
	return nil
}

func (f *fakeSource) Fetch(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	st := fetchStep{n: -1}
	if len(f.script) > 0 {
		st = f.script[0]
		f.script = f.script[1:]
	}
	if st.err != nil {
		return 0, st.err
	}
	n := st.n
	if n == -1 || n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = f.next
		f.next++
	}
	return n, nil
}

func readySvc(t *testing.T, src Source, opts ...Option) *Service {
	t.Helper()
	s := New(src, opts...)
	require.NoError(t, s.Init())
	return s
}

func TestInitIdempotent(t *testing.T) {
	src := &fakeSource{}
	s := New(src)
	require.NoError(t, s.Init())
	require.NoError(t, s.Init())
	assert.Equal(t, 1, src.initCalls, "hardware must not be re-acquired")
	assert.Equal(t, StateReady, s.State())
}

func TestInitFailureLeavesUninitialized(t *testing.T) {
	src := &fakeSource{initErr: errors.New("no device")}
	s := New(src)
	err := s.Init()
	require.ErrorIs(t, err, ErrCreationFailed)
	assert.Equal(t, StateUninitialized, s.State())

	// A later attempt against recovered hardware succeeds.
	src.mu.Lock()
	src.initErr = nil
	src.mu.Unlock()
	require.NoError(t, s.Init())
	assert.Equal(t, StateReady, s.State())
}

func TestInitAfterDestroyFails(t *testing.T) {
	src := &fakeSource{}
	s := readySvc(t, src)
	require.NoError(t, s.Destroy())
	require.ErrorIs(t, s.Init(), ErrCreationFailed)
	assert.Equal(t, StateDestroyed, s.State())
}

func TestDestroy(t *testing.T) {
	src := &fakeSource{}

	// Destroy before Init is a no-op success.
	s := New(src)
	require.NoError(t, s.Destroy())
	assert.Equal(t, 0, src.destroyCalls)
	assert.Equal(t, StateUninitialized, s.State())

	require.NoError(t, s.Init())
	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy())
	assert.Equal(t, 1, src.destroyCalls)
	assert.Equal(t, StateDestroyed, s.State())
}

func TestFillBeforeInitAndAfterDestroy(t *testing.T) {
	src := &fakeSource{}
	s := New(src)
	buf := make([]byte, 8)

	require.ErrorIs(t, s.Fill(context.Background(), buf), ErrNotInitialized)
	_, err := s.FillNonBlocking(buf)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, s.Init())
	require.NoError(t, s.Destroy())
	require.ErrorIs(t, s.Fill(context.Background(), buf), ErrNotInitialized)
	assert.Equal(t, 0, src.calls)
}

func TestFillZeroLength(t *testing.T) {
	src := &fakeSource{}
	s := readySvc(t, src)
	require.NoError(t, s.Fill(context.Background(), nil))
	require.NoError(t, s.Fill(context.Background(), []byte{}))
	assert.Equal(t, 0, src.calls, "empty fills must not touch the hardware")
}

func TestFillCallCountWithCappedSource(t *testing.T) {
	// A source that yields at most 5 bytes per call fills 16 bytes in
	// exactly ceil(16/5) = 4 calls.
	src := &fakeSource{script: []fetchStep{{n: 5}, {n: 5}, {n: 5}, {n: 5}}}
	s := readySvc(t, src)
	buf := make([]byte, 16)
	require.NoError(t, s.Fill(context.Background(), buf))
	assert.Equal(t, 4, src.calls)
}

func TestFillConcatenatesPartialReadsInOrder(t *testing.T) {
	src := &fakeSource{script: []fetchStep{{n: 5}, {n: 11}}}
	s := readySvc(t, src)
	buf := make([]byte, 16)
	require.NoError(t, s.Fill(context.Background(), buf))
	assert.Equal(t, 2, src.calls)
	for i := range buf {
		require.Equal(t, byte(i), buf[i], "byte %d out of order", i)
	}
}

func TestFillRetriesEmptyWithinBudget(t *testing.T) {
	const k = 3
	script := make([]fetchStep, k, k+1)
	for i := range script {
		script[i] = fetchStep{n: 0}
	}
	script = append(script, fetchStep{n: -1})
	src := &fakeSource{script: script}
	s := readySvc(t, src, WithPolicy(Policy{MaxEmptyAttempts: 10, EmptyWait: time.Microsecond}))

	buf := make([]byte, 16)
	require.NoError(t, s.Fill(context.Background(), buf))
	assert.Equal(t, k+1, src.calls)
}

func TestFillRetryExhausted(t *testing.T) {
	script := make([]fetchStep, 64)
	for i := range script {
		script[i] = fetchStep{n: 0}
	}
	src := &fakeSource{script: script}
	s := readySvc(t, src, WithPolicy(Policy{MaxEmptyAttempts: 4, EmptyWait: time.Microsecond}))

	buf := make([]byte, 16)
	err := s.Fill(context.Background(), buf)
	require.ErrorIs(t, err, ErrRetryExhausted)

	var hwErr *HardwareError
	assert.False(t, errors.As(err, &hwErr), "slow is not broken")
}

func TestFillHardwareFailureIsFatalButTransient(t *testing.T) {
	devErr := errors.New("bus stall")
	src := &fakeSource{script: []fetchStep{{n: 5}, {err: devErr}}}
	s := readySvc(t, src)

	buf := make([]byte, 16)
	err := s.Fill(context.Background(), buf)
	var hwErr *HardwareError
	require.ErrorAs(t, err, &hwErr)
	require.ErrorIs(t, err, devErr)

	// The fault does not poison the service: the next fill succeeds.
	assert.Equal(t, StateReady, s.State())
	require.NoError(t, s.Fill(context.Background(), buf))
}

func TestFillRejectsOversizedReport(t *testing.T) {
	src := overclaimSource{}
	s := readySvc(t, src)
	buf := make([]byte, 16)
	err := s.Fill(context.Background(), buf)
	var hwErr *HardwareError
	require.ErrorAs(t, err, &hwErr)
}

func TestFillContextDeadline(t *testing.T) {
	// A dry source plus a short deadline: the caller-supplied context
	// bounds the whole blocking call.
	script := make([]fetchStep, 10000)
	for i := range script {
		script[i] = fetchStep{n: 0}
	}
	src := &fakeSource{script: script}
	s := readySvc(t, src, WithPolicy(Policy{MaxEmptyAttempts: 10000, EmptyWait: time.Millisecond}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Fill(ctx, make([]byte, 16))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFillNonBlocking(t *testing.T) {
	src := &fakeSource{script: []fetchStep{
		{n: -1},
		{n: 5},
		{n: 0},
		{err: errors.New("bus stall")},
	}}
	s := readySvc(t, src)
	buf := make([]byte, 16)

	n, err := s.FillNonBlocking(buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	n, err = s.FillNonBlocking(buf)
	require.ErrorIs(t, err, ErrPartialData)
	assert.Equal(t, 5, n)

	n, err = s.FillNonBlocking(buf)
	require.ErrorIs(t, err, ErrPartialData)
	assert.Equal(t, 0, n)

	var hwErr *HardwareError
	n, err = s.FillNonBlocking(buf)
	require.ErrorAs(t, err, &hwErr)
	assert.Equal(t, 0, n)

	// Never retries internally: four results, four fetches.
	assert.Equal(t, 4, src.calls)

	n, err = s.FillNonBlocking(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 4, src.calls)
}

func TestReader(t *testing.T) {
	src := &fakeSource{script: []fetchStep{{n: 3}, {n: 0}, {n: -1}}}
	s := readySvc(t, src, WithPolicy(Policy{MaxEmptyAttempts: 10, EmptyWait: time.Microsecond}))

	buf := make([]byte, 8)
	n, err := io.ReadFull(s.Reader(), buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestConcurrentFillsDoNotShareBytes(t *testing.T) {
	defer goleak.VerifyNone(t)

	const (
		callers   = 8
		perCaller = 24
	)
	src := &seqSource{}
	s := readySvc(t, src, WithPolicy(Policy{MaxEmptyAttempts: 1000, EmptyWait: time.Microsecond}))

	bufs := make([][]byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		bufs[i] = make([]byte, perCaller)
		wg.Add(1)
		go func(buf []byte) {
			defer wg.Done()
			assert.NoError(t, s.Fill(context.Background(), buf))
		}(bufs[i])
	}
	wg.Wait()

	// The source hands out each counter value exactly once, so a value
	// showing up twice would mean a byte landed in two buffers.
	seen := make(map[byte]bool, callers*perCaller)
	for _, buf := range bufs {
		for _, b := range buf {
			require.False(t, seen[b], "byte value %d delivered twice", b)
			seen[b] = true
		}
	}
	require.Len(t, seen, callers*perCaller)
}

// overclaimSource reports more bytes than the request had room for.
type overclaimSource struct{}

func (overclaimSource) Init() error    { return nil }
func (overclaimSource) Destroy() error { return nil }
func (overclaimSource) Fetch(p []byte) (int, error) {
	return len(p) + 3, nil
}

// seqSource hands out a global byte counter in small dribbles, with
// periodic empty results to force the retry path under contention.
type seqSource struct {
	mu    sync.Mutex
	next  byte
	calls int
}

func (f *seqSource) Init() error    { return nil }
func (f *seqSource) Destroy() error { return nil }

func (f *seqSource) Fetch(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls%5 == 0 {
		return 0, nil
	}
	n := 7
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = f.next
		f.next++
	}
	return n, nil
}
