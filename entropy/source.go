package entropy

// Source is a hardware entropy source. Implementations wrap one
// physical device (or the OS entropy pool) and are not required to be
// safe for concurrent use; the Service serializes all calls.
type Source interface {
	// Init brings up whatever device state the source needs. Called at
	// most once per service lifetime, before any Fetch.
	Init() error

	// Destroy releases device state. Called at most once, after which
	// the source is never used again.
	Destroy() error

	// Fetch writes up to len(p) random bytes into p and reports how
	// many it produced. It must not block beyond a short bounded device
	// exchange: if the device has no entropy ready it returns (0, nil)
	// and the caller retries later. A non-nil error means the device
	// faulted and anything written into p must not be trusted.
	Fetch(p []byte) (int, error)
}
