// Package entropy turns an unreliable hardware true-random-number
// generator into a dependable stream of random bytes. A Source delivers
// whatever entropy it has available right now, possibly less than asked
// for; the Service layers lifecycle management, serialized hardware
// access and a bounded retry loop on top, so callers can request a
// fully populated buffer of any size.
package entropy
