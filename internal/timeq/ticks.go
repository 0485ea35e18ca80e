package timeq

import "time"

// Unsigned is a free-running counter width.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// CompareWrapping orders two readings of a wrapping counter. The difference
// is read as a signed value, so a reading taken just after rollover still
// compares later than one taken just before it. Readings more than half the
// counter range apart compare the wrong way round.
func CompareWrapping[T Unsigned](a, b T) int {
	d := a - b
	half := ^T(0)>>1 + 1
	switch {
	case d == 0:
		return 0
	case d < half:
		return 1
	default:
		return -1
	}
}

// Instant is a reading of the 32-bit monotonic counter.
type Instant uint32

// Duration is a number of ticks.
type Duration uint32

// Add returns i+d, wrapping.
func (i Instant) Add(d Duration) Instant { return i + Instant(d) }

// Since returns the ticks from j to i, negative if j is later.
func (i Instant) Since(j Instant) int32 { return int32(i - j) }

// Compare orders i and j across rollover.
func (i Instant) Compare(j Instant) int { return CompareWrapping(i, j) }

// AtLeast reports whether i is j or later.
func (i Instant) AtLeast(j Instant) bool { return i.Compare(j) >= 0 }

// Before reports whether i is earlier than j.
func (i Instant) Before(j Instant) bool { return i.Compare(j) < 0 }

// Rate is the tick frequency of a monotonic.
type Rate struct {
	Hz int
}

// Ticks converts d to ticks, rounding up so a wait is never shorter than d.
func (r Rate) Ticks(d time.Duration) Duration {
	if d <= 0 {
		return 0
	}
	hz := int64(r.hz())
	n := (int64(d)*hz + int64(time.Second) - 1) / int64(time.Second)
	if n > int64(^uint32(0)>>1) {
		n = int64(^uint32(0) >> 1)
	}
	return Duration(n)
}

// Duration converts a tick count to wall time.
func (r Rate) Duration(t Duration) time.Duration {
	return time.Duration(int64(t) * int64(time.Second) / int64(r.hz()))
}

// Period is the length of one tick.
func (r Rate) Period() time.Duration { return r.Duration(1) }

func (r Rate) hz() int {
	if r.Hz <= 0 {
		return 1000
	}
	return r.Hz
}
