package swap

import "time"

// DeadlinePolicy decides which deadline accompanies a router call. A zero
// result means the swap carries no deadline.
type DeadlinePolicy struct {
	// Offset is added to the current time when the request carries no
	// deadline of its own. Zero disables the default deadline.
	Offset time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Resolve returns requested when set, otherwise now+Offset, otherwise the
// zero time.
func (p DeadlinePolicy) Resolve(requested time.Time) time.Time {
	if !requested.IsZero() {
		return requested
	}
	if p.Offset <= 0 {
		return time.Time{}
	}
	return p.now().Add(p.Offset)
}

// Expired reports whether deadline lies strictly in the past.
func (p DeadlinePolicy) Expired(deadline time.Time) bool {
	return !deadline.IsZero() && p.now().After(deadline)
}

func (p DeadlinePolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
