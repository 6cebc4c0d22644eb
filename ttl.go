package mudis

import "time"

// effectiveTTL implements the TTL Engine's clamp/default algorithm (C6,
// §4.6):
//  1. If requested is nil (the caller did not pass WithTTL at all), fall
//     back to defaultTTL (itself may be zero, meaning "never expires").
//  2. A requested TTL of exactly zero is a distinct, explicit request —
//     "expires immediately" (§8's boundary scenario) — never confused with
//     "no TTL was requested at all".
//  3. Otherwise clamp the chosen TTL to maxTTL when maxTTL is set.
//
// The second return value reports whether the caller explicitly asked for
// immediate expiry; expiresAt uses it to produce an already-expired
// deadline rather than the "never expires" zero deadline.
func effectiveTTL(requested *time.Duration, defaultTTL, maxTTL time.Duration) (ttl time.Duration, immediate bool) {
	if requested != nil && *requested == 0 {
		return 0, true
	}

	chosen := defaultTTL
	if requested != nil {
		chosen = *requested
	}
	if chosen != 0 && maxTTL != 0 && chosen > maxTTL {
		chosen = maxTTL
	}
	return chosen, false
}

// expiresAt computes the absolute UnixNano deadline. A zero, non-immediate
// ttl means "never expires" (returns 0). immediate means the caller
// explicitly requested a zero TTL, which must expire right away rather
// than never: encoded as one nanosecond before now, so it reads as
// already-expired to every subsequent Get/Peek/Sweep check even under a
// frozen test clock, while still never colliding with the reserved
// "never expires" value of zero.
func expiresAt(now int64, ttl time.Duration, immediate bool) int64 {
	if immediate {
		deadline := now - 1
		if deadline == 0 {
			deadline = -1
		}
		return deadline
	}
	if ttl == 0 {
		return 0
	}
	return now + int64(ttl)
}
