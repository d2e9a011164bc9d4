package hub

import (
	"strings"
	"time"
)

// SanitizeASCII strips non-ASCII runes and whitespace from s. Instrument IDs
// may carry symbols like Δ that have no place in an idempotency key; both the
// gateway and the relay sanitize, so a key derived on either side of the wire
// comes out identical.
func SanitizeASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r > 32 && r < 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IdempotencyKey derives the canonical dedup key for one alert occurrence.
// The timestamp is truncated to the minute in UTC, so retries of the same
// observation collapse onto one key while distinct cycles do not.
func IdempotencyKey(instrumentID, level string, observedAt time.Time) string {
	ts := observedAt.UTC().Truncate(time.Minute).Format("20060102T150405Z")
	return "SN-" + SanitizeASCII(instrumentID) + "-" + SanitizeASCII(level) + "-" + ts
}
