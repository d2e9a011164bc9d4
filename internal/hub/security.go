// Package hub is the alert relay: an ingest gateway that signs and forwards
// alerts, and a bridge endpoint that verifies, deduplicates, and pushes them.
package hub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature returns the hex HMAC-SHA256 of body under secret. The
// signature covers the exact bytes on the wire; re-marshalling on either side
// would break verification.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks sig against body in constant time.
func VerifySignature(secret string, body []byte, sig string) bool {
	want := ComputeSignature(secret, body)
	return hmac.Equal([]byte(want), []byte(sig))
}
