// Package fingerprint computes the request fingerprint used only for log
// fields and counters (spec.md §3): the tuple of caller API key id,
// upstream target, and normalized body hash. It is never used as a scan
// result cache key — content-dependent decisions always re-run.
package fingerprint

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies a request for logging/counting purposes.
type Fingerprint struct {
	KeyID    string
	Upstream string
	BodyHash string
}

// Compute builds a Fingerprint from the caller's key ID, the upstream
// target name, and the raw request body. The body hash uses xxhash-64 for
// speed, matching the teacher's policy-cache key hashing (non-cryptographic,
// used only for identification, not security).
func Compute(keyID, upstream string, body []byte) Fingerprint {
	h := xxhash.Sum64(body)
	return Fingerprint{
		KeyID:    keyID,
		Upstream: upstream,
		BodyHash: strconv.FormatUint(h, 16),
	}
}

// String returns a stable log-friendly representation.
func (f Fingerprint) String() string {
	return f.KeyID + ":" + f.Upstream + ":" + f.BodyHash
}
