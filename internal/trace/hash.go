package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash computes the TraceHash of a canonical trace encoding.
//
// The input must already be canonical (see ExecutionTrace.CanonicalJSON);
// the hash is sha256 over those bytes, hex-encoded.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
