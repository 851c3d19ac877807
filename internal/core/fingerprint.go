package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Fingerprint is the deterministic cache identity of a node's resolved query.
//
// Includes: node kind, resolved SQL text, parameter names and values
// Excludes: node id, sibling order, timestamps
//
// Two nodes resolving to the same SQL and parameters share a fingerprint and
// therefore a cache entry, even across trees.
type Fingerprint string

// fingerprintVersion is written first so a change to the field layout below
// never collides with entries written by an older layout.
const fingerprintVersion = "cohortweaver/fingerprint/v1"

// ComputeFingerprint hashes the resolved query of a node.
//
// The hash is computed over length-prefixed fields in a fixed order:
//  1. Layout version
//  2. Node kind
//  3. Resolved SQL text
//  4. Parameters, sorted by name (name + value)
//
// It is a pure function: identical inputs always produce identical output.
func ComputeFingerprint(node *Node, sql string, params Parameters) Fingerprint {
	hasher := sha256.New()

	var lengthBytes [8]byte
	writeField := func(data []byte) {
		binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
		hasher.Write(lengthBytes[:])
		hasher.Write(data)
	}

	writeField([]byte(fingerprintVersion))

	kind := KindLeaf
	if node != nil {
		kind = node.Kind
	}
	writeField([]byte(kind))

	writeField([]byte(sql))

	names := params.Names()
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(names)))
	writeField(count[:])
	for _, k := range names {
		writeField([]byte(k))
		writeField([]byte(params[k]))
	}

	sum := hasher.Sum(nil)
	return Fingerprint(hex.EncodeToString(sum))
}

// String returns the hex form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Short returns the first 12 characters, for log fields.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
