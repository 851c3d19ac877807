package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// GraphHash is the identity of a compiled graph: its shape plus the
// fingerprint of every task. Unlike a fingerprint it includes node ids, so
// two trees sharing cache entries still hash differently.
type GraphHash string

func (h GraphHash) String() string { return string(h) }

// Hash computes the graph identity over length-prefixed fields:
//  1. Task count
//  2. Per task, in canonical order: id, kind, fingerprint, child ids
//
// It fails only when a task's query text cannot be built.
func (g *Graph) Hash() (GraphHash, error) {
	h := sha256.New()

	var lengthBytes [8]byte
	writeField := func(data []byte) {
		binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
		h.Write(lengthBytes[:])
		h.Write(data)
	}
	writeCount := func(n int) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		writeField(b[:])
	}

	writeCount(len(g.tasks))
	for _, t := range g.tasks {
		fp, err := t.Fingerprint()
		if err != nil {
			return "", err
		}
		writeField([]byte(t.ID()))
		writeField([]byte(t.Kind()))
		writeField([]byte(fp))
		writeCount(len(t.children))
		for _, c := range t.children {
			writeField([]byte(c.ID()))
		}
	}

	return GraphHash(hex.EncodeToString(h.Sum(nil))), nil
}
