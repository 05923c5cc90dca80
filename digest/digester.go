package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"lukechampine.com/blake3"
)

// Digester accumulates written bytes and produces a final Digest, mirroring
// the resumable-digest pattern the teacher's blobWriter uses while
// streaming an upload to a backend.
type Digester interface {
	Hash() hash.Hash
	Digest() Digest
}

type digester struct {
	kind Kind
	h    hash.Hash
}

// NewDigester returns a Digester for kind, backed by the algorithm fixed
// for that kind.
func NewDigester(k Kind) Digester {
	var h hash.Hash
	if algorithmForKind(k) == AlgorithmBlake3 {
		h = blake3.New(32, nil)
	} else {
		h = sha256.New()
	}
	return &digester{kind: k, h: h}
}

func (d *digester) Hash() hash.Hash {
	return d.h
}

func (d *digester) Digest() Digest {
	sum := d.h.Sum(nil)
	return Digest(string(d.kind) + ":" + string(algorithmForKind(d.kind)) + ":" + hex.EncodeToString(sum))
}
