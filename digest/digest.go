// Package digest computes and parses the content digests used throughout
// hangar to address tensors, strings, bytes payloads, schemas and commits.
//
// A Digest is a kind-prefixed, algorithm-prefixed hex string, e.g.
//
//	tensor:blake3:7173b809ca12ec5dee4506cd86be934c4596dd234ee82c0662eac04a8c2c71dc
//
// The kind prefix selects the canonical byte encoding used before hashing;
// the algorithm prefix selects the hash function. Keeping both in the
// digest string lets the store recognize stale digests if either encoding
// or algorithm is migrated in a future kind revision.
package digest

import (
	"encoding/hex"
	"fmt"
	"strings"

	digestpkg "github.com/opencontainers/go-digest"
	"lukechampine.com/blake3"
)

// Kind selects the canonical serializer and hash function for a payload.
type Kind string

const (
	// KindTensor hashes a normalized, canonically-serialized dense array.
	KindTensor Kind = "tensor"
	// KindString hashes UTF-8 string sample payloads.
	KindString Kind = "string"
	// KindBytes hashes opaque byte-string sample payloads.
	KindBytes Kind = "bytes"
	// KindSchema hashes a canonical schema encoding.
	KindSchema Kind = "schema"
	// KindCommit hashes parent digests + spec + ref blob.
	KindCommit Kind = "commit"
)

// Algorithm names the hash function backing a Kind.
type Algorithm string

const (
	AlgorithmBlake3  Algorithm = "blake3"
	AlgorithmSHA256  Algorithm = "sha256"
)

// algorithmForKind fixes the hash function per payload kind, per §4.1: a
// cryptographic hash for tensors, a deterministic canonical-byte hash for
// everything else. Both happen to be collision-resistant in this
// implementation; the distinction is kept so a future kind can move
// tensors to a different algorithm without touching string/bytes digests.
func algorithmForKind(k Kind) Algorithm {
	if k == KindTensor {
		return AlgorithmBlake3
	}
	return AlgorithmSHA256
}

// ErrInvalidFormat is returned when a digest string cannot be parsed.
var ErrInvalidFormat = fmt.Errorf("digest: invalid format")

// Digest is an opaque, lowercase-hex content identifier. Equal digests
// imply identical canonical-encoded content (invariant §3.2).
type Digest string

// FromCanonicalBytes hashes already-canonicalized payload bytes (row-major,
// little-endian, rank+shape prefixed for tensors; raw UTF-8/bytes for the
// rest) under the algorithm fixed for kind. The tensor prefix carries no
// dtype tag, so two tensors with equal shape and equal raw bytes but
// different dtypes share a digest.
func FromCanonicalBytes(k Kind, p []byte) Digest {
	alg := algorithmForKind(k)
	var hexSum string
	switch alg {
	case AlgorithmBlake3:
		sum := blake3.Sum256(p)
		hexSum = hex.EncodeToString(sum[:])
	default:
		hexSum = digestpkg.FromBytes(p).Encoded()
	}
	return Digest(fmt.Sprintf("%s:%s:%s", k, alg, hexSum))
}

// Parse validates s and returns it as a Digest.
func Parse(s string) (Digest, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}
	switch Kind(parts[0]) {
	case KindTensor, KindString, KindBytes, KindSchema, KindCommit:
	default:
		return "", ErrInvalidFormat
	}
	switch Algorithm(parts[1]) {
	case AlgorithmBlake3, AlgorithmSHA256:
	default:
		return "", ErrInvalidFormat
	}
	if parts[2] == "" {
		return "", ErrInvalidFormat
	}
	if _, err := hex.DecodeString(parts[2]); err != nil {
		return "", ErrInvalidFormat
	}
	return Digest(s), nil
}

// Kind returns the payload kind encoded in the digest. Panics on a
// malformed digest, matching opencontainers/go-digest.Digest.Algorithm
// semantics for well-formed-by-construction values.
func (d Digest) Kind() Kind {
	return Kind(d.part(0))
}

// Algorithm returns the hash algorithm encoded in the digest.
func (d Digest) Algorithm() Algorithm {
	return Algorithm(d.part(1))
}

// Hex returns the hash hex digits, without kind/algorithm prefixes.
func (d Digest) Hex() string {
	return d.part(2)
}

func (d Digest) part(i int) string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) != 3 {
		panic("digest: invalid digest " + string(d))
	}
	return parts[i]
}

func (d Digest) String() string {
	return string(d)
}

// Validate reports whether d is well formed.
func (d Digest) Validate() error {
	_, err := Parse(string(d))
	return err
}
