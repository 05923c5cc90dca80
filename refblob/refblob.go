// Package refblob implements the canonical serialisation of a commit's
// full arrayset+metadata state (§3 "Commit", §4.5 step 2) and the commit
// digest computation over parents ∥ spec ∥ ref blob. Modeled on the
// teacher's manifest canonicalization discipline (deterministic byte
// encoding before hashing, e.g. `manifest/schema2`), generalized from
// "one manifest's layer list" to "every arrayset's sample index plus
// every metadata pair".
package refblob

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/samplekey"
)

// Sample is one (key, digest) pair within an arrayset.
type Sample struct {
	Key    samplekey.Key
	Digest digest.Digest
}

// ArraysetRecord is one arrayset's committed state: its schema digest and
// its full sample index.
type ArraysetRecord struct {
	Name         string
	SchemaDigest digest.Digest
	Samples      []Sample
}

// MetadataEntry is one metadata key/value pair.
type MetadataEntry struct {
	Key   samplekey.Key
	Value string
}

// RefBlob is the canonical serialised state of a commit (§3 "Ref blob").
type RefBlob struct {
	Arraysets []ArraysetRecord
	Metadata  []MetadataEntry
}

// CanonicalBytes serialises r with the stable ordering §4.5 step 2
// requires: arraysets sorted by name, samples within each arrayset
// sorted by key (integer keys before string keys), metadata sorted by
// key.
func (r RefBlob) CanonicalBytes() []byte {
	arraysets := append([]ArraysetRecord(nil), r.Arraysets...)
	sort.Slice(arraysets, func(i, j int) bool { return arraysets[i].Name < arraysets[j].Name })

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(arraysets)))
	for _, as := range arraysets {
		writeString(&buf, as.Name)
		writeString(&buf, as.SchemaDigest.String())

		samples := append([]Sample(nil), as.Samples...)
		sort.Slice(samples, func(i, j int) bool { return samples[i].Key.Less(samples[j].Key) })
		_ = binary.Write(&buf, binary.LittleEndian, int32(len(samples)))
		for _, s := range samples {
			writeString(&buf, s.Key.String())
			writeString(&buf, s.Digest.String())
		}
	}

	metadata := append([]MetadataEntry(nil), r.Metadata...)
	sort.Slice(metadata, func(i, j int) bool { return metadata[i].Key.Less(metadata[j].Key) })
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(metadata)))
	for _, m := range metadata {
		writeString(&buf, m.Key.String())
		writeString(&buf, m.Value)
	}

	return buf.Bytes()
}

// Digest returns the ref blob's own content digest; the commit digest covers
// parents ∥ spec ∥ this blob's bytes, not this digest, per §3 "Commit".
func (r RefBlob) Digest() digest.Digest {
	return digest.FromCanonicalBytes(digest.KindCommit, r.CanonicalBytes())
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, int32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("refblob: negative length prefix")
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Decode parses b, previously produced by CanonicalBytes, back into a
// RefBlob. The ref blob is its own storage format as well as its own
// hash pre-image (§3 "Ref-blob is the canonical serialisation..."), so
// one encoding serves both purposes.
func Decode(b []byte) (RefBlob, error) {
	r := bytes.NewReader(b)

	var numArraysets int32
	if err := binary.Read(r, binary.LittleEndian, &numArraysets); err != nil {
		return RefBlob{}, err
	}
	arraysets := make([]ArraysetRecord, numArraysets)
	for i := range arraysets {
		name, err := readString(r)
		if err != nil {
			return RefBlob{}, err
		}
		schemaDigestStr, err := readString(r)
		if err != nil {
			return RefBlob{}, err
		}
		var numSamples int32
		if err := binary.Read(r, binary.LittleEndian, &numSamples); err != nil {
			return RefBlob{}, err
		}
		samples := make([]Sample, numSamples)
		for j := range samples {
			keyStr, err := readString(r)
			if err != nil {
				return RefBlob{}, err
			}
			digestStr, err := readString(r)
			if err != nil {
				return RefBlob{}, err
			}
			key, err := samplekey.Parse(keyStr)
			if err != nil {
				return RefBlob{}, err
			}
			samples[j] = Sample{Key: key, Digest: digest.Digest(digestStr)}
		}
		arraysets[i] = ArraysetRecord{Name: name, SchemaDigest: digest.Digest(schemaDigestStr), Samples: samples}
	}

	var numMetadata int32
	if err := binary.Read(r, binary.LittleEndian, &numMetadata); err != nil {
		return RefBlob{}, err
	}
	metadata := make([]MetadataEntry, numMetadata)
	for i := range metadata {
		keyStr, err := readString(r)
		if err != nil {
			return RefBlob{}, err
		}
		value, err := readString(r)
		if err != nil {
			return RefBlob{}, err
		}
		key, err := samplekey.Parse(keyStr)
		if err != nil {
			return RefBlob{}, err
		}
		metadata[i] = MetadataEntry{Key: key, Value: value}
	}

	return RefBlob{Arraysets: arraysets, Metadata: metadata}, nil
}

// Spec carries a commit's author, timestamp, and message (§3 "Commit").
// Timestamp is a caller-supplied Unix-seconds value rather than time.Time
// so canonical encoding is a fixed-width integer, not a locale-dependent
// string.
type Spec struct {
	Author    string
	Timestamp int64
	Message   string
}

func (s Spec) canonicalBytes() []byte {
	var buf bytes.Buffer
	writeString(&buf, s.Author)
	_ = binary.Write(&buf, binary.LittleEndian, s.Timestamp)
	writeString(&buf, s.Message)
	return buf.Bytes()
}

// CommitDigest computes the commit digest over parent digests (in the
// order given, which callers must keep deterministic — refs.MergeBranches
// passes master's head before other's) ∥ canonical spec ∥ ref blob bytes (§3 "Commit": "The
// commit digest is computed over parent digests ∥ spec ∥ ref-blob so
// identical states with identical history produce identical digests").
func CommitDigest(parents []digest.Digest, spec Spec, blob RefBlob) digest.Digest {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(parents)))
	for _, p := range parents {
		writeString(&buf, p.String())
	}
	buf.Write(spec.canonicalBytes())
	buf.Write(blob.CanonicalBytes())
	return digest.FromCanonicalBytes(digest.KindCommit, buf.Bytes())
}

// Validate reports a non-nil error if r is internally inconsistent (e.g.
// a duplicate arrayset name). The commit path in checkout does not call
// it.
func (r RefBlob) Validate() error {
	seen := map[string]struct{}{}
	for _, as := range r.Arraysets {
		if _, ok := seen[as.Name]; ok {
			return fmt.Errorf("refblob: duplicate arrayset name %q", as.Name)
		}
		seen[as.Name] = struct{}{}

		sampleSeen := map[string]struct{}{}
		for _, s := range as.Samples {
			if _, ok := sampleSeen[s.Key.String()]; ok {
				return fmt.Errorf("refblob: duplicate sample key %s in arrayset %q", s.Key, as.Name)
			}
			sampleSeen[s.Key.String()] = struct{}{}
		}
	}
	return nil
}
