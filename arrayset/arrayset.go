// Package arrayset implements the typed, schema-constrained container of
// samples described in §4.4: a named mapping of sample key -> digest, with
// validation, deduplication through the hash index, and variable-shape
// support. Modeled on registry/storage/linkedblobstore.go generalized from
// "one blob store per repository name" to "one sample store per arrayset
// name, sharing one repository-wide hash index."
package arrayset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/hashindex"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/samplekey"
	"github.com/hangarstor/hangar/schema"
)

// Value is a sample payload: Data carries little-endian, C-contiguous
// element bytes for tensor samples, or raw UTF-8/bytes for string/bytes
// samples. Shape is only meaningful for tensor samples.
type Value struct {
	Shape []int64
	Data  []byte
}

// Arrayset is a named, schema-constrained container of samples within one
// checkout. It holds an in-memory key -> digest index (materialized by
// the checkout from a commit's ref blob, or accumulated fresh in a writer
// checkout's staging area) and resolves payloads through a shared
// repository-wide hash index.
type Arrayset struct {
	name    string
	sch     schema.Schema
	samples map[samplekey.Key]digest.Digest
	index   *hashindex.Index

	readOnly bool
}

// New constructs an arrayset view. samples is owned by the caller (the
// checkout) and mutated in place by Set/Delete/Append/Update.
func New(name string, sch schema.Schema, samples map[samplekey.Key]digest.Digest, index *hashindex.Index, readOnly bool) (*Arrayset, error) {
	if err := samplekey.ValidateName(name); err != nil {
		return nil, errcode.ErrorCodeInvalidName.WithDetail(err.Error())
	}
	if err := sch.Validate(); err != nil {
		return nil, errcode.ErrorCodeSchemaMismatch.WithDetail(err.Error())
	}
	if samples == nil {
		samples = map[samplekey.Key]digest.Digest{}
	}
	return &Arrayset{name: name, sch: sch, samples: samples, index: index, readOnly: readOnly}, nil
}

// Name returns the arrayset's name.
func (a *Arrayset) Name() string { return a.name }

// Schema returns the arrayset's frozen schema.
func (a *Arrayset) Schema() schema.Schema { return a.sch }

// Len returns the number of samples currently present.
func (a *Arrayset) Len() int { return len(a.samples) }

func (a *Arrayset) payloadKind() digest.Kind {
	switch a.sch.DefaultBackend {
	case "30", "21":
		return digest.KindString
	case "31", "22":
		return digest.KindBytes
	default:
		return digest.KindTensor
	}
}

// canonicalPayload prefixes tensor data with a little-endian rank+shape
// header so Get can recover the sample's runtime shape, matching §4.1's
// "(d) shape prefix" requirement. String/bytes samples have no shape and
// are stored as their raw bytes.
func canonicalPayload(kind digest.Kind, v Value) []byte {
	if kind != digest.KindTensor {
		return v.Data
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(v.Shape)))
	for _, dim := range v.Shape {
		_ = binary.Write(&buf, binary.LittleEndian, dim)
	}
	buf.Write(v.Data)
	return buf.Bytes()
}

func decodeTensorPayload(payload []byte) (Value, error) {
	buf := bytes.NewReader(payload)
	var rank int32
	if err := binary.Read(buf, binary.LittleEndian, &rank); err != nil {
		return Value{}, fmt.Errorf("arrayset: malformed tensor payload: %w", err)
	}
	shape := make([]int64, rank)
	for i := range shape {
		if err := binary.Read(buf, binary.LittleEndian, &shape[i]); err != nil {
			return Value{}, fmt.Errorf("arrayset: malformed tensor payload: %w", err)
		}
	}
	data := make([]byte, buf.Len())
	_, _ = buf.Read(data)
	return Value{Shape: shape, Data: data}, nil
}

// validateValue checks v's shape and byte-length/contiguity against the
// schema for tensor samples (§4.1 "row-major contiguous data"); string
// and bytes samples carry no shape to validate.
func (a *Arrayset) validateValue(kind digest.Kind, v Value) error {
	if kind != digest.KindTensor {
		return nil
	}
	if err := a.sch.ValidateShape(v.Shape); err != nil {
		return errcode.ErrorCodeSchemaMismatch.WithDetail(err.Error())
	}
	wantLen := a.sch.DType.Size()
	for _, dim := range v.Shape {
		wantLen *= int(dim)
	}
	if wantLen != len(v.Data) {
		return errcode.ErrorCodeNonContiguous.WithDetail(
			fmt.Sprintf("expected %d bytes of row-major contiguous data, got %d", wantLen, len(v.Data)))
	}
	return nil
}

// Set validates key and value against the schema, deduplicates through
// the hash index, and records key -> digest (§4.4 "set(key, value)").
func (a *Arrayset) Set(txn *kvstore.Txn, key samplekey.Key, v Value) error {
	if a.readOnly {
		return errcode.ErrorCodePermissionDenied.WithDetail("arrayset is read-only")
	}
	kind := a.payloadKind()
	if err := a.validateValue(kind, v); err != nil {
		return err
	}

	payload := canonicalPayload(kind, v)
	d := digest.FromCanonicalBytes(kind, payload)
	if err := a.index.Put(txn, d, payload, a.sch); err != nil {
		return err
	}
	a.samples[key] = d
	return nil
}

// Get resolves key's digest and reads its payload back through the hash
// index (§4.4 "get(key)").
func (a *Arrayset) Get(txn *kvstore.Txn, key samplekey.Key) (Value, error) {
	d, ok := a.samples[key]
	if !ok {
		return Value{}, errcode.ErrorCodeNotFound.WithDetail(fmt.Sprintf("no sample at key %s in arrayset %q", key, a.name))
	}
	payload, err := a.index.Get(txn, d)
	if err != nil {
		return Value{}, err
	}
	if a.payloadKind() == digest.KindTensor {
		return decodeTensorPayload(payload)
	}
	return Value{Data: payload}, nil
}

// Delete removes key's mapping. The payload remains a GC candidate until
// no reachable commit references its digest; GC is out of scope (§4.4).
func (a *Arrayset) Delete(key samplekey.Key) error {
	if a.readOnly {
		return errcode.ErrorCodePermissionDenied.WithDetail("arrayset is read-only")
	}
	if _, ok := a.samples[key]; !ok {
		return errcode.ErrorCodeNotFound.WithDetail(fmt.Sprintf("no sample at key %s in arrayset %q", key, a.name))
	}
	delete(a.samples, key)
	return nil
}

// Append assigns a generated unique integer key and stores value under it
// (§4.4 "append(value)").
func (a *Arrayset) Append(txn *kvstore.Txn, v Value) (samplekey.Key, error) {
	if a.readOnly {
		return samplekey.Key{}, errcode.ErrorCodePermissionDenied.WithDetail("arrayset is read-only")
	}
	var next uint64
	for k := range a.samples {
		if k.Kind() == samplekey.KindInt && k.IntValue() >= next {
			next = k.IntValue() + 1
		}
	}
	key := samplekey.Int(next)
	if err := a.Set(txn, key, v); err != nil {
		return samplekey.Key{}, err
	}
	return key, nil
}

// stagedSample is one Update entry after validation and canonicalization,
// ready to be written to the hash index and then to a.samples.
type stagedSample struct {
	key     samplekey.Key
	digest  digest.Digest
	payload []byte
}

// Update is a bulk Set over kvs, validating and canonicalizing every
// entry before applying any of them, matching Python-dict update's
// all-or-nothing semantics (§4.4 "update(...) failing ValueError on
// malformed input without applying any partial result"). Every entry is
// staged (schema/shape/byte-length checked, digest computed) before
// a.samples is touched, so a single malformed entry anywhere in kvs
// leaves the arrayset exactly as it was.
func (a *Arrayset) Update(txn *kvstore.Txn, kvs map[samplekey.Key]Value) error {
	if a.readOnly {
		return errcode.ErrorCodePermissionDenied.WithDetail("arrayset is read-only")
	}
	kind := a.payloadKind()

	staged := make([]stagedSample, 0, len(kvs))
	for key, v := range kvs {
		if err := a.validateValue(kind, v); err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
		payload := canonicalPayload(kind, v)
		staged = append(staged, stagedSample{
			key:     key,
			digest:  digest.FromCanonicalBytes(kind, payload),
			payload: payload,
		})
	}

	for _, s := range staged {
		if err := a.index.Put(txn, s.digest, s.payload, a.sch); err != nil {
			return err
		}
	}
	for _, s := range staged {
		a.samples[s.key] = s.digest
	}
	return nil
}

// Keys returns every sample key present, ordered per samplekey.Sort
// (integer keys before string keys), safe to call while a writer
// continues to insert into the same arrayset (§4.4 iteration guarantee):
// it snapshots the key set at call time.
func (a *Arrayset) Keys() []samplekey.Key {
	keys := make([]samplekey.Key, 0, len(a.samples))
	for k := range a.samples {
		keys = append(keys, k)
	}
	samplekey.Sort(keys)
	return keys
}

// Contains reports whether key is present.
func (a *Arrayset) Contains(key samplekey.Key) bool {
	_, ok := a.samples[key]
	return ok
}

// DigestAt returns key's digest directly, without resolving the payload
// through the hash index. Used by the staging/commit engine to build a
// ref blob's sample list.
func (a *Arrayset) DigestAt(key samplekey.Key) (digest.Digest, bool) {
	d, ok := a.samples[key]
	return d, ok
}

// RemoteSampleKeys returns every key whose digest currently resolves to
// the reserved unfetched-remote placeholder (§4.4).
func (a *Arrayset) RemoteSampleKeys(txn *kvstore.Txn) ([]samplekey.Key, error) {
	var out []samplekey.Key
	for k, d := range a.samples {
		raw, err := txn.Get(kvstore.DBHashes, []byte(d))
		if err != nil {
			continue
		}
		if hashindex.IsRemoteReference(string(raw)) {
			out = append(out, k)
		}
	}
	samplekey.Sort(out)
	return out, nil
}

// ContainsRemoteReferences reports whether any sample's digest resolves
// to the unfetched-remote placeholder.
func (a *Arrayset) ContainsRemoteReferences(txn *kvstore.Txn) (bool, error) {
	keys, err := a.RemoteSampleKeys(txn)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Digests returns the full set of digests referenced by this arrayset,
// sorted for deterministic iteration (used by the staging/commit engine
// to build the ref blob, and by the remote protocol's reconciliation
// phases to compute missing sample-digest sets).
func (a *Arrayset) Digests() []digest.Digest {
	seen := map[digest.Digest]struct{}{}
	for _, d := range a.samples {
		seen[d] = struct{}{}
	}
	out := make([]digest.Digest, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
