// Package metadata implements the key -> string value mapping versioned
// alongside arraysets (§3 "Metadata"). Modeled on tagStore's All/Get/
// Tag/Untag shape, generalized from "one fixed tag name per manifest
// digest" to "an arbitrary key/value label store" since hangar's
// metadata keys (like sample keys) may be int or string.
package metadata

import (
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/samplekey"
)

// Store is the metadata mapping for one checkout, backed by the labels
// logical database (kvstore.DBLabels) and snapshotted in memory the same
// way an arrayset's sample index is.
type Store struct {
	labels   map[samplekey.Key]string
	readOnly bool
}

// New wraps labels (owned by the caller, typically materialized from a
// commit's ref blob) as a metadata view.
func New(labels map[samplekey.Key]string, readOnly bool) *Store {
	if labels == nil {
		labels = map[samplekey.Key]string{}
	}
	return &Store{labels: labels, readOnly: readOnly}
}

// Get returns the value stored at key (§3 "Metadata").
func (s *Store) Get(key samplekey.Key) (string, error) {
	v, ok := s.labels[key]
	if !ok {
		return "", errcode.ErrorCodeNotFound.WithDetail("no metadata at key " + key.String())
	}
	return v, nil
}

// Set records key -> value, overwriting any existing value.
func (s *Store) Set(key samplekey.Key, value string) error {
	if s.readOnly {
		return errcode.ErrorCodePermissionDenied.WithDetail("metadata is read-only")
	}
	s.labels[key] = value
	return nil
}

// Delete removes key's value.
func (s *Store) Delete(key samplekey.Key) error {
	if s.readOnly {
		return errcode.ErrorCodePermissionDenied.WithDetail("metadata is read-only")
	}
	if _, ok := s.labels[key]; !ok {
		return errcode.ErrorCodeNotFound.WithDetail("no metadata at key " + key.String())
	}
	delete(s.labels, key)
	return nil
}

// Contains reports whether key has a recorded value.
func (s *Store) Contains(key samplekey.Key) bool {
	_, ok := s.labels[key]
	return ok
}

// Keys returns every metadata key, ordered per samplekey.Sort (§4.5 ref
// blob ordering: "metadata sorted by key").
func (s *Store) Keys() []samplekey.Key {
	keys := make([]samplekey.Key, 0, len(s.labels))
	for k := range s.labels {
		keys = append(keys, k)
	}
	samplekey.Sort(keys)
	return keys
}

// Len returns the number of metadata entries.
func (s *Store) Len() int { return len(s.labels) }

// Snapshot returns a sorted copy of every key/value pair, for ref-blob
// serialization.
func (s *Store) Snapshot() []Entry {
	keys := s.Keys()
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{Key: k, Value: s.labels[k]}
	}
	return out
}

// Entry is one metadata key/value pair.
type Entry struct {
	Key   samplekey.Key
	Value string
}

// loadFromDB populates a Store's backing map by scanning the labels
// database for prefix (used when materializing a checkout's
// metadata view from the KV store directly rather than from a decoded
// ref blob, e.g. the staging area).
func loadFromDB(txn *kvstore.Txn, prefix []byte) (map[samplekey.Key]string, error) {
	out := map[samplekey.Key]string{}
	err := txn.ScanPrefix(kvstore.DBLabels, prefix, func(rawKey, value []byte) error {
		k, err := samplekey.Parse(string(rawKey[len(prefix):]))
		if err != nil {
			return err
		}
		out[k] = string(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Load materializes a Store from the labels database under prefix.
func Load(txn *kvstore.Txn, prefix []byte, readOnly bool) (*Store, error) {
	labels, err := loadFromDB(txn, prefix)
	if err != nil {
		return nil, err
	}
	return New(labels, readOnly), nil
}

// Persist writes every entry in the store to the labels database under
// prefix, first clearing any existing entries there.
func (s *Store) Persist(txn *kvstore.Txn, prefix []byte) error {
	var existing [][]byte
	if err := txn.ScanPrefix(kvstore.DBLabels, prefix, func(rawKey, _ []byte) error {
		existing = append(existing, append([]byte(nil), rawKey...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range existing {
		if err := txn.Delete(kvstore.DBLabels, k); err != nil {
			return err
		}
	}

	for k, v := range s.labels {
		fullKey := append(append([]byte(nil), prefix...), []byte(k.String())...)
		if err := txn.Set(kvstore.DBLabels, fullKey, []byte(v)); err != nil {
			return err
		}
	}
	return nil
}
