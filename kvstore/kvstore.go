// Package kvstore provides the ordered, byte-keyed, transactional key
// value store hangar's higher layers build on (§4.2). It is backed by
// github.com/dgraph-io/badger/v3, an embedded engine with true ACID
// transactions — readers see a consistent snapshot and never block
// writers, and a single writer transaction is active at a time, exactly
// the contract §4.2 specifies for "ordered byte-keyed map with ACID
// single-writer transactions, supporting bulk scans over key prefixes."
//
// The logical databases (refs, branches, hashes, schemas, stage, labels;
// §6's refenv/branchenv/hashenv/stagenv/labelenv plus a separate schemas
// namespace) are implemented as key namespaces within one badger
// instance rather than separate engine instances — badger charges
// per-open-file overhead per instance, and namespacing by prefix gets
// the same isolation with one LSM tree and one write-ahead log. This is
// documented as a deliberate simplification in DESIGN.md.
package kvstore

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// DB names one of the six logical databases.
type DB string

const (
	DBRefs     DB = "refs"
	DBBranches DB = "branches"
	DBHashes   DB = "hashes"
	DBSchemas  DB = "schemas"
	DBStage    DB = "stage"
	DBLabels   DB = "labels"
)

// Store is the opened KV engine for one repository.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the KV store rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the engine and all outstanding transactions become invalid.
func (s *Store) Close() error {
	return s.db.Close()
}

// Txn is a transaction spanning all logical databases. Readers observe a
// serializable snapshot as of the call to View/Update; Update transactions
// are serialized against each other by badger's own writer lock. No
// separate data_writer_lock / hash_reader_lock (§5) is taken around
// groups of these transactions by arrayset or staging code; this type
// only guarantees the storage engine's own atomicity.
type Txn struct {
	txn *badger.Txn
}

// View runs fn within a read-only snapshot transaction.
func (s *Store) View(fn func(txn *Txn) error) error {
	return s.db.View(func(t *badger.Txn) error {
		return fn(&Txn{txn: t})
	})
}

// Update runs fn within a read-write transaction, committed atomically if
// fn returns nil and rolled back otherwise.
func (s *Store) Update(fn func(txn *Txn) error) error {
	return s.db.Update(func(t *badger.Txn) error {
		return fn(&Txn{txn: t})
	})
}

func namespacedKey(db DB, key []byte) []byte {
	out := make([]byte, 0, len(db)+1+len(key))
	out = append(out, db...)
	out = append(out, '/')
	out = append(out, key...)
	return out
}

// Get fetches key's value from db. Returns badger.ErrKeyNotFound (check
// with errors.Is) if absent.
func (t *Txn) Get(db DB, key []byte) ([]byte, error) {
	item, err := t.txn.Get(namespacedKey(db, key))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Set writes key -> value in db.
func (t *Txn) Set(db DB, key, value []byte) error {
	return t.txn.Set(namespacedKey(db, key), value)
}

// Delete removes key from db. Deleting an absent key is a no-op.
func (t *Txn) Delete(db DB, key []byte) error {
	return t.txn.Delete(namespacedKey(db, key))
}

// ScanPrefix calls fn for every key in db beginning with prefix, in
// ascending key order, stopping early if fn returns an error.
func (t *Txn) ScanPrefix(db DB, prefix []byte, fn func(key, value []byte) error) error {
	full := namespacedKey(db, prefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = full
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(full); it.ValidForPrefix(full); it.Next() {
		item := it.Item()
		key := bytes.TrimPrefix(item.KeyCopy(nil), []byte(string(db)+"/"))
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every key in db. Used by the staging area when a commit
// finalizes (§4.5 step 6).
func (t *Txn) Clear(db DB) error {
	var keys [][]byte
	if err := t.ScanPrefix(db, nil, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := t.Delete(db, k); err != nil {
			return err
		}
	}
	return nil
}
