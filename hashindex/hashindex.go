// Package hashindex is the single deduplication point (§4.3, §5): the
// digest -> locator map backing the `hashes` logical database, plus the
// backend instances that resolve a locator to bytes. Modeled on
// registry/storage/linkedblobstore's blobstore-plus-cache pairing,
// generalized from "one content-addressed blob store" to "one store per
// backend code, looked up by the schema that owns a sample."
package hashindex

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/hangarstor/hangar/backend"
	"github.com/hangarstor/hangar/backend/factory"
	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/schema"
)

// Index is the hash index for one repository: it owns the digest->locator
// mapping and a shared-handle registry of opened backend accessors (§9
// "Shared reader file handles per backend" — one read accessor and one
// write accessor per backend code live for the repository's lifetime).
type Index struct {
	store    *kvstore.Store
	dataRoot string

	mu      sync.Mutex
	readers map[string]backend.Backend
	writers map[string]backend.Backend
}

// Open returns a hash index backed by store, with backend-private files
// rooted under dataRoot/<code>/ (§6 on-disk layout: "data/<backend-code>/").
func Open(store *kvstore.Store, dataRoot string) *Index {
	return &Index{
		store:    store,
		dataRoot: dataRoot,
		readers:  map[string]backend.Backend{},
		writers:  map[string]backend.Backend{},
	}
}

// Close releases every backend accessor opened by this index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var firstErr error
	for _, b := range idx.readers {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, b := range idx.writers {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	idx.readers = map[string]backend.Backend{}
	idx.writers = map[string]backend.Backend{}
	return firstErr
}

func (idx *Index) writerFor(code string, options map[string]string) (backend.Backend, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if b, ok := idx.writers[code]; ok {
		return b, nil
	}
	b, err := factory.Create(code, filepath.Join(idx.dataRoot, code), options)
	if err != nil {
		return nil, err
	}
	if err := b.Open(backend.ModeWrite); err != nil {
		return nil, err
	}
	idx.writers[code] = b
	return b, nil
}

func (idx *Index) readerFor(code string) (backend.Backend, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	// A writer accessor already open for code serves reads too: in-memory
	// backends keep payloads per instance, so a separate reader would not
	// see what the writer stored.
	if b, ok := idx.writers[code]; ok {
		return b, nil
	}
	if b, ok := idx.readers[code]; ok {
		return b, nil
	}
	b, err := factory.Create(code, filepath.Join(idx.dataRoot, code), nil)
	if err != nil {
		return nil, err
	}
	if err := b.Open(backend.ModeRead); err != nil {
		return nil, err
	}
	idx.readers[code] = b
	return b, nil
}

// Has reports whether digest d already has a locator recorded, without
// touching any backend (invariant §3.2: writing the same bytes twice is a
// no-op on payload).
func (idx *Index) Has(txn *kvstore.Txn, d digest.Digest) (bool, error) {
	_, err := txn.Get(kvstore.DBHashes, []byte(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put writes a fresh payload through the schema's default backend and
// records digest -> locator, unless d is already present, in which case
// the existing locator is reused and payload is never written (§4.3, §4.4
// "deduplicates via hash index").
func (idx *Index) Put(txn *kvstore.Txn, d digest.Digest, payload []byte, sch schema.Schema) error {
	exists, err := idx.Has(txn, d)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	be, err := idx.writerFor(sch.DefaultBackend, sch.BackendOptions)
	if err != nil {
		return errcode.ErrorCodeInternal.WithDetail(err.Error())
	}
	locator, err := be.Write(payload, sch)
	if err != nil {
		var full backend.FullError
		if !errors.As(err, &full) {
			return err
		}
		// §4.3: a full container is the layer above's signal to allocate a
		// new one. Rotate the writer accessor in place and retry once
		// before giving up; backends that can't rotate (or are still full
		// after rotating) surface as a retryable resource-exhaustion error
		// rather than a bare backend.FullError.
		rotator, ok := be.(backend.Rotatable)
		if !ok {
			return errcode.ErrorCodeResourceExhausted.WithDetail(err.Error())
		}
		if rerr := rotator.Rotate(); rerr != nil {
			return errcode.ErrorCodeResourceExhausted.WithDetail(rerr.Error())
		}
		locator, err = be.Write(payload, sch)
		if err != nil {
			return errcode.ErrorCodeResourceExhausted.WithDetail(err.Error())
		}
	}
	return txn.Set(kvstore.DBHashes, []byte(d), []byte(locator))
}

// MarkRemote records d as present with the reserved remote placeholder
// locator (§4.4 contains_remote_references, §9 supplemented feature),
// used when a commit references a digest whose payload has not yet been
// fetched from a remote peer.
func (idx *Index) MarkRemote(txn *kvstore.Txn, d digest.Digest) error {
	locator := backend.RemoteCode + ":" + d.Hex()
	return txn.Set(kvstore.DBHashes, []byte(d), []byte(locator))
}

// ErrRemoteReference is returned by Get when a digest resolves to the
// reserved remote placeholder locator rather than a real payload.
var ErrRemoteReference = errors.New("hashindex: sample references unfetched remote data")

// Get resolves d to its payload via the hash index and the owning
// backend (§4.4 "get(key)... resolves locator via hash index, reads
// payload via backend accessor").
func (idx *Index) Get(txn *kvstore.Txn, d digest.Digest) ([]byte, error) {
	raw, err := txn.Get(kvstore.DBHashes, []byte(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, backend.NotFoundError{Locator: string(d)}
	}
	if err != nil {
		return nil, err
	}
	locator := string(raw)
	code := locator[:2]
	if code == backend.RemoteCode {
		return nil, ErrRemoteReference
	}

	be, err := idx.readerFor(code)
	if err != nil {
		return nil, fmt.Errorf("hashindex: resolve backend %q: %w", code, err)
	}
	payload, err := be.Read(locator)
	if err != nil {
		return nil, err
	}

	got := digest.FromCanonicalBytes(d.Kind(), payload)
	if got != d {
		return nil, backend.CorruptError{Locator: locator, Reason: fmt.Sprintf("expected %s, got %s", d, got)}
	}
	return payload, nil
}

// IsRemoteReference reports whether locator is the reserved
// unfetched-remote placeholder (§4.4, §9).
func IsRemoteReference(locator string) bool {
	return len(locator) >= 2 && locator[:2] == backend.RemoteCode
}
