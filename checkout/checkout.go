// Package checkout implements reader and writer checkouts (§4.8): views
// over a repository's arraysets and metadata pinned to either a fixed
// commit (read-only) or a branch's staging area (read-write, exclusive).
// Modeled on the teacher's repository handler construction
// (registry/handlers/app.go wiring a request-scoped set of blob/manifest
// stores), generalized from "one HTTP request's view of one repository"
// to "one checkout's view of one repository's arraysets."
package checkout

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/hangarstor/hangar/arrayset"
	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/hashindex"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/metadata"
	"github.com/hangarstor/hangar/refblob"
	"github.com/hangarstor/hangar/refs"
	"github.com/hangarstor/hangar/samplekey"
	"github.com/hangarstor/hangar/schema"
	"github.com/hangarstor/hangar/schemastore"
)

const metaStagePrefix = "meta/"

// Repository is one hangar repository: its KV store, hash index, and the
// process-wide writer-checkout exclusivity flag (§5 "a process-wide
// writer-checkout exclusivity flag").
type Repository struct {
	root  string
	store *kvstore.Store
	index *hashindex.Index

	writerMu   sync.Mutex
	writerHeld bool
}

// Open opens (creating if necessary) the repository rooted at dir, laid
// out as dir/hangar/ (KV store) and dir/hangar/data/ (backend files),
// matching §6's on-disk layout.
func Open(dir string) (*Repository, error) {
	store, err := kvstore.Open(filepath.Join(dir, "hangar"))
	if err != nil {
		return nil, err
	}
	idx := hashindex.Open(store, filepath.Join(dir, "hangar", "data"))
	return &Repository{root: dir, store: store, index: idx}, nil
}

// Root returns the repository's root directory, used by the remote
// server to tag request-scoped logs (§6 on-disk layout).
func (r *Repository) Root() string { return r.root }

// Close releases the repository's storage engine and backend handles.
func (r *Repository) Close() error {
	idxErr := r.index.Close()
	storeErr := r.store.Close()
	if idxErr != nil {
		return idxErr
	}
	return storeErr
}

// Store exposes the repository's underlying KV store, for components
// (the remote protocol server) that operate below checkout semantics.
func (r *Repository) Store() *kvstore.Store { return r.store }

// Index exposes the repository's hash index, for the remote protocol
// server's data push/fetch handlers.
func (r *Repository) Index() *hashindex.Index { return r.index }

// MergeBranches three-way-merges other into master and advances master's
// head to a new two-parent merge commit (§4.6 "merge(a, b)"), subject to
// the same process-wide writer exclusivity CheckoutWriter enforces (§5):
// a merge cannot run while a writer checkout is open, since it advances
// a branch head directly rather than through the staging area.
func (r *Repository) MergeBranches(master, other, author, message string, timestamp int64) (digest.Digest, refs.MergeResult, error) {
	r.writerMu.Lock()
	if r.writerHeld {
		r.writerMu.Unlock()
		return "", refs.MergeResult{}, errcode.ErrorCodePermissionDenied.WithDetail("a writer checkout is already open")
	}
	r.writerHeld = true
	r.writerMu.Unlock()
	defer func() {
		r.writerMu.Lock()
		r.writerHeld = false
		r.writerMu.Unlock()
	}()

	spec := refblob.Spec{Author: author, Message: message, Timestamp: timestamp}
	var commitDigest digest.Digest
	var result refs.MergeResult
	err := r.store.Update(func(txn *kvstore.Txn) error {
		var err error
		commitDigest, result, err = refs.MergeBranches(txn, master, other, spec)
		return err
	})
	if err != nil {
		return "", refs.MergeResult{}, err
	}
	return commitDigest, result, nil
}

func staleRef() error {
	return errcode.ErrorCodeFailedPrecondition.WithDetail("checkout: stale reference, checkout was already closed")
}

func decodeKeyedDigests(raw map[string]digest.Digest) (map[samplekey.Key]digest.Digest, error) {
	out := make(map[samplekey.Key]digest.Digest, len(raw))
	for s, d := range raw {
		k, err := samplekey.Parse(s)
		if err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}

func decodeKeyedStrings(raw map[string]string) (map[samplekey.Key]string, error) {
	out := make(map[samplekey.Key]string, len(raw))
	for s, v := range raw {
		k, err := samplekey.Parse(s)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Reader is a read-only view of a repository pinned to one commit.
type Reader struct {
	repo      *Repository
	commit    digest.Digest
	arraysets map[string]*arrayset.Arrayset
	meta      *metadata.Store
	closed    bool
}

// CheckoutReader materializes a read-only view of commit (§4.8 "Reader
// checkout: opens read transactions on all logical databases for the
// pinned commit").
func (r *Repository) CheckoutReader(commit digest.Digest) (*Reader, error) {
	co := &Reader{repo: r, commit: commit, arraysets: map[string]*arrayset.Arrayset{}}
	err := r.store.View(func(txn *kvstore.Txn) error {
		_, _, blob, err := refs.GetCommit(txn, commit)
		if err != nil {
			return err
		}
		for _, asetRec := range blob.Arraysets {
			sch, err := schemastore.Get(txn, asetRec.SchemaDigest)
			if err != nil {
				return err
			}
			raw := make(map[string]digest.Digest, len(asetRec.Samples))
			for _, s := range asetRec.Samples {
				raw[s.Key.String()] = s.Digest
			}
			samples, err := decodeKeyedDigests(raw)
			if err != nil {
				return err
			}
			as, err := arrayset.New(asetRec.Name, sch, samples, r.index, true)
			if err != nil {
				return err
			}
			co.arraysets[asetRec.Name] = as
		}
		rawLabels := make(map[string]string, len(blob.Metadata))
		for _, m := range blob.Metadata {
			rawLabels[m.Key.String()] = m.Value
		}
		labels, err := decodeKeyedStrings(rawLabels)
		if err != nil {
			return err
		}
		co.meta = metadata.New(labels, true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return co, nil
}

// Commit returns the commit this checkout is pinned to.
func (c *Reader) Commit() digest.Digest { return c.commit }

// ArraysetNames lists every arrayset present, sorted.
func (c *Reader) ArraysetNames() []string {
	names := make([]string, 0, len(c.arraysets))
	for n := range c.arraysets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Arrayset returns the named arrayset's read-only view.
func (c *Reader) Arrayset(name string) (*arrayset.Arrayset, error) {
	if c.closed {
		return nil, staleRef()
	}
	as, ok := c.arraysets[name]
	if !ok {
		return nil, errcode.ErrorCodeNotFound.WithDetail("no arrayset " + name)
	}
	return as, nil
}

// Metadata returns the read-only metadata view.
func (c *Reader) Metadata() (*metadata.Store, error) {
	if c.closed {
		return nil, staleRef()
	}
	return c.meta, nil
}

// View runs fn within a read transaction over the repository's store,
// for operations (like arrayset.Get) that need one.
func (c *Reader) View(fn func(txn *kvstore.Txn) error) error {
	if c.closed {
		return staleRef()
	}
	return c.repo.store.View(fn)
}

// Close releases the checkout. A reader checkout holds no exclusive
// resource, so Close only marks it stale (§4.8 "calling close() releases
// transactions").
func (c *Reader) Close() error {
	c.closed = true
	return nil
}

// Writer is the repository's single writer checkout (§5 "process-wide
// writer-checkout exclusivity flag"). Mutations accumulate in the
// staging database until Commit.
type Writer struct {
	repo      *Repository
	branch    string
	parent    digest.Digest
	arraysets map[string]*arrayset.Arrayset
	meta      *metadata.Store
	mutated   bool
	closed    bool
}

// CheckoutWriter opens the exclusive writer checkout for branch (§4.8
// "Writer checkout: exclusive"). A second concurrent attempt fails
// PermissionDenied.
func (r *Repository) CheckoutWriter(branch string) (*Writer, error) {
	r.writerMu.Lock()
	if r.writerHeld {
		r.writerMu.Unlock()
		return nil, errcode.ErrorCodePermissionDenied.WithDetail("a writer checkout is already open")
	}
	r.writerHeld = true
	r.writerMu.Unlock()

	w := &Writer{repo: r, branch: branch, arraysets: map[string]*arrayset.Arrayset{}}
	err := r.store.Update(func(txn *kvstore.Txn) error {
		head, err := refs.Head(txn, branch)
		if err != nil {
			return err
		}

		empty, err := stageIsEmpty(txn)
		if err != nil {
			return err
		}
		if empty {
			_, _, blob, err := refs.GetCommit(txn, head)
			if err != nil {
				return err
			}
			if err := seedStageFromBlob(txn, blob); err != nil {
				return err
			}
			if err := stageSetParent(txn, head); err != nil {
				return err
			}
			w.parent = head
		} else {
			parent, err := stageGetParent(txn)
			if err != nil {
				return err
			}
			w.parent = parent
		}

		names, err := stageArraysetNames(txn)
		if err != nil {
			return err
		}
		for _, name := range names {
			schemaDigest, err := stageArraysetSchemaDigest(txn, name)
			if err != nil {
				return err
			}
			sch, err := schemastore.Get(txn, schemaDigest)
			if err != nil {
				return err
			}
			samples, err := stageLoadSamples(txn, name)
			if err != nil {
				return err
			}
			as, err := arrayset.New(name, sch, samples, r.index, false)
			if err != nil {
				return err
			}
			w.arraysets[name] = as
		}

		rawLabels := map[string]string{}
		if err := txn.ScanPrefix(kvstore.DBLabels, []byte(metaStagePrefix), func(key, value []byte) error {
			rawLabels[string(key[len(metaStagePrefix):])] = string(value)
			return nil
		}); err != nil {
			return err
		}
		labels, err := decodeKeyedStrings(rawLabels)
		if err != nil {
			return err
		}
		w.meta = metadata.New(labels, false)
		return nil
	})
	if err != nil {
		r.writerMu.Lock()
		r.writerHeld = false
		r.writerMu.Unlock()
		return nil, err
	}
	return w, nil
}

func seedStageFromBlob(txn *kvstore.Txn, blob refblob.RefBlob) error {
	for _, asetRec := range blob.Arraysets {
		if err := stageSetArraysetSchema(txn, asetRec.Name, asetRec.SchemaDigest); err != nil {
			return err
		}
		raw := map[string]digest.Digest{}
		for _, s := range asetRec.Samples {
			raw[s.Key.String()] = s.Digest
		}
		samples, err := decodeKeyedDigests(raw)
		if err != nil {
			return err
		}
		if err := stagePersistSamples(txn, asetRec.Name, samples); err != nil {
			return err
		}
	}
	rawLabels := map[string]string{}
	for _, m := range blob.Metadata {
		rawLabels[m.Key.String()] = m.Value
	}
	labels, err := decodeKeyedStrings(rawLabels)
	if err != nil {
		return err
	}
	return metadata.New(labels, false).Persist(txn, []byte(metaStagePrefix))
}

// InitArrayset registers a new arrayset under sch, persisting sch to the
// schema store (§4.4, §4.8 "init_arrayset"). Fails AlreadyExists if name
// is already registered in this checkout.
func (w *Writer) InitArrayset(name string, sch schema.Schema) (*arrayset.Arrayset, error) {
	if w.closed {
		return nil, staleRef()
	}
	if _, ok := w.arraysets[name]; ok {
		return nil, errcode.ErrorCodeAlreadyExists.WithDetail("arrayset " + name + " already exists")
	}
	as, err := arrayset.New(name, sch, nil, w.repo.index, false)
	if err != nil {
		return nil, err
	}
	err = w.repo.store.Update(func(txn *kvstore.Txn) error {
		schemaDigest, err := schemastore.Put(txn, sch)
		if err != nil {
			return err
		}
		return stageSetArraysetSchema(txn, name, schemaDigest)
	})
	if err != nil {
		return nil, err
	}
	w.arraysets[name] = as
	w.mutated = true
	return as, nil
}

// Arrayset returns the named arrayset's writable view. The caller must
// call Persist after any Set/Delete/Append/Update so the staging
// database reflects the mutation before Commit or Close.
func (w *Writer) Arrayset(name string) (*arrayset.Arrayset, error) {
	if w.closed {
		return nil, staleRef()
	}
	as, ok := w.arraysets[name]
	if !ok {
		return nil, errcode.ErrorCodeNotFound.WithDetail("no arrayset " + name)
	}
	return as, nil
}

func arraysetSampleSnapshot(as *arrayset.Arrayset) map[samplekey.Key]digest.Digest {
	out := make(map[samplekey.Key]digest.Digest, as.Len())
	for _, k := range as.Keys() {
		if d, ok := as.DigestAt(k); ok {
			out[k] = d
		}
	}
	return out
}

// Persist flushes name's current in-memory sample index to the staging
// database and marks the checkout mutated.
func (w *Writer) Persist(txn *kvstore.Txn, name string) error {
	if w.closed {
		return staleRef()
	}
	as, ok := w.arraysets[name]
	if !ok {
		return errcode.ErrorCodeNotFound.WithDetail("no arrayset " + name)
	}
	if err := stagePersistSamples(txn, name, arraysetSampleSnapshot(as)); err != nil {
		return err
	}
	w.mutated = true
	return nil
}

// DeleteArrayset removes name entirely from the checkout (§4.8 "delete").
func (w *Writer) DeleteArrayset(name string) error {
	if w.closed {
		return staleRef()
	}
	if _, ok := w.arraysets[name]; !ok {
		return errcode.ErrorCodeNotFound.WithDetail("no arrayset " + name)
	}
	err := w.repo.store.Update(func(txn *kvstore.Txn) error {
		return stageDeleteArrayset(txn, name)
	})
	if err != nil {
		return err
	}
	delete(w.arraysets, name)
	w.mutated = true
	return nil
}

// Metadata returns the writable metadata view. Callers must call
// PersistMetadata after mutating it.
func (w *Writer) Metadata() (*metadata.Store, error) {
	if w.closed {
		return nil, staleRef()
	}
	return w.meta, nil
}

// PersistMetadata flushes the metadata store's current contents to the
// staging database and marks the checkout mutated.
func (w *Writer) PersistMetadata(txn *kvstore.Txn) error {
	if w.closed {
		return staleRef()
	}
	if err := w.meta.Persist(txn, []byte(metaStagePrefix)); err != nil {
		return err
	}
	w.mutated = true
	return nil
}

// Commit serializes the staging area into a ref blob and advances the
// branch head (§4.5 steps 1-6). timestamp is Unix-seconds, supplied by
// the caller rather than read from the system clock here, so commit
// digests stay reproducible under test (§3 "Spec carries author,
// timestamp, message").
func (w *Writer) Commit(author, message string, timestamp int64) (digest.Digest, error) {
	if w.closed {
		return "", staleRef()
	}
	if !w.mutated {
		return "", errcode.ErrorCodePermissionDenied.WithDetail("commit: no mutations to commit")
	}

	var blob refblob.RefBlob
	names := make([]string, 0, len(w.arraysets))
	for name := range w.arraysets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		as := w.arraysets[name]
		var samples []refblob.Sample
		for k, d := range arraysetSampleSnapshot(as) {
			samples = append(samples, refblob.Sample{Key: k, Digest: d})
		}
		blob.Arraysets = append(blob.Arraysets, refblob.ArraysetRecord{
			Name: name, SchemaDigest: as.Schema().Digest(), Samples: samples,
		})
	}
	for _, e := range w.meta.Snapshot() {
		blob.Metadata = append(blob.Metadata, refblob.MetadataEntry{Key: e.Key, Value: e.Value})
	}

	var parents []digest.Digest
	if w.parent != "" {
		parents = []digest.Digest{w.parent}
	}
	spec := refblob.Spec{Author: author, Timestamp: timestamp, Message: message}
	commitDigest := refblob.CommitDigest(parents, spec, blob)

	err := w.repo.store.Update(func(txn *kvstore.Txn) error {
		already, err := refs.HasCommit(txn, commitDigest)
		if err != nil {
			return err
		}
		if already {
			return nil
		}
		if err := refs.PutCommit(txn, commitDigest, parents, spec, blob); err != nil {
			return err
		}
		if err := refs.SetHead(txn, w.branch, commitDigest, false); err != nil {
			return err
		}
		return txn.Clear(kvstore.DBStage)
	})
	if err != nil {
		return "", err
	}
	return commitDigest, nil
}

// Close releases the writer-checkout exclusivity flag. Safe to call
// whether or not Commit was called (§4.8, §9 "scoped writer contexts
// guarantee resource release on all exit paths including failure").
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.repo.writerMu.Lock()
	w.repo.writerHeld = false
	w.repo.writerMu.Unlock()
	return nil
}

// WithWriter opens the writer checkout for branch, invokes fn, and
// guarantees Close runs on every exit path including a panic, mirroring
// a scoped acquisition (§9 "Scoped writer contexts").
func WithWriter(r *Repository, branch string, fn func(w *Writer) error) (err error) {
	w, err := r.CheckoutWriter(branch)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := w.Close()
		if err == nil {
			err = closeErr
		}
	}()
	return fn(w)
}
