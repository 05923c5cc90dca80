package hashindex

import (
	"testing"

	"github.com/hangarstor/hangar/backend"
	_ "github.com/hangarstor/hangar/backend/container"
	_ "github.com/hangarstor/hangar/backend/memory"
	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/schema"
)

func newTestIndex(t *testing.T) (*Index, *kvstore.Store) {
	t.Helper()
	store, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	idx := Open(store, t.TempDir())
	t.Cleanup(func() { idx.Close() })
	return idx, store
}

func testSchema() schema.Schema {
	return schema.Schema{
		DType:          schema.DTypeFloat64,
		MaxShape:       []int64{5, 7},
		DefaultBackend: "20",
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	idx, store := newTestIndex(t)
	sch := testSchema()
	payload := []byte("sample-bytes")
	d := digest.FromCanonicalBytes(digest.KindTensor, payload)

	err := store.Update(func(txn *kvstore.Txn) error {
		return idx.Put(txn, d, payload, sch)
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got []byte
	err = store.View(func(txn *kvstore.Txn) error {
		var getErr error
		got, getErr = idx.Get(txn, d)
		return getErr
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestPutDeduplicatesSecondWrite(t *testing.T) {
	idx, store := newTestIndex(t)
	sch := testSchema()
	payload := []byte("same-bytes")
	d := digest.FromCanonicalBytes(digest.KindTensor, payload)

	for i := 0; i < 2; i++ {
		err := store.Update(func(txn *kvstore.Txn) error {
			return idx.Put(txn, d, payload, sch)
		})
		if err != nil {
			t.Fatalf("Put iteration %d: %v", i, err)
		}
	}

	var locator []byte
	err := store.View(func(txn *kvstore.Txn) error {
		var getErr error
		locator, getErr = txn.Get(kvstore.DBHashes, []byte(d))
		return getErr
	})
	if err != nil {
		t.Fatalf("Get locator: %v", err)
	}
	if len(locator) == 0 {
		t.Fatalf("expected a single recorded locator")
	}
}

func TestGetMissingDigest(t *testing.T) {
	idx, store := newTestIndex(t)
	d := digest.FromCanonicalBytes(digest.KindTensor, []byte("never-written"))

	err := store.View(func(txn *kvstore.Txn) error {
		_, getErr := idx.Get(txn, d)
		return getErr
	})
	if err == nil {
		t.Fatalf("expected error for missing digest")
	}
}

func TestMarkRemoteThenGetFails(t *testing.T) {
	idx, store := newTestIndex(t)
	d := digest.FromCanonicalBytes(digest.KindTensor, []byte("remote-only"))

	err := store.Update(func(txn *kvstore.Txn) error {
		return idx.MarkRemote(txn, d)
	})
	if err != nil {
		t.Fatalf("MarkRemote: %v", err)
	}

	err = store.View(func(txn *kvstore.Txn) error {
		_, getErr := idx.Get(txn, d)
		return getErr
	})
	if err != ErrRemoteReference {
		t.Fatalf("expected ErrRemoteReference, got %v", err)
	}
}

func TestHasReflectsPresence(t *testing.T) {
	idx, store := newTestIndex(t)
	sch := testSchema()
	payload := []byte("presence-check")
	d := digest.FromCanonicalBytes(digest.KindTensor, payload)

	var before bool
	store.View(func(txn *kvstore.Txn) error {
		var err error
		before, err = idx.Has(txn, d)
		return err
	})
	if before {
		t.Fatalf("expected absent before Put")
	}

	store.Update(func(txn *kvstore.Txn) error {
		return idx.Put(txn, d, payload, sch)
	})

	var after bool
	store.View(func(txn *kvstore.Txn) error {
		var err error
		after, err = idx.Has(txn, d)
		return err
	})
	if !after {
		t.Fatalf("expected present after Put")
	}
}

// §4.3 "Full if the backend's chunk or container is exhausted (the
// layer above allocates a new container)": Put rotates the "00"
// container backend in place and succeeds once the first container
// fills up.
func TestPutRotatesFullContainerAndSucceeds(t *testing.T) {
	idx, store := newTestIndex(t)
	sch := schema.Schema{
		DType:          schema.DTypeUint8,
		MaxShape:       []int64{4},
		DefaultBackend: "00",
		BackendOptions: map[string]string{"maxContainerBytes": "4"},
	}

	first := []byte{1, 2, 3, 4}
	d1 := digest.FromCanonicalBytes(digest.KindTensor, first)
	err := store.Update(func(txn *kvstore.Txn) error {
		return idx.Put(txn, d1, first, sch)
	})
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}

	// The container's 4-byte budget is now spent; this write would
	// return backend.FullError without rotation.
	second := []byte{5, 6, 7, 8}
	d2 := digest.FromCanonicalBytes(digest.KindTensor, second)
	err = store.Update(func(txn *kvstore.Txn) error {
		return idx.Put(txn, d2, second, sch)
	})
	if err != nil {
		t.Fatalf("second Put (expected transparent rotation): %v", err)
	}

	var got []byte
	err = store.View(func(txn *kvstore.Txn) error {
		var getErr error
		got, getErr = idx.Get(txn, d2)
		return getErr
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(second) {
		t.Fatalf("got %q, want %q", got, second)
	}
}

// fakeNonRotatableBackend never rotates: it fills up on its first write
// and has no Rotate method, exercising Put's fallback when a backend
// can't recover from FullError on its own.
type fakeNonRotatableBackend struct{ wrote bool }

func (f *fakeNonRotatableBackend) Code() string      { return "99" }
func (f *fakeNonRotatableBackend) Kind() backend.Kind { return backend.KindTensor }
func (f *fakeNonRotatableBackend) Open(backend.Mode) error { return nil }
func (f *fakeNonRotatableBackend) Close() error            { return nil }
func (f *fakeNonRotatableBackend) Delete(string) error     { return nil }

func (f *fakeNonRotatableBackend) Read(string) ([]byte, error) {
	return nil, backend.NotFoundError{}
}
func (f *fakeNonRotatableBackend) Write(payload []byte, _ schema.Schema) (string, error) {
	if f.wrote {
		return "99:1", nil
	}
	f.wrote = true
	return "", backend.FullError{Container: "0"}
}

func TestPutTranslatesFullErrorWhenBackendCannotRotate(t *testing.T) {
	idx, store := newTestIndex(t)
	idx.writers["99"] = &fakeNonRotatableBackend{}

	sch := schema.Schema{DType: schema.DTypeUint8, MaxShape: []int64{1}, DefaultBackend: "99"}
	payload := []byte{1}
	d := digest.FromCanonicalBytes(digest.KindTensor, payload)

	err := store.Update(func(txn *kvstore.Txn) error {
		return idx.Put(txn, d, payload, sch)
	})
	if err == nil {
		t.Fatalf("expected error from non-rotatable full backend")
	}
	coder, ok := err.(errcode.ErrorCoder)
	if !ok {
		t.Fatalf("expected an errcode.ErrorCoder, got %T: %v", err, err)
	}
	if coder.ErrorCode() != errcode.ErrorCodeResourceExhausted {
		t.Fatalf("expected ErrorCodeResourceExhausted, got %v", coder.ErrorCode())
	}
}
