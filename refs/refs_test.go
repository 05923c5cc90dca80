package refs

import (
	"testing"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/refblob"
)

func newTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndHead(t *testing.T) {
	store := newTestStore(t)
	root := digest.FromCanonicalBytes(digest.KindCommit, []byte("root"))

	err := store.Update(func(txn *kvstore.Txn) error {
		if err := PutCommit(txn, root, nil, refblob.Spec{Message: "init"}, refblob.RefBlob{}); err != nil {
			return err
		}
		return Create(txn, "master", root)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	var head digest.Digest
	store.View(func(txn *kvstore.Txn) error {
		var err error
		head, err = Head(txn, "master")
		return err
	})
	if head != root {
		t.Fatalf("got head %s, want %s", head, root)
	}
}

func TestCreateDuplicateBranchFails(t *testing.T) {
	store := newTestStore(t)
	root := digest.FromCanonicalBytes(digest.KindCommit, []byte("root"))

	store.Update(func(txn *kvstore.Txn) error {
		PutCommit(txn, root, nil, refblob.Spec{}, refblob.RefBlob{})
		return Create(txn, "master", root)
	})

	err := store.Update(func(txn *kvstore.Txn) error {
		return Create(txn, "master", root)
	})
	if err == nil {
		t.Fatalf("expected error creating duplicate branch")
	}
}

func TestHistoryTopologicalOrder(t *testing.T) {
	store := newTestStore(t)
	c1 := digest.FromCanonicalBytes(digest.KindCommit, []byte("c1"))
	c2 := digest.FromCanonicalBytes(digest.KindCommit, []byte("c2"))

	err := store.Update(func(txn *kvstore.Txn) error {
		if err := PutCommit(txn, c1, nil, refblob.Spec{}, refblob.RefBlob{}); err != nil {
			return err
		}
		if err := PutCommit(txn, c2, []digest.Digest{c1}, refblob.Spec{}, refblob.RefBlob{}); err != nil {
			return err
		}
		return Create(txn, "master", c2)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	var history []digest.Digest
	store.View(func(txn *kvstore.Txn) error {
		var err error
		history, err = History(txn, "master")
		return err
	})
	if len(history) != 2 || history[0] != c2 || history[1] != c1 {
		t.Fatalf("unexpected history order: %v", history)
	}
}

func TestSetHeadRequiresDescendantUnlessForced(t *testing.T) {
	store := newTestStore(t)
	c1 := digest.FromCanonicalBytes(digest.KindCommit, []byte("c1"))
	unrelated := digest.FromCanonicalBytes(digest.KindCommit, []byte("unrelated"))

	store.Update(func(txn *kvstore.Txn) error {
		PutCommit(txn, c1, nil, refblob.Spec{}, refblob.RefBlob{})
		PutCommit(txn, unrelated, nil, refblob.Spec{}, refblob.RefBlob{})
		return Create(txn, "master", c1)
	})

	err := store.Update(func(txn *kvstore.Txn) error {
		return SetHead(txn, "master", unrelated, false)
	})
	if err == nil {
		t.Fatalf("expected error setting head to non-descendant without force")
	}

	err = store.Update(func(txn *kvstore.Txn) error {
		return SetHead(txn, "master", unrelated, true)
	})
	if err != nil {
		t.Fatalf("expected forced SetHead to succeed: %v", err)
	}
}

func TestPutCommitIdempotent(t *testing.T) {
	store := newTestStore(t)
	c1 := digest.FromCanonicalBytes(digest.KindCommit, []byte("c1"))

	for i := 0; i < 2; i++ {
		err := store.Update(func(txn *kvstore.Txn) error {
			return PutCommit(txn, c1, nil, refblob.Spec{Message: "m"}, refblob.RefBlob{})
		})
		if err != nil {
			t.Fatalf("PutCommit iteration %d: %v", i, err)
		}
	}
}

func TestNamesSorted(t *testing.T) {
	store := newTestStore(t)
	root := digest.FromCanonicalBytes(digest.KindCommit, []byte("root"))

	store.Update(func(txn *kvstore.Txn) error {
		PutCommit(txn, root, nil, refblob.Spec{}, refblob.RefBlob{})
		Create(txn, "zeta", root)
		return Create(txn, "alpha", root)
	})

	var names []string
	store.View(func(txn *kvstore.Txn) error {
		var err error
		names, err = Names(txn)
		return err
	})
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}
