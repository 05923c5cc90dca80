package schemastore

import (
	"testing"

	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/schema"
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

func testSchema() schema.Schema {
	return schema.Schema{DType: schema.DTypeFloat32, MaxShape: []int64{4, 4}, DefaultBackend: "10"}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sch := testSchema()

	var d1 string
	err := store.Update(func(txn *kvstore.Txn) error {
		digest, err := Put(txn, sch)
		d1 = string(digest)
		return err
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got schema.Schema
	err = store.View(func(txn *kvstore.Txn) error {
		var err error
		got, err = Get(txn, sch.Digest())
		return err
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(sch) {
		t.Fatalf("decoded schema %+v does not match original %+v", got, sch)
	}
	if d1 != string(sch.Digest()) {
		t.Fatalf("Put returned unexpected digest")
	}
}

func TestPutIdempotent(t *testing.T) {
	store := newTestStore(t)
	sch := testSchema()

	for i := 0; i < 2; i++ {
		err := store.Update(func(txn *kvstore.Txn) error {
			_, err := Put(txn, sch)
			return err
		})
		if err != nil {
			t.Fatalf("Put iteration %d: %v", i, err)
		}
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.View(func(txn *kvstore.Txn) error {
		_, err := Get(txn, "schema:sha256:deadbeef")
		return err
	})
	if err == nil {
		t.Fatalf("expected error for missing schema digest")
	}
}

func TestPutWithBackendOptionsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sch := schema.Schema{
		DType:          schema.DTypeUint8,
		MaxShape:       []int64{3},
		VariableShape:  true,
		DefaultBackend: "20",
		BackendOptions: map[string]string{"level": "3", "codec": "zstd"},
	}

	var got schema.Schema
	err := store.Update(func(txn *kvstore.Txn) error {
		if _, err := Put(txn, sch); err != nil {
			return err
		}
		var err error
		got, err = Get(txn, sch.Digest())
		return err
	})
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if !got.Equal(sch) {
		t.Fatalf("decoded schema with options %+v does not match original %+v", got, sch)
	}
}
