package kvstore

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v3"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetAcrossDatabases(t *testing.T) {
	s := openTemp(t)

	if err := s.Update(func(txn *Txn) error {
		if err := txn.Set(DBHashes, []byte("k1"), []byte("v1")); err != nil {
			return err
		}
		return txn.Set(DBStage, []byte("k1"), []byte("v2"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := s.View(func(txn *Txn) error {
		v, err := txn.Get(DBHashes, []byte("k1"))
		if err != nil {
			return err
		}
		if string(v) != "v1" {
			t.Fatalf("DBHashes k1 = %q, want v1", v)
		}
		v, err = txn.Get(DBStage, []byte("k1"))
		if err != nil {
			return err
		}
		if string(v) != "v2" {
			t.Fatalf("DBStage k1 = %q, want v2", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTemp(t)
	err := s.View(func(txn *Txn) error {
		_, err := txn.Get(DBRefs, []byte("absent"))
		return err
	})
	if !errors.Is(err, badger.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestScanPrefixOrdering(t *testing.T) {
	s := openTemp(t)
	if err := s.Update(func(txn *Txn) error {
		for _, k := range []string{"a/1", "a/2", "b/1"} {
			if err := txn.Set(DBLabels, []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got []string
	err := s.View(func(txn *Txn) error {
		return txn.ScanPrefix(DBLabels, []byte("a/"), func(key, _ []byte) error {
			got = append(got, string(key))
			return nil
		})
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(got) != 2 || got[0] != "a/1" || got[1] != "a/2" {
		t.Fatalf("unexpected scan result: %v", got)
	}
}

func TestClear(t *testing.T) {
	s := openTemp(t)
	if err := s.Update(func(txn *Txn) error {
		return txn.Set(DBStage, []byte("x"), []byte("y"))
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(func(txn *Txn) error {
		return txn.Clear(DBStage)
	}); err != nil {
		t.Fatal(err)
	}
	err := s.View(func(txn *Txn) error {
		_, err := txn.Get(DBStage, []byte("x"))
		return err
	})
	if !errors.Is(err, badger.ErrKeyNotFound) {
		t.Fatalf("expected cleared key to be gone, got %v", err)
	}
}
