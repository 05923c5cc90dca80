package memory

import (
	"errors"
	"testing"

	"github.com/hangarstor/hangar/backend"
	"github.com/hangarstor/hangar/schema"
)

func newTestDriver(t *testing.T) *driver {
	t.Helper()
	d := &driver{code: "20", kind: backend.KindTensor, store: map[string][]byte{}}
	if err := d.Open(backend.ModeWrite); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestWriteReadDelete(t *testing.T) {
	d := newTestDriver(t)

	loc, err := d.Write([]byte("payload"), schema.Schema{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := d.Read(loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}

	if err := d.Delete(loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := d.Read(loc); err == nil {
		t.Fatalf("expected error reading deleted locator")
	}
}

func TestReadMissingLocator(t *testing.T) {
	d := newTestDriver(t)

	_, err := d.Read("20:does-not-exist")
	var nf backend.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestWriteWithoutOpenForWrite(t *testing.T) {
	d := &driver{code: "20", kind: backend.KindTensor, store: map[string][]byte{}}
	if err := d.Open(backend.ModeRead); err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err := d.Write([]byte("x"), schema.Schema{})
	if !errors.Is(err, backend.ErrNotOpenForWrite) {
		t.Fatalf("expected ErrNotOpenForWrite, got %v", err)
	}
}

func TestReadReturnsIndependentCopy(t *testing.T) {
	d := newTestDriver(t)

	loc, err := d.Write([]byte("abc"), schema.Schema{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := d.Read(loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got[0] = 'z'

	again, err := d.Read(loc)
	if err != nil {
		t.Fatalf("Read again: %v", err)
	}
	if string(again) != "abc" {
		t.Fatalf("mutation of returned slice leaked into store: got %q", again)
	}
}
