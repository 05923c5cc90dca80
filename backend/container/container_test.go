package container

import (
	"errors"
	"testing"

	"github.com/hangarstor/hangar/backend"
	"github.com/hangarstor/hangar/schema"
)

func newTestDriver(t *testing.T, maxBytes int64) *driver {
	t.Helper()
	d := &driver{root: t.TempDir(), maxBytes: maxBytes}
	if err := d.Open(backend.ModeWrite); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestWriteReadRoundTrip(t *testing.T) {
	d := newTestDriver(t, DefaultMaxContainerBytes)

	loc, err := d.Write([]byte("hello"), schema.Schema{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := d.Read(loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestWriteAppendsWithinSameContainer(t *testing.T) {
	d := newTestDriver(t, DefaultMaxContainerBytes)

	loc1, err := d.Write([]byte("aaa"), schema.Schema{})
	if err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	loc2, err := d.Write([]byte("bbb"), schema.Schema{})
	if err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	g1, err := d.Read(loc1)
	if err != nil || string(g1) != "aaa" {
		t.Fatalf("Read loc1: %v %q", err, g1)
	}
	g2, err := d.Read(loc2)
	if err != nil || string(g2) != "bbb" {
		t.Fatalf("Read loc2: %v %q", err, g2)
	}
}

func TestWriteReturnsFullErrorWhenContainerExhausted(t *testing.T) {
	d := newTestDriver(t, 8)

	if _, err := d.Write([]byte("12345"), schema.Schema{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err := d.Write([]byte("abcdef"), schema.Schema{})
	var fullErr backend.FullError
	if !errors.As(err, &fullErr) {
		t.Fatalf("expected FullError, got %v", err)
	}
}

func TestRotateStartsNewContainer(t *testing.T) {
	d := newTestDriver(t, 8)

	if _, err := d.Write([]byte("12345"), schema.Schema{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := d.Write([]byte("abcdef"), schema.Schema{}); err == nil {
		t.Fatalf("expected Full error before rotate")
	}
	if err := d.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	loc, err := d.Write([]byte("abcdef"), schema.Schema{})
	if err != nil {
		t.Fatalf("Write after rotate: %v", err)
	}
	got, err := d.Read(loc)
	if err != nil || string(got) != "abcdef" {
		t.Fatalf("Read after rotate: %v %q", err, got)
	}
}

func TestReadMissingLocator(t *testing.T) {
	d := newTestDriver(t, DefaultMaxContainerBytes)

	_, err := d.Read("00:99:0:4")
	var nf backend.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
