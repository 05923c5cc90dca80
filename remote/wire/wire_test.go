package wire

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("hangar"), 1000)

	compressed, err := Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("compressed size %d not smaller than input %d", len(compressed), len(payload))
	}

	out, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := Decompress([]byte("not zstd data")); err == nil {
		t.Fatalf("expected error decompressing non-zstd input")
	}
}
