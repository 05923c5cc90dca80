package samplekey

import "testing"

func TestOrderingIntBeforeStr(t *testing.T) {
	i := Int(5)
	s, err := Str("1")
	if err != nil {
		t.Fatal(err)
	}
	if !i.Less(s) {
		t.Fatalf("expected int keys to order before string keys")
	}
}

func TestSortMixed(t *testing.T) {
	a, _ := Str("b")
	b, _ := Str("a")
	keys := []Key{b, a, Int(2), Int(1)}
	Sort(keys)
	want := []string{"i:1", "i:2", "s:a", "s:b"}
	for i, k := range keys {
		if k.String() != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, k.String(), want[i])
		}
	}
}

func TestStrValidation(t *testing.T) {
	if _, err := Str(""); err == nil {
		t.Fatalf("expected empty string key to fail")
	}
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := Str(string(long)); err == nil {
		t.Fatalf("expected >64 char key to fail")
	}
	if _, err := Str("has space"); err == nil {
		t.Fatalf("expected key with space to fail")
	}
	if _, err := Str("valid-key.1_2"); err != nil {
		t.Fatalf("expected valid key to pass: %v", err)
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("writtenaset"); err != nil {
		t.Fatalf("expected valid name to pass: %v", err)
	}
	if err := ValidateName(""); err == nil {
		t.Fatalf("expected empty name to fail")
	}
	if err := ValidateName("bad name"); err == nil {
		t.Fatalf("expected name with space to fail")
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := Int(42)
	parsed, err := Parse(orig.String())
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(orig) {
		t.Fatalf("round trip mismatch: %v != %v", parsed, orig)
	}

	s, _ := Str("abc")
	parsed2, err := Parse(s.String())
	if err != nil {
		t.Fatal(err)
	}
	if !parsed2.Equal(s) {
		t.Fatalf("round trip mismatch: %v != %v", parsed2, s)
	}
}
