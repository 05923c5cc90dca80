package schema

import "testing"

func TestValidateShapeFixed(t *testing.T) {
	s := Schema{DType: DTypeFloat64, MaxShape: []int64{5, 7}, DefaultBackend: "10"}
	if err := s.ValidateShape([]int64{5, 7}); err != nil {
		t.Fatalf("expected matching shape to validate, got %v", err)
	}
	if err := s.ValidateShape([]int64{5, 8}); err == nil {
		t.Fatalf("expected mismatched fixed shape to fail")
	}
}

func TestValidateShapeVariable(t *testing.T) {
	s := Schema{DType: DTypeFloat32, MaxShape: []int64{10, 10}, VariableShape: true, DefaultBackend: "10"}
	for _, shape := range [][]int64{{2, 5}, {10, 10}, {1, 1}} {
		if err := s.ValidateShape(shape); err != nil {
			t.Fatalf("shape %v should validate under max (10,10): %v", shape, err)
		}
	}
	if err := s.ValidateShape([]int64{11, 1}); err == nil {
		t.Fatalf("expected over-max axis to fail")
	}
}

func TestDigestStableUnderMapOrder(t *testing.T) {
	a := Schema{DType: DTypeInt32, MaxShape: []int64{3}, DefaultBackend: "10", BackendOptions: map[string]string{"a": "1", "b": "2"}}
	b := Schema{DType: DTypeInt32, MaxShape: []int64{3}, DefaultBackend: "10", BackendOptions: map[string]string{"b": "2", "a": "1"}}
	if !a.Equal(b) {
		t.Fatalf("expected schemas with same fields in different map order to be equal")
	}
	if a.Digest() != b.Digest() {
		t.Fatalf("expected equal digests")
	}
}

func TestDigestDiffersOnShape(t *testing.T) {
	a := Schema{DType: DTypeInt32, MaxShape: []int64{3}, DefaultBackend: "10"}
	b := Schema{DType: DTypeInt32, MaxShape: []int64{4}, DefaultBackend: "10"}
	if a.Digest() == b.Digest() {
		t.Fatalf("expected different digests for different shapes")
	}
}

func TestValidateRankBounds(t *testing.T) {
	huge := make([]int64, MaxRank+1)
	for i := range huge {
		huge[i] = 1
	}
	s := Schema{DType: DTypeUint8, MaxShape: huge, DefaultBackend: "10"}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected rank over %d to fail validation", MaxRank)
	}
}
