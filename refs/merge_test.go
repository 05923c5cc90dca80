package refs

import (
	"testing"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/refblob"
	"github.com/hangarstor/hangar/samplekey"
)

func mergeSampleDigest(s string) digest.Digest {
	return digest.FromCanonicalBytes(digest.KindBytes, []byte(s))
}

func TestMergeUnionsNonConflictingKeys(t *testing.T) {
	k1, _ := samplekey.Str("1")
	k2, _ := samplekey.Str("2")

	base := refblob.RefBlob{}
	master := refblob.RefBlob{Arraysets: []refblob.ArraysetRecord{
		{Name: "aset", Samples: []refblob.Sample{{Key: k1, Digest: mergeSampleDigest("a")}}},
	}}
	other := refblob.RefBlob{Arraysets: []refblob.ArraysetRecord{
		{Name: "aset", Samples: []refblob.Sample{{Key: k2, Digest: mergeSampleDigest("b")}}},
	}}

	result := Merge(base, master, other)
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", result.Conflicts)
	}
	if len(result.Blob.Arraysets) != 1 || len(result.Blob.Arraysets[0].Samples) != 2 {
		t.Fatalf("expected union of 2 samples, got %+v", result.Blob.Arraysets)
	}
}

func TestMergeConflictMasterWins(t *testing.T) {
	k1, _ := samplekey.Str("1")

	base := refblob.RefBlob{Arraysets: []refblob.ArraysetRecord{
		{Name: "aset", Samples: []refblob.Sample{{Key: k1, Digest: mergeSampleDigest("base")}}},
	}}
	master := refblob.RefBlob{Arraysets: []refblob.ArraysetRecord{
		{Name: "aset", Samples: []refblob.Sample{{Key: k1, Digest: mergeSampleDigest("master")}}},
	}}
	other := refblob.RefBlob{Arraysets: []refblob.ArraysetRecord{
		{Name: "aset", Samples: []refblob.Sample{{Key: k1, Digest: mergeSampleDigest("other")}}},
	}}

	result := Merge(base, master, other)
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}
	if result.Blob.Arraysets[0].Samples[0].Digest != mergeSampleDigest("master") {
		t.Fatalf("expected master's value to win on conflict")
	}
}

func TestMergeNoConflictWhenOnlyOneSideChanged(t *testing.T) {
	k1, _ := samplekey.Str("1")

	base := refblob.RefBlob{Arraysets: []refblob.ArraysetRecord{
		{Name: "aset", Samples: []refblob.Sample{{Key: k1, Digest: mergeSampleDigest("base")}}},
	}}
	master := refblob.RefBlob{Arraysets: []refblob.ArraysetRecord{
		{Name: "aset", Samples: []refblob.Sample{{Key: k1, Digest: mergeSampleDigest("changed")}}},
	}}
	other := base

	result := Merge(base, master, other)
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts when only one side changed, got %v", result.Conflicts)
	}
	if result.Blob.Arraysets[0].Samples[0].Digest != mergeSampleDigest("changed") {
		t.Fatalf("expected changed value to carry through")
	}
}

func TestMergeMetadataFavorsMaster(t *testing.T) {
	k1, _ := samplekey.Str("k")
	base := refblob.RefBlob{Metadata: []refblob.MetadataEntry{{Key: k1, Value: "base"}}}
	master := refblob.RefBlob{Metadata: []refblob.MetadataEntry{{Key: k1, Value: "master"}}}
	other := refblob.RefBlob{Metadata: []refblob.MetadataEntry{{Key: k1, Value: "other"}}}

	result := Merge(base, master, other)
	if len(result.Blob.Metadata) != 1 || result.Blob.Metadata[0].Value != "master" {
		t.Fatalf("expected master metadata value to win, got %+v", result.Blob.Metadata)
	}
}
