package refs

import (
	"sort"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/refblob"
	"github.com/hangarstor/hangar/samplekey"
)

// Conflict records one arrayset/key whose value differs between both
// sides of a merge relative to their common ancestor, surfaced
// explicitly rather than silently resolved (§4.6 "conflicts surface as
// explicit conflict records").
type Conflict struct {
	Arrayset     string
	Key          samplekey.Key
	MasterDigest digest.Digest
	OtherDigest  digest.Digest
}

// MergeResult is the outcome of a three-way merge: the merged ref blob
// and any conflicts that were resolved by favoring master (§9
// supplemented feature: "deterministic tie-break favoring the branch
// passed as master").
type MergeResult struct {
	Blob      refblob.RefBlob
	Conflicts []Conflict
}

// Merge computes a three-way merge of master and other relative to
// their common ancestor base (§4.6 "merge(a, b)"). For each arrayset
// present on either side, samples are unioned; where both sides wrote a
// different digest for the same key relative to base, the conflict is
// recorded and master's value wins; where only other changed a key
// relative to base, other's value is taken. Keys deleted on one side are
// not deleted from the result.
func Merge(base, master, other refblob.RefBlob) MergeResult {
	baseDigest := indexArraysets(base)
	masterArraysets := indexArraysets(master)
	otherArraysets := indexArraysets(other)

	names := map[string]struct{}{}
	for name := range masterArraysets {
		names[name] = struct{}{}
	}
	for name := range otherArraysets {
		names[name] = struct{}{}
	}

	var result MergeResult
	var sortedNames []string
	for name := range names {
		sortedNames = append(sortedNames, name)
	}
	sort.Strings(sortedNames)

	for _, name := range sortedNames {
		m := masterArraysets[name]
		o := otherArraysets[name]
		b := baseDigest[name]

		schemaDigest := m.SchemaDigest
		if schemaDigest == "" {
			schemaDigest = o.SchemaDigest
		}

		keys := map[string]samplekey.Key{}
		mSamples := sampleMap(m.Samples)
		oSamples := sampleMap(o.Samples)
		bSamples := sampleMap(b.Samples)
		for k := range mSamples {
			keys[k.String()] = k
		}
		for k := range oSamples {
			keys[k.String()] = k
		}

		var merged []refblob.Sample
		for _, k := range keys {
			mv, mOK := mSamples[k]
			ov, oOK := oSamples[k]
			bv := bSamples[k]

			switch {
			case mOK && oOK && mv != ov:
				if mv == bv {
					merged = append(merged, refblob.Sample{Key: k, Digest: ov})
					break
				}
				if ov != bv {
					result.Conflicts = append(result.Conflicts, Conflict{
						Arrayset: name, Key: k, MasterDigest: mv, OtherDigest: ov,
					})
				}
				merged = append(merged, refblob.Sample{Key: k, Digest: mv})
			case mOK:
				merged = append(merged, refblob.Sample{Key: k, Digest: mv})
			case oOK:
				merged = append(merged, refblob.Sample{Key: k, Digest: ov})
			}
		}

		result.Blob.Arraysets = append(result.Blob.Arraysets, refblob.ArraysetRecord{
			Name: name, SchemaDigest: schemaDigest, Samples: merged,
		})
	}

	result.Blob.Metadata = mergeMetadata(base.Metadata, master.Metadata, other.Metadata)
	sort.Slice(result.Conflicts, func(i, j int) bool {
		if result.Conflicts[i].Arrayset != result.Conflicts[j].Arrayset {
			return result.Conflicts[i].Arrayset < result.Conflicts[j].Arrayset
		}
		return result.Conflicts[i].Key.Less(result.Conflicts[j].Key)
	})
	return result
}

// MergeBase returns the nearest common ancestor of a and b, found by
// walking a's ancestors (descendant-first, per Ancestors) and returning
// the first one also reachable from b. Returns "" if they share none.
func MergeBase(txn *kvstore.Txn, a, b digest.Digest) (digest.Digest, error) {
	aChain, err := Ancestors(txn, a)
	if err != nil {
		return "", err
	}
	bChain, err := Ancestors(txn, b)
	if err != nil {
		return "", err
	}
	bSet := map[digest.Digest]struct{}{}
	for _, d := range bChain {
		bSet[d] = struct{}{}
	}
	for _, d := range aChain {
		if _, ok := bSet[d]; ok {
			return d, nil
		}
	}
	return "", nil
}

// MergeBranches resolves master's and other's heads, three-way merges
// them against their common ancestor, and advances master to a new
// two-parent merge commit recording both heads as parents (§4.6
// "merge(a, b)"). Fails NotFound if either branch doesn't exist.
func MergeBranches(txn *kvstore.Txn, master, other string, spec refblob.Spec) (digest.Digest, MergeResult, error) {
	masterHead, err := Head(txn, master)
	if err != nil {
		return "", MergeResult{}, err
	}
	otherHead, err := Head(txn, other)
	if err != nil {
		return "", MergeResult{}, err
	}

	base, err := MergeBase(txn, masterHead, otherHead)
	if err != nil {
		return "", MergeResult{}, err
	}
	var baseBlob refblob.RefBlob
	if base != "" {
		if _, _, baseBlob, err = GetCommit(txn, base); err != nil {
			return "", MergeResult{}, err
		}
	}
	_, _, masterBlob, err := GetCommit(txn, masterHead)
	if err != nil {
		return "", MergeResult{}, err
	}
	_, _, otherBlob, err := GetCommit(txn, otherHead)
	if err != nil {
		return "", MergeResult{}, err
	}

	result := Merge(baseBlob, masterBlob, otherBlob)
	parents := []digest.Digest{masterHead, otherHead}
	commitDigest := refblob.CommitDigest(parents, spec, result.Blob)
	if err := PutCommit(txn, commitDigest, parents, spec, result.Blob); err != nil {
		return "", MergeResult{}, err
	}
	if err := SetHead(txn, master, commitDigest, false); err != nil {
		return "", MergeResult{}, err
	}
	return commitDigest, result, nil
}

func indexArraysets(blob refblob.RefBlob) map[string]refblob.ArraysetRecord {
	out := map[string]refblob.ArraysetRecord{}
	for _, as := range blob.Arraysets {
		out[as.Name] = as
	}
	return out
}

func sampleMap(samples []refblob.Sample) map[samplekey.Key]digest.Digest {
	out := map[samplekey.Key]digest.Digest{}
	for _, s := range samples {
		out[s.Key] = s.Digest
	}
	return out
}

// mergeMetadata favors master on conflict, the same tie-break as
// arrayset samples, and takes other's value where only other changed a
// key relative to base.
func mergeMetadata(base, master, other []refblob.MetadataEntry) []refblob.MetadataEntry {
	baseMap := map[samplekey.Key]string{}
	for _, e := range base {
		baseMap[e.Key] = e.Value
	}
	masterMap := map[samplekey.Key]string{}
	for _, e := range master {
		masterMap[e.Key] = e.Value
	}
	otherMap := map[samplekey.Key]string{}
	for _, e := range other {
		otherMap[e.Key] = e.Value
	}

	keys := map[string]samplekey.Key{}
	for k := range masterMap {
		keys[k.String()] = k
	}
	for k := range otherMap {
		keys[k.String()] = k
	}

	var out []refblob.MetadataEntry
	for _, k := range keys {
		mv, mOK := masterMap[k]
		ov, oOK := otherMap[k]
		bv, bOK := baseMap[k]
		switch {
		case mOK && oOK && mv != ov && bOK && mv == bv:
			out = append(out, refblob.MetadataEntry{Key: k, Value: ov})
		case mOK:
			out = append(out, refblob.MetadataEntry{Key: k, Value: mv})
		case oOK:
			out = append(out, refblob.MetadataEntry{Key: k, Value: ov})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}
