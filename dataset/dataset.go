// Package dataset implements the dataset adapter described in §4.9: a
// read-only, stateless projection of aligned samples across a set of
// arraysets, indexable by position or by key. Modeled on the original
// implementation's HangarDataset/TorchDataset split
// (original_source/src/hangar/dataset/torch_dset.py: "index_get" over an
// aligned key list, "__len__" over that list's length) without the
// framework-specific wrapper, which is out of scope (§1 Non-goals
// "Dataset loader shims that expose samples to external tensor training
// frameworks").
package dataset

import (
	"fmt"
	"sort"

	"github.com/hangarstor/hangar/arrayset"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/samplekey"
)

// Record is one aligned sample: one value per arrayset, in the order the
// arraysets were given to Open.
type Record []arrayset.Value

// Dataset projects sample i as the tuple of values at the i-th aligned
// key across every arrayset it wraps (§4.9 "projects sample i as the
// tuple ... of values at the i-th aligned key across arraysets").
type Dataset struct {
	names     []string
	arraysets []*arrayset.Arrayset
	keys      []samplekey.Key
}

// Open builds a dataset over arraysets, aligned by keys. If keys is nil,
// the alignment is every key present in the first arrayset, sorted (§4.9
// "an optional key list"). Every key must exist in every arrayset;
// otherwise Open fails with NotFound (§4.9 "Keys must exist in every
// arrayset; mismatches produce KeyError").
func Open(arraysets map[string]*arrayset.Arrayset, keys []samplekey.Key) (*Dataset, error) {
	if len(arraysets) == 0 {
		return nil, errcode.ErrorCodeInvalidName.WithDetail("dataset: at least one arrayset is required")
	}

	names := make([]string, 0, len(arraysets))
	for name := range arraysets {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]*arrayset.Arrayset, len(names))
	for i, name := range names {
		ordered[i] = arraysets[name]
	}

	if keys == nil {
		keys = ordered[0].Keys()
	}
	for _, as := range ordered {
		for _, k := range keys {
			if !as.Contains(k) {
				return nil, errcode.ErrorCodeNotFound.WithDetail(
					fmt.Sprintf("dataset: key %s missing from arrayset %q", k, as.Name()))
			}
		}
	}

	return &Dataset{names: names, arraysets: ordered, keys: keys}, nil
}

// Len returns the number of aligned samples (§4.9, torch_dset.py's
// "__len__").
func (d *Dataset) Len() int { return len(d.keys) }

// ColumnNames returns the arrayset names backing this dataset, in the
// fixed order Record values are returned in.
func (d *Dataset) ColumnNames() []string { return append([]string(nil), d.names...) }

// Keys returns the aligned key list this dataset iterates over.
func (d *Dataset) Keys() []samplekey.Key { return append([]samplekey.Key(nil), d.keys...) }

// IndexGet projects sample i as a Record (§4.9, torch_dset.py's
// "index_get"). i must be in [0, Len()).
func (d *Dataset) IndexGet(txn *kvstore.Txn, i int) (Record, error) {
	if i < 0 || i >= len(d.keys) {
		return nil, errcode.ErrorCodeNotFound.WithDetail(fmt.Sprintf("dataset: index %d out of range [0, %d)", i, len(d.keys)))
	}
	return d.KeyGet(txn, d.keys[i])
}

// KeyGet projects the sample at key as a Record, regardless of its
// position in the aligned key list.
func (d *Dataset) KeyGet(txn *kvstore.Txn, key samplekey.Key) (Record, error) {
	rec := make(Record, len(d.arraysets))
	for i, as := range d.arraysets {
		v, err := as.Get(txn, key)
		if err != nil {
			return nil, err
		}
		rec[i] = v
	}
	return rec, nil
}
