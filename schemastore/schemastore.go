// Package schemastore persists arrayset schemas keyed by their own
// content digest (§3 "Schema has its own content digest; identical
// schemas are shared across arraysets and across repositories"), backed
// by the schemas logical database. Modeled on the teacher's tag/manifest
// link stores that map a digest to a blob, generalized from "manifest
// digest -> manifest bytes" to "schema digest -> schema bytes."
package schemastore

import (
	"errors"

	"github.com/dgraph-io/badger/v3"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/schema"
)

var prefix = []byte("schema/")

func key(d digest.Digest) []byte {
	return append(append([]byte(nil), prefix...), []byte(d)...)
}

// Put writes sch under its own digest, a no-op if already present since
// schema content is immutable once digested.
func Put(txn *kvstore.Txn, sch schema.Schema) (digest.Digest, error) {
	if err := sch.Validate(); err != nil {
		return "", errcode.ErrorCodeSchemaMismatch.WithDetail(err.Error())
	}
	d := sch.Digest()
	if _, err := txn.Get(kvstore.DBSchemas, key(d)); err == nil {
		return d, nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return "", err
	}
	if err := txn.Set(kvstore.DBSchemas, key(d), sch.CanonicalBytes()); err != nil {
		return "", err
	}
	return d, nil
}

// Get resolves a schema digest back to its schema.
func Get(txn *kvstore.Txn, d digest.Digest) (schema.Schema, error) {
	raw, err := txn.Get(kvstore.DBSchemas, key(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return schema.Schema{}, errcode.ErrorCodeNotFound.WithDetail("no schema " + d.String())
	}
	if err != nil {
		return schema.Schema{}, err
	}
	return schema.Decode(raw)
}

// Has reports whether digest d is already recorded.
func Has(txn *kvstore.Txn, d digest.Digest) (bool, error) {
	_, err := txn.Get(kvstore.DBSchemas, key(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}
