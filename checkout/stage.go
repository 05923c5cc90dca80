package checkout

import (
	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/samplekey"
)

// The staging database (kvstore.DBStage) holds one writer checkout's
// accumulated mutations, keyed by three prefixes:
//
//	parent              -> parent commit digest
//	asetmeta/<name>      -> schema digest
//	aset/<name>/<key>    -> sample digest
//
// A fresh writer checkout snapshots these from the parent commit's ref
// blob; an interrupted one resumes directly from whatever is already
// there (§4.5 "A writer checkout opens a staging database snapshotted
// from the parent commit's ref blob").
var (
	parentKey    = []byte("parent")
	asetMetaPfx  = []byte("asetmeta/")
	asetSamplPfx = []byte("aset/")
)

func asetMetaKey(name string) []byte {
	return append(append([]byte(nil), asetMetaPfx...), []byte(name)...)
}

func asetSamplePrefix(name string) []byte {
	return append(append([]byte(nil), asetSamplPfx...), []byte(name+"/")...)
}

func stageIsEmpty(txn *kvstore.Txn) (bool, error) {
	empty := true
	err := txn.ScanPrefix(kvstore.DBStage, nil, func(_, _ []byte) error {
		empty = false
		return nil
	})
	return empty, err
}

func stageSetParent(txn *kvstore.Txn, parent digest.Digest) error {
	return txn.Set(kvstore.DBStage, parentKey, []byte(parent))
}

func stageGetParent(txn *kvstore.Txn) (digest.Digest, error) {
	raw, err := txn.Get(kvstore.DBStage, parentKey)
	if err != nil {
		return "", err
	}
	return digest.Digest(raw), nil
}

func stageSetArraysetSchema(txn *kvstore.Txn, name string, schemaDigest digest.Digest) error {
	return txn.Set(kvstore.DBStage, asetMetaKey(name), []byte(schemaDigest))
}

func stageDeleteArrayset(txn *kvstore.Txn, name string) error {
	if err := txn.Delete(kvstore.DBStage, asetMetaKey(name)); err != nil {
		return err
	}
	var keys [][]byte
	prefix := asetSamplePrefix(name)
	if err := txn.ScanPrefix(kvstore.DBStage, prefix, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(kvstore.DBStage, k); err != nil {
			return err
		}
	}
	return nil
}

func stageArraysetNames(txn *kvstore.Txn) ([]string, error) {
	var names []string
	err := txn.ScanPrefix(kvstore.DBStage, asetMetaPfx, func(key, _ []byte) error {
		names = append(names, string(key[len(asetMetaPfx):]))
		return nil
	})
	return names, err
}

func stageArraysetSchemaDigest(txn *kvstore.Txn, name string) (digest.Digest, error) {
	raw, err := txn.Get(kvstore.DBStage, asetMetaKey(name))
	if err != nil {
		return "", err
	}
	return digest.Digest(raw), nil
}

func stageLoadSamples(txn *kvstore.Txn, name string) (map[samplekey.Key]digest.Digest, error) {
	samples := map[samplekey.Key]digest.Digest{}
	prefix := asetSamplePrefix(name)
	err := txn.ScanPrefix(kvstore.DBStage, prefix, func(key, value []byte) error {
		k, err := samplekey.Parse(string(key[len(prefix):]))
		if err != nil {
			return err
		}
		samples[k] = digest.Digest(value)
		return nil
	})
	return samples, err
}

// stagePersistSamples rewrites the full sample index for name, matching
// metadata.Store.Persist's clear-then-write discipline.
func stagePersistSamples(txn *kvstore.Txn, name string, samples map[samplekey.Key]digest.Digest) error {
	prefix := asetSamplePrefix(name)
	var existing [][]byte
	if err := txn.ScanPrefix(kvstore.DBStage, prefix, func(key, _ []byte) error {
		existing = append(existing, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range existing {
		if err := txn.Delete(kvstore.DBStage, k); err != nil {
			return err
		}
	}
	for k, d := range samples {
		fullKey := append(append([]byte(nil), prefix...), []byte(k.String())...)
		if err := txn.Set(kvstore.DBStage, fullKey, []byte(d)); err != nil {
			return err
		}
	}
	return nil
}
