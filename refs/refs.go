// Package refs implements the branch & commit reference graph (§4.6):
// named mutable pointers into an immutable commit DAG, with traversal,
// ancestry and history listing. Commits and branch heads are persisted
// in the refs and branches logical databases. Modeled on
// registry/storage/catalog.go's sorted-listing-over-a-key-prefix idiom,
// generalized from "repository names" to "branch names" and "commit
// digests".
package refs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v3"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/refblob"
	"github.com/hangarstor/hangar/samplekey"
)

var commitPrefix = []byte("commit/")

func commitKey(d digest.Digest) []byte {
	return append(append([]byte(nil), commitPrefix...), []byte(d)...)
}

// PutCommit writes an immutable commit record (§3 "A commit is
// immutable once written"). Writing an already-present digest is a
// no-op, matching the idempotent-push contract (§4.5 step 4, §7
// AlreadyExists).
func PutCommit(txn *kvstore.Txn, d digest.Digest, parents []digest.Digest, spec refblob.Spec, blob refblob.RefBlob) error {
	if _, err := txn.Get(kvstore.DBRefs, commitKey(d)); err == nil {
		return nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	rec := commitRecord{Parents: parents, Spec: spec, Blob: blob}
	return txn.Set(kvstore.DBRefs, commitKey(d), encodeCommitRecord(rec))
}

// GetCommit resolves a commit digest to its parents, spec, and ref blob.
func GetCommit(txn *kvstore.Txn, d digest.Digest) (parents []digest.Digest, spec refblob.Spec, blob refblob.RefBlob, err error) {
	raw, err := txn.Get(kvstore.DBRefs, commitKey(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, refblob.Spec{}, refblob.RefBlob{}, errcode.ErrorCodeNotFound.WithDetail("no commit " + d.String())
	}
	if err != nil {
		return nil, refblob.Spec{}, refblob.RefBlob{}, err
	}
	rec, err := decodeCommitRecord(raw)
	if err != nil {
		return nil, refblob.Spec{}, refblob.RefBlob{}, err
	}
	return rec.Parents, rec.Spec, rec.Blob, nil
}

// HasCommit reports whether digest d is already recorded (§4.5 step 4
// idempotent-push check).
func HasCommit(txn *kvstore.Txn, d digest.Digest) (bool, error) {
	_, err := txn.Get(kvstore.DBRefs, commitKey(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

var branchPrefix = []byte("branch/")

func branchKey(name string) []byte {
	return append(append([]byte(nil), branchPrefix...), []byte(name)...)
}

// Create registers a new branch name pointing at base. Fails
// AlreadyExists if name is already a branch (§4.6 "create(name, base)").
func Create(txn *kvstore.Txn, name string, base digest.Digest) error {
	if err := samplekey.ValidateName(name); err != nil {
		return errcode.ErrorCodeInvalidName.WithDetail(err.Error())
	}
	if _, err := txn.Get(kvstore.DBBranches, branchKey(name)); err == nil {
		return errcode.ErrorCodeAlreadyExists.WithDetail("branch " + name + " already exists")
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set(kvstore.DBBranches, branchKey(name), []byte(base))
}

// Head returns the commit digest name currently points at.
func Head(txn *kvstore.Txn, name string) (digest.Digest, error) {
	raw, err := txn.Get(kvstore.DBBranches, branchKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", errcode.ErrorCodeNotFound.WithDetail("no branch " + name)
	}
	if err != nil {
		return "", err
	}
	return digest.Digest(raw), nil
}

// SetHead advances name to point at target. Unless force is true, target
// must be a descendant of the current head (§4.6 "must be a descendant
// unless force").
func SetHead(txn *kvstore.Txn, name string, target digest.Digest, force bool) error {
	current, err := Head(txn, name)
	if err != nil {
		return err
	}
	if !force {
		isDescendant, err := IsAncestor(txn, current, target)
		if err != nil {
			return err
		}
		if !isDescendant {
			return errcode.ErrorCodeFailedPrecondition.WithDetail(
				fmt.Sprintf("%s is not a descendant of current head %s", target, current))
		}
	}
	return txn.Set(kvstore.DBBranches, branchKey(name), []byte(target))
}

// Names returns every branch name, sorted (§4.6 "names()").
func Names(txn *kvstore.Txn) ([]string, error) {
	var names []string
	err := txn.ScanPrefix(kvstore.DBBranches, branchPrefix, func(key, _ []byte) error {
		names = append(names, string(key[len(branchPrefix):]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// History returns the topologically ordered list of commits reachable
// from name's head, most recent first (§4.6 "history(name)").
func History(txn *kvstore.Txn, name string) ([]digest.Digest, error) {
	head, err := Head(txn, name)
	if err != nil {
		return nil, err
	}
	return Ancestors(txn, head)
}

// Ancestors returns start and every commit reachable from it by
// following parent links, in reverse-topological (descendant-first)
// order, visiting each commit once even under merge commits with shared
// ancestors.
func Ancestors(txn *kvstore.Txn, start digest.Digest) ([]digest.Digest, error) {
	if start == "" {
		return nil, nil
	}
	var order []digest.Digest
	visited := map[digest.Digest]struct{}{}
	var visit func(d digest.Digest) error
	visit = func(d digest.Digest) error {
		if _, ok := visited[d]; ok {
			return nil
		}
		visited[d] = struct{}{}
		parents, _, _, err := GetCommit(txn, d)
		if err != nil {
			return err
		}
		order = append(order, d)
		for _, p := range parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(start); err != nil {
		return nil, err
	}
	return order, nil
}

// IsAncestor reports whether ancestor is an ancestor of target (the same
// commit counts as its own ancestor, so SetHead on an unchanged head
// succeeds).
func IsAncestor(txn *kvstore.Txn, ancestor, target digest.Digest) (bool, error) {
	if ancestor == "" {
		return true, nil
	}
	chain, err := Ancestors(txn, target)
	if err != nil {
		return false, err
	}
	for _, d := range chain {
		if d == ancestor {
			return true, nil
		}
	}
	return false, nil
}
