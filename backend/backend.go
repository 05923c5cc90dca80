// Package backend defines the pluggable storage-backend contract of §4.3:
// every backend is selected by a two-character code embedded in the
// locator it hands back from Write, and exposes open/close/write/read/
// delete over opaque payloads. Modeled on the teacher's
// registry/storage/driver.StorageDriver, generalized from "path-addressed
// blob" to "backend-assigned locator" since hangar's caller (the hash
// index, not the backend) owns content addressing.
package backend

import (
	"errors"
	"fmt"

	"github.com/hangarstor/hangar/schema"
)

// Mode selects how a Backend is opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Kind discriminates the payload shape a backend stores, matching the
// kinds digest.Kind hashes.
type Kind int

const (
	KindTensor Kind = iota
	KindString
	KindBytes
)

// Backend is a storage engine for opaque payloads of one Kind, addressed
// by locators it assigns itself on Write.
type Backend interface {
	// Code is this backend's two-character locator prefix.
	Code() string

	// Kind is the payload shape this backend accepts.
	Kind() Kind

	// Open prepares the backend for reads or writes. Open takes no lock;
	// writes through one accessor are serialized by the base.Base
	// wrapper around Write, Delete and Rotate.
	Open(mode Mode) error

	// Close releases resources acquired by Open.
	Close() error

	// Write stores a fresh payload (the caller has already deduplicated
	// via the hash index) and returns its locator. sch carries
	// backend-specific options from the arrayset's schema.
	Write(payload []byte, sch schema.Schema) (locator string, err error)

	// Read resolves locator to its payload.
	Read(locator string) ([]byte, error)

	// Delete removes the payload at locator. Deleting an already-removed
	// locator is a no-op.
	Delete(locator string) error
}

// NotFoundError is returned when a locator cannot be resolved (§4.3).
type NotFoundError struct {
	Locator string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("backend: locator not found: %s", e.Locator)
}

// CorruptError is returned when bytes read do not match an expected
// digest when verification is requested (§4.3).
type CorruptError struct {
	Locator string
	Reason  string
}

func (e CorruptError) Error() string {
	return fmt.Sprintf("backend: corrupt payload at %s: %s", e.Locator, e.Reason)
}

// FullError is returned when a backend's chunk or container is exhausted;
// the layer above is expected to allocate a new container (§4.3).
type FullError struct {
	Container string
}

func (e FullError) Error() string {
	return fmt.Sprintf("backend: container %s is full", e.Container)
}

// Rotatable is implemented by backends whose Write can return FullError
// (§4.3 "the layer above allocates a new container"): Rotate starts a
// fresh chunk/container so the next Write against the same accessor
// succeeds. The hash index type-asserts for this interface after a
// FullError and retries the write once before giving up.
type Rotatable interface {
	Rotate() error
}

// ErrNotRotatable is returned by Base.Rotate when the wrapped backend
// does not implement Rotatable.
var ErrNotRotatable = errors.New("backend: does not support rotation")

// ErrNotOpenForWrite is returned when Write is called on a backend opened
// only for reading.
var ErrNotOpenForWrite = errors.New("backend: not open for write")

// ErrNotOpenForRead is returned when Read is called on a backend not open.
var ErrNotOpenForRead = errors.New("backend: not open for read")

// RemoteCode is the reserved locator prefix marking a sample digest whose
// payload has not yet been fetched from a remote peer (§4.4
// contains_remote_references / remote_sample_keys, §9 supplemented
// feature). It is never a registered Backend — resolving it through the
// hash index fails with hashindex.ErrRemoteReference until a real fetch
// replaces the hash index entry.
const RemoteCode = "50"
