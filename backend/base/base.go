// Package base provides a wrapper that adds the per-writer-lock and
// debug-timing behavior common to every backend, the way
// registry/storage/driver/base.Base wraps a StorageDriver with shared
// path checks. Concrete backends embed Base rather than re-implement
// locking.
package base

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hangarstor/hangar/backend"
	"github.com/hangarstor/hangar/schema"
)

// Base wraps a backend.Backend, serializing writes behind a single
// per-instance lock (§4.3: "writes are serialised by a per-writer lock")
// while leaving reads unsynchronized, since "concurrent reads from one
// open accessor are permitted."
type Base struct {
	backend.Backend

	writeMu sync.Mutex
}

func durationDebugLog(code, method string) func() {
	start := time.Now()
	return func() {
		logrus.WithFields(logrus.Fields{
			"backend": code,
			"method":  method,
			"elapsed": time.Since(start),
		}).Debug("backend.operation")
	}
}

// Write serializes through the writer lock and wraps the call with debug
// timing, then delegates to the embedded backend.
func (b *Base) Write(payload []byte, sch schema.Schema) (string, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	defer durationDebugLog(b.Backend.Code(), "Write")()

	return b.Backend.Write(payload, sch)
}

// Delete serializes through the writer lock like Write, since deletion
// mutates the same backing store writes do.
func (b *Base) Delete(locator string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	defer durationDebugLog(b.Backend.Code(), "Delete")()

	return b.Backend.Delete(locator)
}

// Read passes straight through; reads from one open accessor may run
// concurrently.
func (b *Base) Read(locator string) ([]byte, error) {
	defer durationDebugLog(b.Backend.Code(), "Read")()
	return b.Backend.Read(locator)
}

// Rotate promotes backend.Rotatable through the embedded interface so
// callers holding a *Base (as the hash index does) can recover from a
// FullError without a type assertion against the concrete backend.
// Serialized through the same writer lock as Write, since rotation
// mutates the state Write reads (§4.3).
func (b *Base) Rotate() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	defer durationDebugLog(b.Backend.Code(), "Rotate")()

	r, ok := b.Backend.(backend.Rotatable)
	if !ok {
		return backend.ErrNotRotatable
	}
	return r.Rotate()
}
