// Package memory implements an in-memory backend, intended solely for
// tests, the array/string/bytes analogue of
// registry/storage/driver/inmemory: a driver backed by a local map
// instead of a filesystem or object store.
package memory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hangarstor/hangar/backend"
	basewrap "github.com/hangarstor/hangar/backend/base"
	"github.com/hangarstor/hangar/backend/factory"
	"github.com/hangarstor/hangar/schema"
)

func init() {
	factory.Register("20", newDriver(backend.KindTensor, "20"))
	factory.Register("21", newDriver(backend.KindString, "21"))
	factory.Register("22", newDriver(backend.KindBytes, "22"))
}

func newDriver(kind backend.Kind, code string) factory.Constructor {
	return func(_ string, _ map[string]string) (backend.Backend, error) {
		d := &driver{
			code:  code,
			kind:  kind,
			store: map[string][]byte{},
		}
		return &basewrap.Base{Backend: d}, nil
	}
}

type driver struct {
	code string
	kind backend.Kind
	mode backend.Mode

	mu    sync.RWMutex
	store map[string][]byte
}

var _ backend.Backend = (*driver)(nil)

func (d *driver) Code() string       { return d.code }
func (d *driver) Kind() backend.Kind { return d.kind }

func (d *driver) Open(mode backend.Mode) error {
	d.mode = mode
	return nil
}

func (d *driver) Close() error { return nil }

func (d *driver) Write(payload []byte, _ schema.Schema) (string, error) {
	if d.mode != backend.ModeWrite {
		return "", backend.ErrNotOpenForWrite
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.New().String()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	d.store[id] = cp

	return d.code + ":" + id, nil
}

func (d *driver) Read(locator string) ([]byte, error) {
	id, err := d.idFromLocator(locator)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.store[id]
	if !ok {
		return nil, backend.NotFoundError{Locator: locator}
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	return cp, nil
}

func (d *driver) Delete(locator string) error {
	id, err := d.idFromLocator(locator)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.store, id)
	return nil
}

func (d *driver) idFromLocator(locator string) (string, error) {
	prefix := d.code + ":"
	if len(locator) <= len(prefix) || locator[:len(prefix)] != prefix {
		return "", fmt.Errorf("memory: locator %q does not belong to backend %q", locator, d.code)
	}
	return locator[len(prefix):], nil
}
