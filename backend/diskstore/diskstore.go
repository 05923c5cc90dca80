// Package diskstore implements a loose, one-file-per-payload backend, the
// array/string/bytes analogue of registry/storage/driver/filesystem: each
// write lands in a temp file and is renamed into place so a reader never
// observes a partial write.
package diskstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hangarstor/hangar/backend"
	basewrap "github.com/hangarstor/hangar/backend/base"
	"github.com/hangarstor/hangar/backend/factory"
	"github.com/hangarstor/hangar/schema"
)

func init() {
	factory.Register("10", newDriver(backend.KindTensor, "10"))
	factory.Register("30", newDriver(backend.KindString, "30"))
	factory.Register("31", newDriver(backend.KindBytes, "31"))
}

func newDriver(kind backend.Kind, code string) factory.Constructor {
	return func(dir string, options map[string]string) (backend.Backend, error) {
		d := &driver{root: dir, code: code, kind: kind}
		return &basewrap.Base{Backend: d}, nil
	}
}

type driver struct {
	root string
	code string
	kind backend.Kind
	mode backend.Mode
}

var _ backend.Backend = (*driver)(nil)

func (d *driver) Code() string      { return d.code }
func (d *driver) Kind() backend.Kind { return d.kind }

func (d *driver) Open(mode backend.Mode) error {
	d.mode = mode
	return os.MkdirAll(d.root, 0o755)
}

func (d *driver) Close() error { return nil }

// Write stores payload under a freshly generated id, writing to a
// sibling temp file first and renaming into place.
func (d *driver) Write(payload []byte, _ schema.Schema) (string, error) {
	if d.mode != backend.ModeWrite {
		return "", backend.ErrNotOpenForWrite
	}
	id := uuid.New().String()
	finalPath := d.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	return d.code + ":" + id, nil
}

func (d *driver) Read(locator string) ([]byte, error) {
	id, err := d.idFromLocator(locator)
	if err != nil {
		return nil, err
	}
	p, err := os.ReadFile(d.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.NotFoundError{Locator: locator}
		}
		return nil, err
	}
	return p, nil
}

func (d *driver) Delete(locator string) error {
	id, err := d.idFromLocator(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(d.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *driver) idFromLocator(locator string) (string, error) {
	prefix := d.code + ":"
	if len(locator) <= len(prefix) || locator[:len(prefix)] != prefix {
		return "", fmt.Errorf("diskstore: locator %q does not belong to backend %q", locator, d.code)
	}
	return locator[len(prefix):], nil
}

// pathFor shards by the first two characters of the id to avoid a huge
// flat directory, same rationale as the teacher's blob path sharding.
func (d *driver) pathFor(id string) string {
	shard := id
	if len(shard) > 2 {
		shard = id[:2]
	}
	return filepath.Join(d.root, d.code, shard, id)
}
