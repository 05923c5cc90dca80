// Package container implements a chunked-container backend (code "00"):
// many small payloads are appended into a bounded-size container file,
// each addressed by locator "00:<container-id>:<offset>:<length>". When
// the active container would exceed its size limit (the maxContainerBytes
// option, DefaultMaxContainerBytes when unset), Write returns
// backend.FullError and the caller allocates a new container, per §4.3.
// This is hangar's analogue of the array-chunk-file backends the
// original Python implementation keeps per dtype/shape class.
package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/hangarstor/hangar/backend"
	basewrap "github.com/hangarstor/hangar/backend/base"
	"github.com/hangarstor/hangar/backend/factory"
	"github.com/hangarstor/hangar/schema"
)

// DefaultMaxContainerBytes bounds a single container file's size.
const DefaultMaxContainerBytes = 64 << 20 // 64 MiB

func init() {
	factory.Register("00", func(dir string, options map[string]string) (backend.Backend, error) {
		maxBytes := int64(DefaultMaxContainerBytes)
		if v, ok := options["maxContainerBytes"]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("container: invalid maxContainerBytes %q: %w", v, err)
			}
			maxBytes = n
		}
		d := &driver{root: dir, maxBytes: maxBytes}
		return &basewrap.Base{Backend: d}, nil
	})
}

type driver struct {
	root     string
	maxBytes int64

	mu         sync.Mutex
	mode       backend.Mode
	activeID   int
	activeSize int64
	activeFile *os.File
}

var _ backend.Backend = (*driver)(nil)
var _ backend.Rotatable = (*driver)(nil)

func (d *driver) Code() string       { return "00" }
func (d *driver) Kind() backend.Kind { return backend.KindTensor }

func (d *driver) Open(mode backend.Mode) error {
	d.mode = mode
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return err
	}
	if mode != backend.ModeWrite {
		return nil
	}
	return d.openOrCreateActive()
}

func (d *driver) openOrCreateActive() error {
	id, size, err := d.latestContainer()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(d.containerPath(id), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	d.activeID = id
	d.activeSize = size
	d.activeFile = f
	return nil
}

func (d *driver) latestContainer() (id int, size int64, err error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, 0, err
	}
	maxID := -1
	for _, e := range entries {
		n, convErr := strconv.Atoi(strings.TrimSuffix(e.Name(), ".bin"))
		if convErr != nil {
			continue
		}
		if n > maxID {
			maxID = n
		}
	}
	if maxID < 0 {
		return 0, 0, nil
	}
	fi, statErr := os.Stat(d.containerPath(maxID))
	if statErr != nil {
		return 0, 0, statErr
	}
	return maxID, fi.Size(), nil
}

func (d *driver) containerPath(id int) string {
	return filepath.Join(d.root, fmt.Sprintf("%d.bin", id))
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeFile != nil {
		err := d.activeFile.Close()
		d.activeFile = nil
		return err
	}
	return nil
}

// Write appends payload to the active container. If it would not fit,
// Write returns backend.FullError and leaves rotation to the caller
// (see Rotate).
func (d *driver) Write(payload []byte, _ schema.Schema) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != backend.ModeWrite {
		return "", backend.ErrNotOpenForWrite
	}
	if d.activeFile == nil {
		if err := d.openOrCreateActive(); err != nil {
			return "", err
		}
	}
	if d.activeSize+int64(len(payload)) > d.maxBytes {
		return "", backend.FullError{Container: fmt.Sprintf("%d", d.activeID)}
	}

	offset := d.activeSize
	n, err := d.activeFile.Write(payload)
	if err != nil {
		return "", err
	}
	d.activeSize += int64(n)

	return fmt.Sprintf("00:%d:%d:%d", d.activeID, offset, len(payload)), nil
}

// Rotate closes out the active container so the next Write starts a new
// one. Called by the caller after observing FullError.
func (d *driver) Rotate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeFile != nil {
		if err := d.activeFile.Close(); err != nil {
			return err
		}
	}
	d.activeID++
	d.activeSize = 0
	f, err := os.OpenFile(d.containerPath(d.activeID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	d.activeFile = f
	return nil
}

func (d *driver) Read(locator string) ([]byte, error) {
	id, offset, length, err := parseLocator(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(d.containerPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.NotFoundError{Locator: locator}
		}
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, backend.NotFoundError{Locator: locator}
	}
	return buf, nil
}

// Delete is a no-op: container backends reclaim space only by
// whole-container garbage collection, which is out of scope (§1).
func (d *driver) Delete(string) error {
	return nil
}

func parseLocator(locator string) (id int, offset int64, length int64, err error) {
	parts := strings.Split(locator, ":")
	if len(parts) != 4 || parts[0] != "00" {
		return 0, 0, 0, fmt.Errorf("container: malformed locator %q", locator)
	}
	id, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, err
	}
	offset, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	length, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	return id, offset, length, nil
}
