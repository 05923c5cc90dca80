// Package factory provides central registration of backend constructors
// by their two-character code, modeled on
// registry/storage/driver/factory.Register / Create.
package factory

import (
	"fmt"
	"sync"

	"github.com/hangarstor/hangar/backend"
)

// Constructor builds a Backend rooted at dir, configured by options taken
// from a schema's BackendOptions (§3 "Schema").
type Constructor func(dir string, options map[string]string) (backend.Backend, error)

var (
	mu           sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register associates a backend code with its constructor. Intended to be
// called from concrete backend packages' init functions.
func Register(code string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if len(code) != 2 {
		panic(fmt.Sprintf("factory: backend code must be two characters, got %q", code))
	}
	if _, exists := constructors[code]; exists {
		panic(fmt.Sprintf("factory: backend code %q already registered", code))
	}
	constructors[code] = ctor
}

// Create builds the backend registered under code.
func Create(code, dir string, options map[string]string) (backend.Backend, error) {
	mu.RLock()
	ctor, ok := constructors[code]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("factory: no backend registered for code %q", code)
	}
	return ctor(dir, options)
}

// Codes returns every registered backend code, for documentation and
// config validation.
func Codes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(constructors))
	for c := range constructors {
		out = append(out, c)
	}
	return out
}
