package location

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownSource = errors.New("unknown location source")

// Params carries source-specific settings, e.g. the file for a replay.
type Params map[string]string

// Factory builds a fresh Source for one tour session.
type Factory func(Params) (Source, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// Register makes a source kind available process-wide. It is meant to run
// once during startup, before any session asks for a source.
func Register(name string, f Factory) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.factories[name]; ok {
		return fmt.Errorf("location source %q already registered", name)
	}
	registry.factories[name] = f
	return nil
}

func MustRegister(name string, f Factory) {
	if err := Register(name, f); err != nil {
		panic(err)
	}
}

// New builds a source of the named kind.
func New(name string, p Params) (Source, error) {
	registry.mu.RLock()
	f, ok := registry.factories[name]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return f(p)
}

// Registered reports whether name has a factory.
func Registered(name string) bool {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	_, ok := registry.factories[name]
	return ok
}
