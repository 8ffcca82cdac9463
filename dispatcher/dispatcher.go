// Package dispatcher is the method registry: it maps method names to
// callables and their declarative parameter schemas.
package dispatcher

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"jarpc/rpcerr"
)

// ErrDuplicateMethod is returned when a name is registered twice.
var ErrDuplicateMethod = errors.New("dispatcher: method already registered")

// Dispatcher is safe for concurrent use. Registration normally happens once
// at startup, before any lookup.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]*Method
}

func New() *Dispatcher {
	return &Dispatcher{methods: make(map[string]*Method)}
}

// Register adds fn under name. fn may take a context.Context first; its
// remaining arguments correspond one to one to params. It may return
// nothing, a result, an error, or a result and an error.
//
//	d.Register("sum", func(a, b int) int { return a + b }, dispatcher.Arg("a"), dispatcher.Arg("b"))
func (d *Dispatcher) Register(name string, fn any, params ...Param) error {
	if name == "" {
		return errors.New("dispatcher: empty method name")
	}
	m, err := newMethod(name, reflect.ValueOf(fn), params)
	if err != nil {
		return err
	}
	return d.add(m)
}

// MustRegister is Register that panics on error.
func (d *Dispatcher) MustRegister(name string, fn any, params ...Param) {
	if err := d.Register(name, fn, params...); err != nil {
		panic(err)
	}
}

func (d *Dispatcher) add(m *Method) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.methods[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, m.Name)
	}
	d.methods[m.Name] = m
	return nil
}

// Lookup returns the method registered under name. An unknown name yields
// MethodNotFound listing every declared method in ascending order.
func (d *Dispatcher) Lookup(name string) (*Method, error) {
	d.mu.RLock()
	m, ok := d.methods[name]
	d.mu.RUnlock()
	if !ok {
		return nil, rpcerr.MethodNotFound(name, d.Methods())
	}
	return m, nil
}

// Methods returns the declared method names sorted ascending.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	d.mu.RUnlock()
	sort.Strings(names)
	return names
}
