// ABOUTME: Stable shape names for event types
// ABOUTME: Names key subscriptions and persisted log records

package envelope

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	namesMu     sync.RWMutex
	namesByType = make(map[reflect.Type]string)
	typesByName = make(map[string]reflect.Type)
)

// RegisterName pins the shape name of the event type of prototype.
// It panics on conflicting registrations, which are programming errors.
func RegisterName(name string, prototype Event) {
	t := reflect.TypeOf(prototype)
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("envelope: %s must be a pointer to a struct", t))
	}

	namesMu.Lock()
	defer namesMu.Unlock()

	if existing, ok := namesByType[t]; ok && existing != name {
		panic(fmt.Sprintf("envelope: %s already registered as %q", t, existing))
	}
	if existing, ok := typesByName[name]; ok && existing != t {
		panic(fmt.Sprintf("envelope: name %q already registered for %s", name, existing))
	}
	namesByType[t] = name
	typesByName[name] = t
}

// TypeName returns the shape name of v's type.
func TypeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return TypeNameOf(reflect.TypeOf(v))
}

// TypeNameOf returns the shape name of t.
// Unregistered pointer types are named after their element type.
func TypeNameOf(t reflect.Type) string {
	namesMu.RLock()
	name, ok := namesByType[t]
	namesMu.RUnlock()
	if ok {
		return name
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// TypeFor resolves a registered name back to its pointer type.
func TypeFor(name string) (reflect.Type, bool) {
	namesMu.RLock()
	defer namesMu.RUnlock()

	t, ok := typesByName[name]
	return t, ok
}
