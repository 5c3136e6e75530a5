// ABOUTME: Process-wide cache of handler tables keyed by concrete agent type
// ABOUTME: Concurrent first use builds once via singleflight and publishes only complete tables

package registry

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes tables per agent type. Entries are never evicted.
type Cache struct {
	tables sync.Map // reflect.Type -> *Table
	group  singleflight.Group
	builds atomic.Int64
	logger *slog.Logger
}

// NewCache creates a cache. Pass nil logger for default.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{logger: logger.With("component", "registry")}
}

var shared = NewCache(nil)

// Shared returns the process-wide cache.
func Shared() *Cache {
	return shared
}

// For returns the table of agent's concrete type, building it on first use.
// RegisterHandlers is called on agent, so it must not depend on instance state.
func (c *Cache) For(agent any) *Table {
	t := reflect.TypeOf(agent)
	if cached, ok := c.tables.Load(t); ok {
		return cached.(*Table)
	}

	v, _, _ := c.group.Do(typeKey(t), func() (any, error) {
		if cached, ok := c.tables.Load(t); ok {
			return cached, nil
		}
		table := c.build(t, agent)
		c.tables.Store(t, table)
		return table, nil
	})
	return v.(*Table)
}

// Builds returns how many tables have been built.
func (c *Cache) Builds() int64 {
	return c.builds.Load()
}

func (c *Cache) build(t reflect.Type, agent any) *Table {
	c.builds.Add(1)
	b := newBuilder(t, c.logger)

	if r, ok := agent.(Registrar); ok {
		func() {
			defer func() {
				if p := recover(); p != nil {
					c.logger.Warn("handler registration panicked, keeping handlers registered so far",
						"agent_type", t.String(),
						"panic", fmt.Sprint(p),
						"registered", len(b.handlers),
					)
				}
			}()
			r.RegisterHandlers(b)
		}()
	}
	if _, ok := agent.(DefaultHandler); ok {
		b.add(defaultHandler(), nil)
	}

	table := b.build()
	c.logger.Debug("built handler table",
		"agent_type", t.String(),
		"handlers", len(table.handlers),
		"rejected", len(table.rejected),
	)
	return table
}

func typeKey(t reflect.Type) string {
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	return base.PkgPath() + "|" + t.String()
}
