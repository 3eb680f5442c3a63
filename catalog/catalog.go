// Package catalog tracks the set of tables registered to a database
// through a type-erased handle, so packages that cannot see a table's Go
// row type (the SQL engine, the snapshot codec, the scheduler) can still
// enumerate, look up, and invalidate caches against it.
package catalog

import (
	"sync"
	"sync/atomic"

	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/schema"
)

// TableHandle is the type-erased surface every Table[T] exposes to the
// catalog, the SQL engine, and the snapshot codec.
type TableHandle interface {
	// Tag is the row-type tag used as the table's catalog key and its
	// snapshot TypeName.
	Tag() string
	// Name is the human-facing table name (defaults to Tag).
	Name() string
	// Descriptor is the reflected schema for the table's row type.
	Descriptor() *schema.Descriptor
	// ContainsPrimaryKey reports whether a row with the given primary key
	// value currently exists, used for foreign-key resolution.
	ContainsPrimaryKey(key any) bool
	// SnapshotRows returns a deep copy of every row, in insertion order.
	SnapshotRows() []schema.Row
	// LoadRows replaces the table's contents with the given rows,
	// restoring them as-is (no constraint checks, no auto-increment
	// bump beyond what's needed to keep future inserts unique).
	LoadRows(rows []schema.Row) error
	// Clear removes every row from the table.
	Clear()
	// Transient reports whether the table should be excluded from
	// snapshots (e.g. tables installed from external metadata).
	Transient() bool

	// InsertRow constructs a row of the table's Go type from values,
	// runs it through the same insert algorithm Table[T].Insert uses
	// (auto-increment, required, FK, PK-uniqueness), and returns the
	// stored row. Used by the SQL interpreter, which only ever sees
	// rows as schema.Row.
	InsertRow(values schema.Row) (schema.Row, error)
	// UpdateWhere applies mutate to every row whose current value
	// satisfies pred, with the same re-validation Table[T].Update
	// performs, returning the number of rows changed.
	UpdateWhere(pred func(schema.Row) bool, mutate func(schema.Row) schema.Row) (int, error)
	// DeleteWhere removes every row satisfying pred, subject to the
	// same referential-integrity check Table[T].Delete performs.
	DeleteWhere(pred func(schema.Row) bool) (int, error)
}

// Catalog is a database's registry of tables, keyed by row-type tag.
type Catalog struct {
	mu      sync.RWMutex
	tables  map[string]TableHandle
	order   []string
	version atomic.Uint64
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{tables: make(map[string]TableHandle)}
}

// Register adds t to the catalog under its tag. It fails if a table with
// the same tag is already registered.
func (c *Catalog) Register(t TableHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag := t.Tag()
	if _, exists := c.tables[tag]; exists {
		return dberr.NewTableAlreadyExists(tag)
	}
	c.tables[tag] = t
	c.order = append(c.order, tag)
	c.version.Add(1)
	return nil
}

// Deregister removes the table with the given tag, if present.
func (c *Catalog) Deregister(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[tag]; !exists {
		return
	}
	delete(c.tables, tag)
	for i, t := range c.order {
		if t == tag {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.version.Add(1)
}

// Lookup returns the table registered under tag.
func (c *Catalog) Lookup(tag string) (TableHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[tag]
	return t, ok
}

// MustLookup is Lookup but returns a TableNotFound error instead of a bool.
func (c *Catalog) MustLookup(tag string) (TableHandle, error) {
	t, ok := c.Lookup(tag)
	if !ok {
		return nil, dberr.NewTableNotFound(tag)
	}
	return t, nil
}

// Tables returns every registered table, in registration order.
func (c *Catalog) Tables() []TableHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TableHandle, 0, len(c.order))
	for _, tag := range c.order {
		out = append(out, c.tables[tag])
	}
	return out
}

// TableNames returns every registered table's tag, in registration order.
func (c *Catalog) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Version returns the catalog's current version, incremented on every
// Register/Deregister. Callers cache derived state (e.g. which tables
// reference a given tag) keyed by this value.
func (c *Catalog) Version() uint64 {
	return c.version.Load()
}

// ReferencingTables returns the tags of every registered table that
// declares a foreign key targeting tag, excluding tag itself.
func (c *Catalog) ReferencingTables(tag string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var refs []string
	for _, t := range c.order {
		if t == tag {
			continue
		}
		h := c.tables[t]
		for _, col := range h.Descriptor().Columns() {
			if col.ForeignKey != nil && col.ForeignKey.TargetTag == tag {
				refs = append(refs, t)
				break
			}
		}
	}
	return refs
}
