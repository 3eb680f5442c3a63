// Package database implements the named-database registry: a Database
// owns an ordered set of tables through a shared catalog, and a Manager
// owns a set of named databases plus their optional persistence
// configuration.
package database

import (
	"strings"
	"sync"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/table"
)

// Database is a named, ordered owner of tables. Table lookup is by name
// using ordinal equality after trimming surrounding whitespace.
type Database struct {
	mu      sync.RWMutex
	name    string
	cat     *catalog.Catalog
	byName  map[string]catalog.TableHandle
	order   []string
}

// NewDatabase returns an empty database named name.
func NewDatabase(name string) *Database {
	return &Database{
		name:   trim(name),
		cat:    catalog.New(),
		byName: make(map[string]catalog.TableHandle),
	}
}

func trim(s string) string { return strings.TrimSpace(s) }

// Name returns the database's trimmed name.
func (d *Database) Name() string { return d.name }

// Catalog returns the database's table catalog, shared by every table
// created within it so foreign keys can resolve across tables.
func (d *Database) Catalog() *catalog.Catalog { return d.cat }

// registerName associates a table name with its handle, failing if the
// name is already taken.
func (d *Database) registerName(name string, h catalog.TableHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	name = trim(name)
	if _, exists := d.byName[name]; exists {
		return dberr.NewTableAlreadyExists(name)
	}
	d.byName[name] = h
	d.order = append(d.order, name)
	return nil
}

// InstallTableHandle registers a pre-built catalog.TableHandle under its
// own Name(), for callers (metaimport) that construct a table whose row
// type isn't a compile-time Go generic parameter. The handle must already
// be registered in db.Catalog() — CreateTable does this as part of
// table.New; callers building a handle directly are responsible for it.
func (d *Database) InstallTableHandle(h catalog.TableHandle) error {
	return d.registerName(h.Name(), h)
}

// GetTableHandle returns the type-erased handle for a table by name.
func (d *Database) GetTableHandle(name string) (catalog.TableHandle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.byName[trim(name)]
	return h, ok
}

// TableNames returns every table name in creation order.
func (d *Database) TableNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// DropTable removes the named table, including from the catalog.
func (d *Database) DropTable(name string) bool {
	d.mu.Lock()
	name = trim(name)
	h, ok := d.byName[name]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.byName, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	d.cat.Deregister(h.Tag())
	return true
}

// Clear empties every table in the database, retaining their definitions.
func (d *Database) Clear() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.byName {
		h.Clear()
	}
}

// CreateTable creates a new Table[T] named name (or the row type's tag if
// name is empty) and registers it into db's catalog and name index.
func CreateTable[T any](db *Database, name string) (*table.Table[T], error) {
	tbl, err := table.New[T](db.Catalog(), name)
	if err != nil {
		return nil, err
	}
	if err := db.registerName(tbl.Name(), tbl); err != nil {
		db.Catalog().Deregister(tbl.Tag())
		return nil, err
	}
	return tbl, nil
}

// GetTable returns the table named name, failing with TableNotFound if
// absent or if its row type does not match T.
func GetTable[T any](db *Database, name string) (*table.Table[T], error) {
	h, ok := db.GetTableHandle(name)
	if !ok {
		return nil, dberr.NewTableNotFound(name)
	}
	tbl, ok := h.(*table.Table[T])
	if !ok {
		return nil, dberr.NewTableNotFound(name)
	}
	return tbl, nil
}
