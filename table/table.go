// Package table implements the typed, concurrency-safe row store at the
// core of the kernel: one Table[T] per row shape, enforcing primary-key
// uniqueness, auto-increment allocation, required columns, and foreign-key
// referential integrity across tables registered in a shared catalog.
package table

import (
	"reflect"
	"sort"
	"sync"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/schema"
)

// Table stores rows of type T under one reader/writer lock, per §5's
// per-table lock discipline: the acting table locks first, referenced or
// referencing tables are only ever touched through their own snapshot
// helpers taken under their own lock.
type Table[T any] struct {
	mu sync.RWMutex

	name string
	desc *schema.Descriptor
	cat  *catalog.Catalog

	rows      []T
	pkIndex   map[any]int // pk value -> index into rows
	nextAuto  int64
	transient bool

	refCacheVersion uint64
	refCacheTags    []string

	uniqueIdx map[string]map[any]int // column name -> value -> row index
}

// New constructs a table named name storing rows of type T, registering it
// into cat under its row-type tag. If name is empty, the descriptor's tag
// is used as the table name.
func New[T any](cat *catalog.Catalog, name string) (*Table[T], error) {
	return newTable[T](cat, name, false)
}

// NewTransient is like New but marks the table transient (excluded from
// snapshots), for tables installed from external metadata descriptors.
func NewTransient[T any](cat *catalog.Catalog, name string) (*Table[T], error) {
	return newTable[T](cat, name, true)
}

func newTable[T any](cat *catalog.Catalog, name string, transient bool) (*Table[T], error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, dberr.NewSchemaInvalid("row type must be a concrete struct, not an interface")
	}
	desc, err := schema.For(t)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = desc.Tag()
	}
	tbl := &Table[T]{
		name:      name,
		desc:      desc,
		cat:       cat,
		pkIndex:   make(map[any]int),
		nextAuto:  1,
		transient: transient,
	}
	if cat != nil {
		if err := cat.Register(tbl); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// Tag implements catalog.TableHandle.
func (t *Table[T]) Tag() string { return t.desc.Tag() }

// Name implements catalog.TableHandle.
func (t *Table[T]) Name() string { return t.name }

// Descriptor implements catalog.TableHandle.
func (t *Table[T]) Descriptor() *schema.Descriptor { return t.desc }

// Transient implements catalog.TableHandle.
func (t *Table[T]) Transient() bool { return t.transient }

// CreateUniqueIndex declares column as unique, distinct from primary-key
// uniqueness: a duplicate value on column is rejected the same way a
// duplicate primary key is. Existing rows are indexed immediately; a
// pre-existing duplicate makes this call fail without installing the
// index.
func (t *Table[T]) CreateUniqueIndex(column string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.desc.Column(column); !ok {
		return dberr.NewInvalidArgument("no such column: " + column)
	}
	idx := make(map[any]int, len(t.rows))
	for i := range t.rows {
		v, _ := t.desc.FieldValue(&t.rows[i], column)
		k := normalizeKey(v)
		if _, exists := idx[k]; exists {
			return dberr.NewDuplicatePrimaryKey(t.name, v)
		}
		idx[k] = i
	}
	if t.uniqueIdx == nil {
		t.uniqueIdx = make(map[string]map[any]int)
	}
	t.uniqueIdx[column] = idx
	return nil
}

func (t *Table[T]) checkUniqueIndexes(v *T, skipIdx int) error {
	for col, idx := range t.uniqueIdx {
		val, _ := t.desc.FieldValue(v, col)
		k := normalizeKey(val)
		if existing, exists := idx[k]; exists && existing != skipIdx {
			return dberr.NewDuplicatePrimaryKey(t.name, val)
		}
	}
	return nil
}

func (t *Table[T]) reindexUnique(i int) {
	for col, idx := range t.uniqueIdx {
		v, _ := t.desc.FieldValue(&t.rows[i], col)
		idx[normalizeKey(v)] = i
	}
}

// Len returns the current row count.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// ContainsPrimaryKey implements catalog.TableHandle.
func (t *Table[T]) ContainsPrimaryKey(key any) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pkIndex[normalizeKey(key)]
	return ok
}

// Clear implements catalog.TableHandle: drops all rows and resets
// auto-increment to 1.
func (t *Table[T]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
	t.pkIndex = make(map[any]int)
	t.nextAuto = 1
	for col := range t.uniqueIdx {
		t.uniqueIdx[col] = make(map[any]int)
	}
}

// SnapshotRows implements catalog.TableHandle: returns a deep copy of
// every row as a schema.Row, in insertion order.
func (t *Table[T]) SnapshotRows() []schema.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.Row, len(t.rows))
	for i := range t.rows {
		out[i] = t.desc.ToRow(&t.rows[i]).Clone()
	}
	return out
}

// LoadRows implements catalog.TableHandle: replaces the table's contents
// with rows, restoring auto-increment high-water mark from any integer PK
// values observed.
func (t *Table[T]) LoadRows(rows []schema.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRows := make([]T, 0, len(rows))
	newIndex := make(map[any]int, len(rows))
	var maxAuto int64

	pkCol, hasPK := t.desc.PrimaryKey()
	for _, row := range rows {
		v, err := t.desc.FromRow(row)
		if err != nil {
			return err
		}
		val := v.(T)
		newRows = append(newRows, val)
		if hasPK {
			key, _ := t.desc.PrimaryKeyValue(&newRows[len(newRows)-1])
			newIndex[normalizeKey(key)] = len(newRows) - 1
			if pkCol.AutoIncrement {
				if n, ok := toInt64(key); ok && n > maxAuto {
					maxAuto = n
				}
			}
		}
	}

	t.rows = newRows
	t.pkIndex = newIndex
	for col := range t.uniqueIdx {
		t.uniqueIdx[col] = make(map[any]int)
	}
	for i := range t.rows {
		t.reindexUnique(i)
	}
	if maxAuto > 0 {
		t.nextAuto = maxAuto + 1
	} else {
		t.nextAuto = 1
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// normalizeKey collapses the integer flavors a PK value might arrive in
// (int vs int64) to a single comparable representation, so lookups from a
// live struct and lookups from a decoded JSON value agree.
func normalizeKey(key any) any {
	switch k := key.(type) {
	case int:
		return int64(k)
	case int32:
		return int64(k)
	default:
		return key
	}
}

// Insert clones value, assigns an auto-increment PK if applicable,
// validates required/FK/PK-uniqueness constraints, and appends the row.
func (t *Table[T]) Insert(value T) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(value)
}

func (t *Table[T]) insertLocked(value T) (T, error) {
	var zero T
	clone := t.desc.Clone(&value).(T)
	clonePtr := &clone

	pkCol, hasPK := t.desc.PrimaryKey()
	if hasPK {
		if pkCol.AutoIncrement {
			preset, _ := t.desc.FieldValue(clonePtr, pkCol.Name)
			presetN, _ := toInt64(preset)
			if presetN > 0 {
				if presetN+1 > t.nextAuto {
					t.nextAuto = presetN + 1
				}
			} else {
				if err := t.desc.SetPrimaryKeyValue(clonePtr, t.nextAuto); err != nil {
					return zero, err
				}
				t.nextAuto++
			}
		} else {
			v, _ := t.desc.FieldValue(clonePtr, pkCol.Name)
			if schema.IsZero(pkCol.Kind, v) {
				return zero, dberr.NewPrimaryKeyMissing(t.name)
			}
		}
	}

	if err := t.validateRequired(clonePtr); err != nil {
		return zero, err
	}
	if err := t.validateForeignKeys(clonePtr); err != nil {
		return zero, err
	}
	if err := t.checkUniqueIndexes(clonePtr, -1); err != nil {
		return zero, err
	}

	if hasPK {
		key, _ := t.desc.PrimaryKeyValue(clonePtr)
		nk := normalizeKey(key)
		if _, exists := t.pkIndex[nk]; exists {
			return zero, dberr.NewDuplicatePrimaryKey(t.name, key)
		}
		t.rows = append(t.rows, clone)
		t.pkIndex[nk] = len(t.rows) - 1
	} else {
		t.rows = append(t.rows, clone)
	}
	t.reindexUnique(len(t.rows) - 1)

	return t.desc.Clone(&t.rows[len(t.rows)-1]).(T), nil
}

// InsertRange inserts values in order, atomically: if any row fails
// validation, no row from this call is left inserted. The auto-increment
// counter is first advanced past every positive preset key in values, so
// rows without a key are numbered after all of this call's presets.
func (t *Table[T]) InsertRange(values []T) ([]T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	savedRows := make([]T, len(t.rows))
	copy(savedRows, t.rows)
	savedIndex := make(map[any]int, len(t.pkIndex))
	for k, v := range t.pkIndex {
		savedIndex[k] = v
	}
	savedAuto := t.nextAuto
	savedUnique := make(map[string]map[any]int, len(t.uniqueIdx))
	for col, idx := range t.uniqueIdx {
		cp := make(map[any]int, len(idx))
		for k, v := range idx {
			cp[k] = v
		}
		savedUnique[col] = cp
	}

	if pkCol, hasPK := t.desc.PrimaryKey(); hasPK && pkCol.AutoIncrement {
		for i := range values {
			preset, _ := t.desc.FieldValue(&values[i], pkCol.Name)
			if n, _ := toInt64(preset); n > 0 && n+1 > t.nextAuto {
				t.nextAuto = n + 1
			}
		}
	}

	results := make([]T, 0, len(values))
	for _, v := range values {
		inserted, err := t.insertLocked(v)
		if err != nil {
			t.rows = savedRows
			t.pkIndex = savedIndex
			t.nextAuto = savedAuto
			t.uniqueIdx = savedUnique
			return nil, err
		}
		results = append(results, inserted)
	}
	return results, nil
}

// FindByPrimaryKey returns an independent copy of the row with the given
// key, or false if absent.
func (t *Table[T]) FindByPrimaryKey(key any) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	idx, ok := t.pkIndex[normalizeKey(key)]
	if !ok {
		return zero, false
	}
	return t.desc.Clone(&t.rows[idx]).(T), true
}

// AsSequence returns an independent copy of every row, in insertion order.
func (t *Table[T]) AsSequence() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, len(t.rows))
	for i := range t.rows {
		out[i] = t.desc.Clone(&t.rows[i]).(T)
	}
	return out
}

// Where returns an independent copy of every row satisfying pred.
func (t *Table[T]) Where(pred func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []T
	for i := range t.rows {
		if pred(t.rows[i]) {
			out = append(out, t.desc.Clone(&t.rows[i]).(T))
		}
	}
	return out
}

// referencingTags returns, rebuilding from the catalog if its version has
// advanced since the last build, the tags of tables whose row type holds a
// foreign key pointing at this table.
func (t *Table[T]) referencingTags() []string {
	if t.cat == nil {
		return nil
	}
	v := t.cat.Version()
	if v == t.refCacheVersion {
		return t.refCacheTags
	}
	t.refCacheTags = t.cat.ReferencingTables(t.desc.Tag())
	t.refCacheVersion = v
	return t.refCacheTags
}

// isReferenced reports whether any table referencing this one currently
// holds a row whose FK column equals key.
func (t *Table[T]) isReferenced(key any) (string, bool) {
	for _, tag := range t.referencingTags() {
		h, ok := t.cat.Lookup(tag)
		if !ok {
			continue
		}
		col := fkColumnFor(h, t.desc.Tag())
		if col == "" {
			continue
		}
		for _, row := range h.SnapshotRows() {
			if v, ok := row[col]; ok && normalizeKey(v) == normalizeKey(key) {
				return h.Name(), true
			}
		}
	}
	return "", false
}

func fkColumnFor(h catalog.TableHandle, targetTag string) string {
	for _, col := range h.Descriptor().Columns() {
		if col.ForeignKey != nil && col.ForeignKey.TargetTag == targetTag {
			return col.Name
		}
	}
	return ""
}

// DeleteByPrimaryKey removes the row with the given key, refusing if any
// referencing table still holds a row pointing at it.
func (t *Table[T]) DeleteByPrimaryKey(key any) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.pkIndex[normalizeKey(key)]
	if !ok {
		return false, nil
	}
	if refBy, referenced := t.isReferenced(key); referenced {
		return false, dberr.NewReferentialIntegrity(t.name, key, refBy)
	}
	t.removeAt(idx)
	return true, nil
}

// Delete removes every row satisfying pred, refusing the entire call if
// any matching row is still referenced (no partial removal).
func (t *Table[T]) Delete(pred func(T) bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, hasPK := t.desc.PrimaryKey()
	var matchIdx []int
	for i := range t.rows {
		if pred(t.desc.Clone(&t.rows[i]).(T)) {
			matchIdx = append(matchIdx, i)
		}
	}
	if len(matchIdx) == 0 {
		return 0, nil
	}
	if hasPK {
		for _, i := range matchIdx {
			key, _ := t.desc.PrimaryKeyValue(&t.rows[i])
			if refBy, referenced := t.isReferenced(key); referenced {
				return 0, dberr.NewReferentialIntegrity(t.name, key, refBy)
			}
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(matchIdx)))
	for _, i := range matchIdx {
		t.removeAt(i)
	}
	return len(matchIdx), nil
}

// removeAt deletes rows[idx], maintaining pkIndex and any unique indexes
// for the shifted tail.
func (t *Table[T]) removeAt(idx int) {
	_, hasPK := t.desc.PrimaryKey()
	if hasPK {
		key, _ := t.desc.PrimaryKeyValue(&t.rows[idx])
		delete(t.pkIndex, normalizeKey(key))
	}
	for col, uidx := range t.uniqueIdx {
		v, _ := t.desc.FieldValue(&t.rows[idx], col)
		delete(uidx, normalizeKey(v))
	}
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	if hasPK {
		for i := idx; i < len(t.rows); i++ {
			key, _ := t.desc.PrimaryKeyValue(&t.rows[i])
			t.pkIndex[normalizeKey(key)] = i
		}
	}
	for i := idx; i < len(t.rows); i++ {
		t.reindexUnique(i)
	}
}

// Update applies mutator to a clone of every row satisfying pred,
// re-validating required/FK/PK-uniqueness, and refusing a PK change on a
// currently-referenced row. Returns the number of rows changed.
func (t *Table[T]) Update(pred func(T) bool, mutator func(*T)) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pkCol, hasPK := t.desc.PrimaryKey()
	changed := 0
	for i := range t.rows {
		orig := t.desc.Clone(&t.rows[i]).(T)
		if !pred(orig) {
			continue
		}
		clone := t.desc.Clone(&t.rows[i]).(T)
		mutator(&clone)
		clonePtr := &clone

		if err := t.validateRequired(clonePtr); err != nil {
			return changed, err
		}
		if err := t.validateForeignKeys(clonePtr); err != nil {
			return changed, err
		}
		if err := t.checkUniqueIndexes(clonePtr, i); err != nil {
			return changed, err
		}

		if hasPK {
			oldKey, _ := t.desc.PrimaryKeyValue(&t.rows[i])
			newKey, _ := t.desc.PrimaryKeyValue(clonePtr)
			if normalizeKey(oldKey) != normalizeKey(newKey) {
				if refBy, referenced := t.isReferenced(oldKey); referenced {
					return changed, dberr.NewReferentialIntegrity(t.name, oldKey, refBy)
				}
				if _, exists := t.pkIndex[normalizeKey(newKey)]; exists {
					return changed, dberr.NewDuplicatePrimaryKey(t.name, newKey)
				}
				delete(t.pkIndex, normalizeKey(oldKey))
				t.pkIndex[normalizeKey(newKey)] = i
			}
		}

		for col, uidx := range t.uniqueIdx {
			old, _ := t.desc.FieldValue(&t.rows[i], col)
			delete(uidx, normalizeKey(old))
		}
		t.rows[i] = clone
		t.reindexUnique(i)
		changed++
	}
	_ = pkCol
	return changed, nil
}

// InsertRow implements catalog.TableHandle: builds a T from values and
// runs it through Insert, for callers (the SQL interpreter) that only
// operate on the type-erased schema.Row shape.
func (t *Table[T]) InsertRow(values schema.Row) (schema.Row, error) {
	v, err := t.desc.FromRow(values)
	if err != nil {
		return nil, err
	}
	inserted, err := t.Insert(v.(T))
	if err != nil {
		return nil, err
	}
	return t.desc.ToRow(&inserted), nil
}

// UpdateWhere implements catalog.TableHandle in terms of Update, bridging
// the schema.Row predicate/mutator shape to T.
func (t *Table[T]) UpdateWhere(pred func(schema.Row) bool, mutate func(schema.Row) schema.Row) (int, error) {
	return t.Update(
		func(v T) bool { return pred(t.desc.ToRow(&v)) },
		func(v *T) {
			mutated := mutate(t.desc.ToRow(v))
			if nv, err := t.desc.FromRow(mutated); err == nil {
				*v = nv.(T)
			}
		},
	)
}

// DeleteWhere implements catalog.TableHandle in terms of Delete.
func (t *Table[T]) DeleteWhere(pred func(schema.Row) bool) (int, error) {
	return t.Delete(func(v T) bool { return pred(t.desc.ToRow(&v)) })
}

func (t *Table[T]) validateRequired(v *T) error {
	for _, col := range t.desc.Columns() {
		if !col.Required {
			continue
		}
		val, _ := t.desc.FieldValue(v, col.Name)
		if schema.IsZero(col.Kind, val) {
			return dberr.NewRequiredMissing(t.name, col.Name)
		}
	}
	return nil
}

func (t *Table[T]) validateForeignKeys(v *T) error {
	if t.cat == nil {
		return nil
	}
	for _, col := range t.desc.Columns() {
		if col.ForeignKey == nil {
			continue
		}
		val, _ := t.desc.FieldValue(v, col.Name)
		if schema.IsZero(col.Kind, val) {
			continue // absent FK value; required-ness is governed by the Required flag
		}
		ref, ok := t.cat.Lookup(col.ForeignKey.TargetTag)
		if !ok {
			return dberr.NewForeignKeyViolation(t.name, col.Name, col.ForeignKey.TargetTag, val)
		}
		if !ref.ContainsPrimaryKey(val) {
			return dberr.NewForeignKeyViolation(t.name, col.Name, col.ForeignKey.TargetTag, val)
		}
	}
	return nil
}
