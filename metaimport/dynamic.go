package metaimport

import (
	"reflect"
	"sort"
	"sync"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/schema"
)

// DynamicTable is table.Table[T]'s algorithm restated for a row type that
// only exists at runtime: the same auto-increment, required, foreign-key,
// and primary-key-uniqueness rules, operating through reflect.Value
// instead of a generic type parameter. It satisfies catalog.TableHandle
// like any compiled-in Table[T] does.
type DynamicTable struct {
	mu sync.RWMutex

	name string
	desc *schema.Descriptor
	cat  *catalog.Catalog

	rows     []any // each a value of desc.GoType()
	pkIndex  map[any]int
	nextAuto int64
}

// NewDynamicTable constructs a transient table for desc's row type,
// registering it into cat. Dynamic tables are always transient: they are
// reconstructed from their descriptor file on the next bootstrap rather
// than round-tripped through a snapshot.
func NewDynamicTable(cat *catalog.Catalog, name string, desc *schema.Descriptor) (*DynamicTable, error) {
	if name == "" {
		name = desc.Tag()
	}
	t := &DynamicTable{
		name:     name,
		desc:     desc,
		cat:      cat,
		pkIndex:  make(map[any]int),
		nextAuto: 1,
	}
	if cat != nil {
		if err := cat.Register(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *DynamicTable) Tag() string                    { return t.desc.Tag() }
func (t *DynamicTable) Name() string                   { return t.name }
func (t *DynamicTable) Descriptor() *schema.Descriptor { return t.desc }
func (t *DynamicTable) Transient() bool                { return true }

func (t *DynamicTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *DynamicTable) ContainsPrimaryKey(key any) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pkIndex[normalizeKey(key)]
	return ok
}

func (t *DynamicTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
	t.pkIndex = make(map[any]int)
	t.nextAuto = 1
}

func (t *DynamicTable) SnapshotRows() []schema.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = t.desc.ToRow(r).Clone()
	}
	return out
}

// LoadRows is implemented for interface completeness; dynamic tables are
// never part of a snapshot dump, so this simply repopulates in-memory
// state if a caller chooses to call it directly.
func (t *DynamicTable) LoadRows(rows []schema.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRows := make([]any, 0, len(rows))
	newIndex := make(map[any]int, len(rows))
	var maxAuto int64

	pkCol, hasPK := t.desc.PrimaryKey()
	for _, row := range rows {
		v, err := t.desc.FromRow(row)
		if err != nil {
			return err
		}
		newRows = append(newRows, v)
		if hasPK {
			key, _ := t.desc.PrimaryKeyValue(v)
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

// newPtr returns an addressable pointer to a fresh copy of v, of the
// descriptor's Go type, for the field-mutating Descriptor methods that
// require one (SetPrimaryKeyValue).
func newPtr(desc *schema.Descriptor, v any) reflect.Value {
	p := reflect.New(desc.GoType())
	p.Elem().Set(reflect.ValueOf(v))
	return p
}

func (t *DynamicTable) insertLocked(value any) (any, error) {
	clone := t.desc.Clone(value)
	ptr := newPtr(t.desc, clone)

	pkCol, hasPK := t.desc.PrimaryKey()
	if hasPK {
		if pkCol.AutoIncrement {
			preset, _ := t.desc.FieldValue(ptr.Interface(), pkCol.Name)
			presetN, _ := toInt64(preset)
			if presetN > 0 {
				if presetN+1 > t.nextAuto {
					t.nextAuto = presetN + 1
				}
			} else {
				if err := t.desc.SetPrimaryKeyValue(ptr.Interface(), t.nextAuto); err != nil {
					return nil, err
				}
				t.nextAuto++
			}
		} else {
			v, _ := t.desc.FieldValue(ptr.Interface(), pkCol.Name)
			if schema.IsZero(pkCol.Kind, v) {
				return nil, dberr.NewPrimaryKeyMissing(t.name)
			}
		}
	}
	clone = ptr.Elem().Interface()

	if err := t.validateRequired(clone); err != nil {
		return nil, err
	}
	if err := t.validateForeignKeys(clone); err != nil {
		return nil, err
	}

	if hasPK {
		key, _ := t.desc.PrimaryKeyValue(clone)
		nk := normalizeKey(key)
		if _, exists := t.pkIndex[nk]; exists {
			return nil, dberr.NewDuplicatePrimaryKey(t.name, key)
		}
		t.rows = append(t.rows, clone)
		t.pkIndex[nk] = len(t.rows) - 1
	} else {
		t.rows = append(t.rows, clone)
	}

	return t.desc.Clone(t.rows[len(t.rows)-1]), nil
}

// InsertRow implements catalog.TableHandle.
func (t *DynamicTable) InsertRow(values schema.Row) (schema.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.desc.FromRow(values)
	if err != nil {
		return nil, err
	}
	inserted, err := t.insertLocked(v)
	if err != nil {
		return nil, err
	}
	return t.desc.ToRow(inserted), nil
}

func (t *DynamicTable) validateRequired(v any) error {
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

func (t *DynamicTable) validateForeignKeys(v any) error {
	if t.cat == nil {
		return nil
	}
	for _, col := range t.desc.Columns() {
		if col.ForeignKey == nil {
			continue
		}
		val, _ := t.desc.FieldValue(v, col.Name)
		if schema.IsZero(col.Kind, val) {
			continue
		}
		ref, ok := t.cat.Lookup(col.ForeignKey.TargetTag)
		if !ok || !ref.ContainsPrimaryKey(val) {
			return dberr.NewForeignKeyViolation(t.name, col.Name, col.ForeignKey.TargetTag, val)
		}
	}
	return nil
}

func (t *DynamicTable) isReferenced(key any) (string, bool) {
	if t.cat == nil {
		return "", false
	}
	for _, tag := range t.cat.ReferencingTables(t.desc.Tag()) {
		h, ok := t.cat.Lookup(tag)
		if !ok {
			continue
		}
		col := ""
		for _, c := range h.Descriptor().Columns() {
			if c.ForeignKey != nil && c.ForeignKey.TargetTag == t.desc.Tag() {
				col = c.Name
				break
			}
		}
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

// UpdateWhere implements catalog.TableHandle.
func (t *DynamicTable) UpdateWhere(pred func(schema.Row) bool, mutate func(schema.Row) schema.Row) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, hasPK := t.desc.PrimaryKey()
	changed := 0
	for i := range t.rows {
		origRow := t.desc.ToRow(t.rows[i])
		if !pred(origRow) {
			continue
		}
		mutatedRow := mutate(origRow.Clone())
		mutatedVal, err := t.desc.FromRow(mutatedRow)
		if err != nil {
			return changed, err
		}

		if err := t.validateRequired(mutatedVal); err != nil {
			return changed, err
		}
		if err := t.validateForeignKeys(mutatedVal); err != nil {
			return changed, err
		}

		if hasPK {
			oldKey, _ := t.desc.PrimaryKeyValue(t.rows[i])
			newKey, _ := t.desc.PrimaryKeyValue(mutatedVal)
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

		t.rows[i] = mutatedVal
		changed++
	}
	return changed, nil
}

// DeleteWhere implements catalog.TableHandle: refuses the whole call if
// any matching row is still referenced, with no partial removal.
func (t *DynamicTable) DeleteWhere(pred func(schema.Row) bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, hasPK := t.desc.PrimaryKey()
	var matchIdx []int
	for i := range t.rows {
		if pred(t.desc.ToRow(t.rows[i])) {
			matchIdx = append(matchIdx, i)
		}
	}
	if len(matchIdx) == 0 {
		return 0, nil
	}
	if hasPK {
		for _, i := range matchIdx {
			key, _ := t.desc.PrimaryKeyValue(t.rows[i])
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

func (t *DynamicTable) removeAt(idx int) {
	_, hasPK := t.desc.PrimaryKey()
	if hasPK {
		key, _ := t.desc.PrimaryKeyValue(t.rows[idx])
		delete(t.pkIndex, normalizeKey(key))
	}
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	if hasPK {
		for i := idx; i < len(t.rows); i++ {
			key, _ := t.desc.PrimaryKeyValue(t.rows[i])
			t.pkIndex[normalizeKey(key)] = i
		}
	}
}
