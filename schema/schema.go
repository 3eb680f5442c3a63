// Package schema builds row type descriptors by reflecting over a Go
// struct once per type, the way the kernel's design calls for a
// compile-time schema instead of per-access runtime introspection.
//
// A Descriptor is cached per reflect.Type after its first use, so the
// reflection walk that classifies columns only happens once regardless of
// how many Table[T] values share the same row type.
package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kasuganosora/relkernel/dberr"
)

// Kind is the logical column type (spec §3): integer, long, decimal, bool,
// date/time, string, UUID, or bytes.
type Kind int

const (
	KindInt Kind = iota
	KindInt64
	KindDecimal
	KindBool
	KindTime
	KindString
	KindUUID
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindInt64:
		return "long"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "bool"
	case KindTime:
		return "datetime"
	case KindString:
		return "string"
	case KindUUID:
		return "uuid"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// ForeignKey names the row type tag a column's value must resolve against.
type ForeignKey struct {
	TargetTag string
}

// Column describes one field of a row type.
type Column struct {
	Name          string
	GoName        string
	Kind          Kind
	Primary       bool
	AutoIncrement bool
	Required      bool
	ForeignKey    *ForeignKey

	fieldIndex int
}

// Row is the type-erased representation of one row: column name to value.
// It is the common interface the SQL engine and the catalog use to talk to
// tables without depending on the table's Go type parameter.
type Row map[string]any

// Clone returns an independent copy of r, deep-copying any []byte values.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		if b, ok := v.([]byte); ok && b != nil {
			nb := make([]byte, len(b))
			copy(nb, b)
			out[k] = nb
			continue
		}
		out[k] = v
	}
	return out
}

// Descriptor is the reflected, immutable schema for one row struct type.
type Descriptor struct {
	goType  reflect.Type
	tag     string
	columns []Column
	byName  map[string]int
	pk      int // index into columns, or -1
}

var registry sync.Map // reflect.Type -> *Descriptor

// For returns the cached descriptor for t, reflecting over it the first
// time it is seen. t must be a non-pointer struct type.
func For(t reflect.Type) (*Descriptor, error) {
	if cached, ok := registry.Load(t); ok {
		return cached.(*Descriptor), nil
	}
	d, err := build(t, t.Name())
	if err != nil {
		return nil, err
	}
	actual, _ := registry.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// ForTagged is like For but assigns an explicit row-type tag instead of the
// Go type name, for callers that need a stable tag independent of the
// struct's identifier (e.g. across a package rename).
func ForTagged(t reflect.Type, tag string) (*Descriptor, error) {
	key := t
	if cached, ok := registry.Load(t); ok {
		if cached.(*Descriptor).tag == tag {
			return cached.(*Descriptor), nil
		}
	}
	d, err := build(t, tag)
	if err != nil {
		return nil, err
	}
	if actual, loaded := registry.LoadOrStore(key, d); loaded && actual.(*Descriptor).tag == tag {
		return actual.(*Descriptor), nil
	}
	return d, nil
}

func build(t reflect.Type, tag string) (*Descriptor, error) {
	if t.Kind() != reflect.Struct {
		return nil, dberr.NewSchemaInvalid(fmt.Sprintf("row type %s must be a struct", t))
	}

	d := &Descriptor{
		goType: t,
		tag:    tag,
		byName: make(map[string]int),
		pk:     -1,
	}

	autoCount := 0
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported field, not part of the schema
		}
		tagVal, ok := f.Tag.Lookup("db")
		if !ok {
			continue // fields without a db tag are not columns
		}
		parts := strings.Split(tagVal, ",")
		name := strings.TrimSpace(parts[0])
		if name == "" || name == "-" {
			continue
		}
		col := Column{
			Name:       name,
			GoName:     f.Name,
			fieldIndex: i,
		}
		kind, err := kindOf(f.Type)
		if err != nil {
			return nil, dberr.NewSchemaInvalid(fmt.Sprintf("column %s: %v", name, err))
		}
		col.Kind = kind

		for _, opt := range parts[1:] {
			opt = strings.TrimSpace(opt)
			switch {
			case opt == "pk":
				col.Primary = true
			case opt == "auto":
				col.AutoIncrement = true
			case opt == "required":
				col.Required = true
			case strings.HasPrefix(opt, "fk="):
				target := strings.TrimPrefix(opt, "fk=")
				if target == "" {
					return nil, dberr.NewSchemaInvalid(fmt.Sprintf("column %s: fk tag missing target", name))
				}
				col.ForeignKey = &ForeignKey{TargetTag: target}
			}
		}

		if col.AutoIncrement {
			autoCount++
			if autoCount > 1 {
				return nil, dberr.NewSchemaInvalid("at most one auto-increment column is allowed")
			}
			if !col.Primary {
				return nil, dberr.NewSchemaInvalid(fmt.Sprintf("auto-increment column %s must be the primary key", name))
			}
			if col.Kind != KindInt && col.Kind != KindInt64 {
				return nil, dberr.NewSchemaInvalid(fmt.Sprintf("auto-increment column %s must be an integer type", name))
			}
		}
		if col.Primary {
			if d.pk != -1 {
				return nil, dberr.NewSchemaInvalid("at most one primary key column is allowed")
			}
			d.pk = len(d.columns)
		}

		d.byName[name] = len(d.columns)
		d.columns = append(d.columns, col)
	}

	return d, nil
}

func kindOf(t reflect.Type) (Kind, error) {
	switch {
	case t == reflect.TypeOf(time.Time{}):
		return KindTime, nil
	case t == reflect.TypeOf(uuid.UUID{}):
		return KindUUID, nil
	case t == reflect.TypeOf([]byte(nil)):
		return KindBytes, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return KindInt, nil
	case reflect.Int64, reflect.Uint64:
		return KindInt64, nil
	case reflect.Float32, reflect.Float64:
		return KindDecimal, nil
	case reflect.Bool:
		return KindBool, nil
	case reflect.String:
		return KindString, nil
	default:
		return 0, fmt.Errorf("unsupported column type %s", t)
	}
}

// Tag returns the opaque row-type tag written into snapshots.
func (d *Descriptor) Tag() string { return d.tag }

// GoType returns the underlying reflected struct type.
func (d *Descriptor) GoType() reflect.Type { return d.goType }

// Columns returns the ordered column list.
func (d *Descriptor) Columns() []Column { return d.columns }

// Column looks up a column by name, case-sensitively (column names are
// matched the way struct tags declare them).
func (d *Descriptor) Column(name string) (Column, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Column{}, false
	}
	return d.columns[i], true
}

// PrimaryKey returns the descriptor's primary key column, if any.
func (d *Descriptor) PrimaryKey() (Column, bool) {
	if d.pk < 0 {
		return Column{}, false
	}
	return d.columns[d.pk], true
}

// ToRow converts a struct value of the descriptor's Go type into a Row.
func (d *Descriptor) ToRow(v any) Row {
	rv := indirect(reflect.ValueOf(v))
	row := make(Row, len(d.columns))
	for _, col := range d.columns {
		row[col.Name] = fieldValue(rv.Field(col.fieldIndex), col.Kind)
	}
	return row
}

// FromRow builds a new struct value of the descriptor's Go type from a Row,
// converting each present value to the column's declared Go type. Values
// absent from the row are left at the zero value.
func (d *Descriptor) FromRow(row Row) (any, error) {
	rv := reflect.New(d.goType).Elem()
	for _, col := range d.columns {
		val, ok := row[col.Name]
		if !ok || val == nil {
			continue
		}
		if err := setField(rv.Field(col.fieldIndex), col, val); err != nil {
			return nil, dberr.NewInvalidArgument(fmt.Sprintf("column %s: %v", col.Name, err))
		}
	}
	return rv.Interface(), nil
}

// Clone returns a deep copy of a struct value of the descriptor's Go type,
// copying the backing array of any []byte field so the stored row and the
// caller's value can never alias.
func (d *Descriptor) Clone(v any) any {
	rv := indirect(reflect.ValueOf(v))
	out := reflect.New(d.goType).Elem()
	out.Set(rv)
	for _, col := range d.columns {
		if col.Kind != KindBytes {
			continue
		}
		f := out.Field(col.fieldIndex)
		if f.IsNil() {
			continue
		}
		nb := make([]byte, f.Len())
		reflect.Copy(reflect.ValueOf(nb), f)
		f.SetBytes(nb)
	}
	return out.Interface()
}

// PrimaryKeyValue reads the primary key value out of v, or false if the
// descriptor has no primary key.
func (d *Descriptor) PrimaryKeyValue(v any) (any, bool) {
	if d.pk < 0 {
		return nil, false
	}
	rv := indirect(reflect.ValueOf(v))
	col := d.columns[d.pk]
	return fieldValue(rv.Field(col.fieldIndex), col.Kind), true
}

// SetPrimaryKeyValue sets v's primary key field to key in place. v must be
// addressable (a pointer to the descriptor's Go type).
func (d *Descriptor) SetPrimaryKeyValue(v any, key any) error {
	if d.pk < 0 {
		return dberr.NewSchemaInvalid("row type has no primary key")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return dberr.NewInvalidArgument("SetPrimaryKeyValue requires a pointer")
	}
	col := d.columns[d.pk]
	return setField(rv.Elem().Field(col.fieldIndex), col, key)
}

// FieldValue reads column name's Go value out of v.
func (d *Descriptor) FieldValue(v any, name string) (any, bool) {
	col, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	rv := indirect(reflect.ValueOf(v))
	c := d.columns[col]
	return fieldValue(rv.Field(c.fieldIndex), c.Kind), true
}

func indirect(rv reflect.Value) reflect.Value {
	if rv.Kind() == reflect.Ptr {
		return rv.Elem()
	}
	return rv
}

func fieldValue(fv reflect.Value, kind Kind) any {
	switch kind {
	case KindInt:
		return int(fv.Int())
	case KindInt64:
		if fv.Kind() == reflect.Uint64 {
			return int64(fv.Uint())
		}
		return fv.Int()
	case KindDecimal:
		return fv.Float()
	case KindBool:
		return fv.Bool()
	case KindTime:
		return fv.Interface().(time.Time)
	case KindUUID:
		return fv.Interface().(uuid.UUID)
	case KindString:
		return fv.String()
	case KindBytes:
		b, _ := fv.Interface().([]byte)
		return b
	default:
		return fv.Interface()
	}
}

func setField(fv reflect.Value, col Column, val any) error {
	switch col.Kind {
	case KindInt, KindInt64:
		n, err := toInt64(val)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case KindDecimal:
		f, err := toFloat64(val)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case KindBool:
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", val)
		}
		fv.SetBool(b)
	case KindTime:
		switch t := val.(type) {
		case time.Time:
			fv.Set(reflect.ValueOf(t))
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return err
			}
			fv.Set(reflect.ValueOf(parsed.UTC()))
		default:
			return fmt.Errorf("expected time.Time or RFC3339 string, got %T", val)
		}
	case KindUUID:
		switch u := val.(type) {
		case uuid.UUID:
			fv.Set(reflect.ValueOf(u))
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return err
			}
			fv.Set(reflect.ValueOf(parsed))
		default:
			return fmt.Errorf("expected uuid.UUID or string, got %T", val)
		}
	case KindString:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
		fv.SetString(s)
	case KindBytes:
		b, ok := val.([]byte)
		if !ok {
			return fmt.Errorf("expected []byte, got %T", val)
		}
		fv.SetBytes(b)
	}
	return nil
}

func toInt64(val any) (int64, error) {
	switch n := val.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", val)
	}
}

func toFloat64(val any) (float64, error) {
	switch n := val.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("expected decimal, got %T", val)
	}
}

// IsZero reports whether val is the zero value for its kind — used to
// decide whether a required or auto-increment column was "left absent".
func IsZero(kind Kind, val any) bool {
	switch kind {
	case KindString:
		s, _ := val.(string)
		return s == ""
	case KindInt:
		n, _ := val.(int)
		return n == 0
	case KindInt64:
		n, _ := val.(int64)
		return n == 0
	case KindDecimal:
		f, _ := val.(float64)
		return f == 0
	case KindBool:
		return false
	case KindTime:
		t, _ := val.(time.Time)
		return t.IsZero()
	case KindUUID:
		u, _ := val.(uuid.UUID)
		return u == uuid.Nil
	case KindBytes:
		b, _ := val.([]byte)
		return len(b) == 0
	default:
		return val == nil
	}
}
