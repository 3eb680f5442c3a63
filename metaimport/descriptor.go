// Package metaimport bootstraps tables from an external metadata
// descriptor format instead of a compiled-in Go struct: a JSON file per
// table under Metadata/<db>/Tables/*.json, naming each column's logical
// type rather than a db struct tag.
//
// A compile-time schema.Descriptor always needs a concrete reflect.Type
// to reflect over, so this package builds one at runtime with
// reflect.StructOf — the row type table.Table[T] would otherwise require
// as a Go generic parameter simply doesn't exist until the JSON is read.
package metaimport

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/schema"
)

// FieldDescriptor is one column entry in a table descriptor file.
type FieldDescriptor struct {
	Name          string `json:"Name"`
	DataType      string `json:"DataType"`
	Length        int    `json:"Length"`
	AllowBlank    bool   `json:"AllowBlank"`
	AutoGenerated bool   `json:"AutoGenerated"`
}

// TableDescriptor is the decoded shape of one Metadata/<db>/Tables/*.json
// file.
type TableDescriptor struct {
	DatabaseName string            `json:"DatabaseName"`
	TableName    string            `json:"TableName"`
	Fields       []FieldDescriptor `json:"Fields"`
}

// LoadTableDescriptor reads and decodes one descriptor file.
func LoadTableDescriptor(path string) (*TableDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dberr.NewIOError("read", err)
	}
	var td TableDescriptor
	if err := json.Unmarshal(data, &td); err != nil {
		return nil, dberr.NewIOError("unmarshal", err)
	}
	if td.TableName == "" {
		return nil, dberr.NewSchemaInvalid("descriptor is missing TableName")
	}
	if len(td.Fields) == 0 {
		return nil, dberr.NewSchemaInvalid(fmt.Sprintf("descriptor %q declares no fields", td.TableName))
	}
	return &td, nil
}

func kindForDataType(dataType string) (schema.Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(dataType)) {
	case "INT":
		return schema.KindInt, nil
	case "BIGINT":
		return schema.KindInt64, nil
	case "DECIMAL", "NUMERIC", "FLOAT":
		return schema.KindDecimal, nil
	case "BIT", "BOOLEAN", "BOOL":
		return schema.KindBool, nil
	case "DATE", "DATETIME", "TIMESTAMP":
		return schema.KindTime, nil
	case "NVARCHAR", "VARCHAR", "CHAR", "TEXT":
		return schema.KindString, nil
	case "UNIQUEIDENTIFIER", "UUID", "GUID":
		return schema.KindUUID, nil
	default:
		return 0, fmt.Errorf("unrecognized data type %q", dataType)
	}
}

var kindGoType = map[schema.Kind]reflect.Type{
	schema.KindInt:     reflect.TypeOf(int(0)),
	schema.KindInt64:   reflect.TypeOf(int64(0)),
	schema.KindDecimal: reflect.TypeOf(float64(0)),
	schema.KindBool:    reflect.TypeOf(false),
	schema.KindTime:    reflect.TypeOf(time.Time{}),
	schema.KindString:  reflect.TypeOf(""),
	schema.KindUUID:    reflect.TypeOf(uuid.UUID{}),
	schema.KindBytes:   reflect.TypeOf([]byte(nil)),
}

// BuildDescriptor reflects a runtime struct type matching td's fields and
// returns the schema.Descriptor built over it, tagged with td.TableName.
// The first AutoGenerated integer field becomes the table's auto-
// increment primary key; if none is marked, the table has no primary key.
func BuildDescriptor(td *TableDescriptor) (*schema.Descriptor, error) {
	fields := make([]reflect.StructField, 0, len(td.Fields))
	seen := make(map[string]bool, len(td.Fields))
	pkAssigned := false

	for i, f := range td.Fields {
		kind, err := kindForDataType(f.DataType)
		if err != nil {
			return nil, dberr.NewSchemaInvalid(fmt.Sprintf("table %q field %q: %v", td.TableName, f.Name, err))
		}
		goType, ok := kindGoType[kind]
		if !ok {
			return nil, dberr.NewSchemaInvalid(fmt.Sprintf("table %q field %q: no Go type for kind %s", td.TableName, f.Name, kind))
		}

		tagParts := []string{f.Name}
		isPK := f.AutoGenerated && !pkAssigned && (kind == schema.KindInt || kind == schema.KindInt64)
		if isPK {
			tagParts = append(tagParts, "pk", "auto")
			pkAssigned = true
		}
		if !f.AllowBlank {
			tagParts = append(tagParts, "required")
		}

		goName := exportedFieldName(f.Name, i)
		for seen[goName] {
			goName = fmt.Sprintf("%s_%d", goName, i)
		}
		seen[goName] = true

		fields = append(fields, reflect.StructField{
			Name: goName,
			Type: goType,
			Tag:  reflect.StructTag(fmt.Sprintf(`db:"%s"`, strings.Join(tagParts, ","))),
		})
	}

	structType := reflect.StructOf(fields)
	return schema.ForTagged(structType, td.TableName)
}

// exportedFieldName turns an arbitrary column name into a valid exported
// Go identifier, falling back to a positional name if nothing survives.
func exportedFieldName(name string, pos int) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if b.Len() == 0 {
				continue // identifiers can't start with a digit
			}
			b.WriteRune(r)
		case i == 0:
			continue
		}
	}
	out := b.String()
	if out == "" {
		return fmt.Sprintf("Field%d", pos)
	}
	return strings.ToUpper(out[:1]) + out[1:]
}
