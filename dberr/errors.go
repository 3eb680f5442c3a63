// Package dberr defines the tagged error kinds produced by the kernel.
//
// Each kind is its own type carrying the identifiers relevant to the
// failure, so callers can recover structured detail with errors.As instead
// of parsing a message string.
package dberr

import "fmt"

// InvalidArgument signals a malformed or empty caller-supplied value.
type InvalidArgument struct {
	Message string
}

func (e *InvalidArgument) Error() string { return "invalid argument: " + e.Message }

func NewInvalidArgument(message string) *InvalidArgument {
	return &InvalidArgument{Message: message}
}

// DatabaseNotFound is returned when a named database is not registered.
type DatabaseNotFound struct {
	Name string
}

func (e *DatabaseNotFound) Error() string { return fmt.Sprintf("database not found: %q", e.Name) }

func NewDatabaseNotFound(name string) *DatabaseNotFound {
	return &DatabaseNotFound{Name: name}
}

// TableNotFound is returned when a named table is absent or its row type
// does not match what the caller expected.
type TableNotFound struct {
	Table string
}

func (e *TableNotFound) Error() string { return fmt.Sprintf("table not found: %q", e.Table) }

func NewTableNotFound(table string) *TableNotFound {
	return &TableNotFound{Table: table}
}

// TableAlreadyExists is returned by createTable on an ordinal name collision.
type TableAlreadyExists struct {
	Table string
}

func (e *TableAlreadyExists) Error() string {
	return fmt.Sprintf("table already exists: %q", e.Table)
}

func NewTableAlreadyExists(table string) *TableAlreadyExists {
	return &TableAlreadyExists{Table: table}
}

// SchemaInvalid is returned when a row type descriptor fails construction.
type SchemaInvalid struct {
	Message string
}

func (e *SchemaInvalid) Error() string { return "invalid schema: " + e.Message }

func NewSchemaInvalid(message string) *SchemaInvalid {
	return &SchemaInvalid{Message: message}
}

// RequiredMissing is returned when a required column is absent or empty.
type RequiredMissing struct {
	Table  string
	Column string
}

func (e *RequiredMissing) Error() string {
	return fmt.Sprintf("required column %q missing on table %q", e.Column, e.Table)
}

func NewRequiredMissing(table, column string) *RequiredMissing {
	return &RequiredMissing{Table: table, Column: column}
}

// DuplicatePrimaryKey is returned when an insert or PK-changing update
// collides with an existing primary key value.
type DuplicatePrimaryKey struct {
	Table string
	Key   any
}

func (e *DuplicatePrimaryKey) Error() string {
	return fmt.Sprintf("duplicate primary key %v on table %q", e.Key, e.Table)
}

func NewDuplicatePrimaryKey(table string, key any) *DuplicatePrimaryKey {
	return &DuplicatePrimaryKey{Table: table, Key: key}
}

// PrimaryKeyMissing is returned when a non-auto-increment primary key is
// absent or empty on insert.
type PrimaryKeyMissing struct {
	Table string
}

func (e *PrimaryKeyMissing) Error() string {
	return fmt.Sprintf("primary key missing on table %q", e.Table)
}

func NewPrimaryKeyMissing(table string) *PrimaryKeyMissing {
	return &PrimaryKeyMissing{Table: table}
}

// ForeignKeyViolation is returned when a foreign-key column's value does
// not resolve to a row in the referenced table.
type ForeignKeyViolation struct {
	Table    string
	Column   string
	RefTable string
	Key      any
}

func (e *ForeignKeyViolation) Error() string {
	return fmt.Sprintf("foreign key violation: %s.%s = %v does not exist in %q", e.Table, e.Column, e.Key, e.RefTable)
}

func NewForeignKeyViolation(table, column, refTable string, key any) *ForeignKeyViolation {
	return &ForeignKeyViolation{Table: table, Column: column, RefTable: refTable, Key: key}
}

// ReferentialIntegrity is returned when a delete or primary-key change is
// refused because another table still references the row.
type ReferentialIntegrity struct {
	Table        string
	Key          any
	ReferencedBy string
}

func (e *ReferentialIntegrity) Error() string {
	return fmt.Sprintf("row %v in %q is still referenced by %q", e.Key, e.Table, e.ReferencedBy)
}

func NewReferentialIntegrity(table string, key any, referencedBy string) *ReferentialIntegrity {
	return &ReferentialIntegrity{Table: table, Key: key, ReferencedBy: referencedBy}
}

// UnsupportedCommand is returned by the SQL interpreter for statements
// outside the supported grammar.
type UnsupportedCommand struct {
	Command string
}

func (e *UnsupportedCommand) Error() string { return "unsupported command: " + e.Command }

func NewUnsupportedCommand(command string) *UnsupportedCommand {
	return &UnsupportedCommand{Command: command}
}

// ParseError is returned when SQL text cannot be parsed.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return "parse error: " + e.Message }

func NewParseError(message string) *ParseError {
	return &ParseError{Message: message}
}

// IOError wraps a snapshot read/write failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

func NewIOError(op string, err error) *IOError {
	return &IOError{Op: op, Err: err}
}

// Cancelled is returned when a queued request completes in a cancelled
// state before a worker dequeues it.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "request cancelled" }

func NewCancelled() *Cancelled { return &Cancelled{} }
