// Package snapshot implements the kernel's on-disk and in-memory
// serialization format: compressed JSON describing one database, or the
// whole manager, as the row-type-tag-keyed shape spec'd in the database
// manager's dump/load contract.
//
// Grounded in the gzip compress/decompress helpers the teacher uses for
// its own backup format, generalized to the per-database and
// whole-manager JSON shapes this kernel defines.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/schema"
)

// TableDump is one table's on-disk representation: its row-type tag plus
// every row.
type TableDump struct {
	TypeName string       `json:"TypeName"`
	Rows     []schema.Row `json:"Rows"`
}

// DatabaseDump maps table name to its dump, per spec §4.4's per-database
// shape.
type DatabaseDump map[string]TableDump

// ManagerDump maps database name to its DatabaseDump, per spec §4.4's
// whole-manager shape.
type ManagerDump map[string]DatabaseDump

// CatalogProvider is the minimal surface snapshot needs from a database:
// its table catalog. database.Database satisfies this implicitly.
type CatalogProvider interface {
	Catalog() *catalog.Catalog
}

// EncodeDatabase builds the per-database JSON shape from cat's tables,
// skipping any table marked Transient.
func EncodeDatabase(cat *catalog.Catalog) ([]byte, error) {
	dump := buildDatabaseDump(cat)
	data, err := json.Marshal(dump)
	if err != nil {
		return nil, dberr.NewIOError("marshal", err)
	}
	return data, nil
}

func buildDatabaseDump(cat *catalog.Catalog) DatabaseDump {
	dump := make(DatabaseDump)
	for _, h := range cat.Tables() {
		if h.Transient() {
			continue
		}
		dump[h.Name()] = TableDump{
			TypeName: h.Tag(),
			Rows:     h.SnapshotRows(),
		}
	}
	return dump
}

// DecodeDatabase parses the per-database JSON shape and loads each
// table's rows into the matching table already registered in cat (looked
// up by TypeName/tag). A table present in the dump but absent from cat is
// skipped: the caller must have pre-created tables of the right Go type
// before a snapshot can repopulate them.
func DecodeDatabase(data []byte, cat *catalog.Catalog) error {
	var dump DatabaseDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return dberr.NewIOError("unmarshal", err)
	}
	return applyDatabaseDump(dump, cat)
}

func applyDatabaseDump(dump DatabaseDump, cat *catalog.Catalog) error {
	for _, td := range dump {
		h, ok := cat.Lookup(td.TypeName)
		if !ok {
			continue
		}
		if err := h.LoadRows(td.Rows); err != nil {
			return err
		}
	}
	return nil
}

// EncodeManager builds the whole-manager JSON shape. get resolves a
// database name (from names, in order) to its catalog provider; a name
// that no longer resolves is skipped, consistent with spec §9's
// allowance that a database dropped mid-serialize may or may not appear.
func EncodeManager(names []string, get func(name string) CatalogProvider) ([]byte, error) {
	out := make(ManagerDump, len(names))
	for _, name := range names {
		provider := get(name)
		if provider == nil {
			continue
		}
		out[name] = buildDatabaseDump(provider.Catalog())
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, dberr.NewIOError("marshal", err)
	}
	return data, nil
}

// DecodeManagerDump parses the whole-manager JSON shape without applying
// it to any catalog, so callers can first create the named databases and
// then apply each one's dump.
func DecodeManagerDump(data []byte) (ManagerDump, error) {
	var dump ManagerDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, dberr.NewIOError("unmarshal", err)
	}
	return dump, nil
}

// ApplyManagerDump loads dump's per-database contents into the catalogs
// resolved by get (keyed by database name).
func ApplyManagerDump(dump ManagerDump, get func(name string) (*catalog.Catalog, bool)) error {
	for name, dbDump := range dump {
		cat, ok := get(name)
		if !ok {
			continue
		}
		if err := applyDatabaseDump(dbDump, cat); err != nil {
			return err
		}
	}
	return nil
}

// CompressGzip compresses data at gzip.BestCompression, the on-disk form
// every .json.gz file uses.
func CompressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressGzip reverses CompressGzip.
func DecompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
