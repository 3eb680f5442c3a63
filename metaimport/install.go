package metaimport

import (
	"path/filepath"

	"github.com/kasuganosora/relkernel/database"
	"github.com/kasuganosora/relkernel/dberr"
)

// InstallDynamicTable parses the descriptor file at path and installs it
// into db as a transient table, returning the handle.
func InstallDynamicTable(db *database.Database, path string) (*DynamicTable, error) {
	td, err := LoadTableDescriptor(path)
	if err != nil {
		return nil, err
	}
	desc, err := BuildDescriptor(td)
	if err != nil {
		return nil, err
	}
	tbl, err := NewDynamicTable(db.Catalog(), td.TableName, desc)
	if err != nil {
		return nil, err
	}
	if err := db.InstallTableHandle(tbl); err != nil {
		db.Catalog().Deregister(desc.Tag())
		return nil, err
	}
	return tbl, nil
}

// InstallDirectory installs every *.json descriptor file directly under
// dir (the Metadata/<db>/Tables layout's leaf directory) into db,
// returning the installed handles in file-glob order. It stops at the
// first failing descriptor rather than installing a partial set.
func InstallDirectory(db *database.Database, dir string) ([]*DynamicTable, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, dberr.NewIOError("glob", err)
	}
	out := make([]*DynamicTable, 0, len(matches))
	for _, path := range matches {
		tbl, err := InstallDynamicTable(db, path)
		if err != nil {
			for _, installed := range out {
				db.DropTable(installed.Name())
			}
			return nil, err
		}
		out = append(out, tbl)
	}
	return out, nil
}
