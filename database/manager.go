package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/snapshot"
)

// PersistenceConfig controls automatic and on-demand snapshotting of one
// database, per spec §3/§4.4.
type PersistenceConfig struct {
	DatabaseName             string
	DumpDirectory            string
	DumpFilePrefix           string
	EnableAutomaticSnapshots bool
	SnapshotInterval         time.Duration
	MaxSnapshotHistory       int
	AutoRestoreLatestDump    bool
}

// Validate checks the invariants spec §6 requires at registration time.
func (c PersistenceConfig) Validate() error {
	if c.SnapshotInterval <= 0 {
		return dberr.NewInvalidArgument("snapshotInterval must be > 0")
	}
	if c.MaxSnapshotHistory < 1 {
		return dberr.NewInvalidArgument("maxSnapshotHistory must be >= 1")
	}
	return nil
}

// Manager is the process-wide registry of named databases and their
// optional persistence configuration.
type Manager struct {
	mu      sync.RWMutex
	dbs     map[string]*Database
	order   []string
	configs sync.Map // name -> PersistenceConfig
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{dbs: make(map[string]*Database)}
}

// CreateDatabase idempotently creates (or returns the existing) database
// named name.
func (m *Manager) CreateDatabase(name string) (*Database, error) {
	name = trim(name)
	if name == "" {
		return nil, dberr.NewInvalidArgument("database name must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.dbs[name]; ok {
		return db, nil
	}
	db := NewDatabase(name)
	m.dbs[name] = db
	m.order = append(m.order, name)
	return db, nil
}

// CreateDatabaseWithConfig creates the database (idempotently) and
// installs cfg as its persistence configuration, replacing any prior one.
func (m *Manager) CreateDatabaseWithConfig(cfg PersistenceConfig) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := m.CreateDatabase(cfg.DatabaseName)
	if err != nil {
		return nil, err
	}
	m.configs.Store(trim(cfg.DatabaseName), cfg)
	return db, nil
}

// Config returns the persistence configuration registered for name, if any.
func (m *Manager) Config(name string) (PersistenceConfig, bool) {
	v, ok := m.configs.Load(trim(name))
	if !ok {
		return PersistenceConfig{}, false
	}
	return v.(PersistenceConfig), true
}

// DropDatabase removes and disposes the named database, reporting whether
// anything was removed.
func (m *Manager) DropDatabase(name string) bool {
	name = trim(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[name]; !ok {
		return false
	}
	delete(m.dbs, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.configs.Delete(name)
	return true
}

// Exists reports whether a database named name is registered.
func (m *Manager) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dbs[trim(name)]
	return ok
}

// Databases returns an independent snapshot of the registered database
// names, in creation order.
func (m *Manager) Databases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// GetDatabase returns the named database.
func (m *Manager) GetDatabase(name string) (*Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.dbs[trim(name)]
	if !ok {
		return nil, dberr.NewDatabaseNotFound(name)
	}
	return db, nil
}

// ClearDatabase empties every table in the named database, retaining it.
func (m *Manager) ClearDatabase(name string) error {
	db, err := m.GetDatabase(name)
	if err != nil {
		return err
	}
	db.Clear()
	return nil
}

func (m *Manager) snapshotOf(name string) ([]byte, error) {
	db, err := m.GetDatabase(name)
	if err != nil {
		return nil, err
	}
	return snapshot.EncodeDatabase(db.Catalog())
}

// DumpDatabase writes the named database as compressed JSON to path.
func (m *Manager) DumpDatabase(name, path string) error {
	data, err := m.snapshotOf(name)
	if err != nil {
		return err
	}
	compressed, err := snapshot.CompressGzip(data)
	if err != nil {
		return dberr.NewIOError("compress", err)
	}
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return dberr.NewIOError("write", err)
	}
	return nil
}

// DumpDatabaseWithConfig computes the timestamped filename
// {prefix}_YYYYMMDD_HHMMSS.json.gz in cfg.DumpDirectory, writes it, then
// applies retention.
func (m *Manager) DumpDatabaseWithConfig(cfg PersistenceConfig, now time.Time) (string, error) {
	path := filepath.Join(cfg.DumpDirectory, fmt.Sprintf("%s_%s.json.gz", cfg.DumpFilePrefix, now.UTC().Format("20060102_150405")))
	if err := m.DumpDatabase(cfg.DatabaseName, path); err != nil {
		return "", err
	}
	if err := m.TrimSnapshotHistory(cfg); err != nil {
		return path, err
	}
	return path, nil
}

// LoadDatabase creates (if absent) the named database and replaces its
// table contents from the compressed JSON file at path. Tables must
// already exist with their correct Go row type: LoadDatabase populates
// rows into tables the caller created, it does not invent row types.
func (m *Manager) LoadDatabase(name, path string) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return dberr.NewIOError("read", err)
	}
	data, err := snapshot.DecompressGzip(compressed)
	if err != nil {
		return dberr.NewIOError("decompress", err)
	}
	db, err := m.CreateDatabase(name)
	if err != nil {
		return err
	}
	return snapshot.DecodeDatabase(data, db.Catalog())
}

// SaveAllDatabases writes every registered database as compressed JSON to
// path, in the whole-manager shape of spec §4.4.
func (m *Manager) SaveAllDatabases(path string) error {
	data, err := m.SerializeDatabases()
	if err != nil {
		return err
	}
	compressed, err := snapshot.CompressGzip([]byte(data))
	if err != nil {
		return dberr.NewIOError("compress", err)
	}
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return dberr.NewIOError("write", err)
	}
	return nil
}

// LoadAllDatabases reads path (compressed JSON, whole-manager shape) and
// loads each database's rows into existing tables.
func (m *Manager) LoadAllDatabases(path string) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return dberr.NewIOError("read", err)
	}
	data, err := snapshot.DecompressGzip(compressed)
	if err != nil {
		return dberr.NewIOError("decompress", err)
	}
	return m.DeserializeDatabases(string(data))
}

// SerializeDatabases returns the whole-manager shape as uncompressed UTF-8
// JSON. It takes a consistent point-in-time snapshot of the registered
// database list; a database created concurrently mid-call may or may not
// be included.
func (m *Manager) SerializeDatabases() (string, error) {
	names := m.Databases()
	data, err := snapshot.EncodeManager(names, func(name string) snapshot.CatalogProvider {
		db, err := m.GetDatabase(name)
		if err != nil {
			return nil // dropped between listing and read; skip rather than fail the whole call
		}
		return db
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeserializeDatabases replaces the manager's database set with the ones
// named in data, atomically from callers' point of view. A name that is
// already registered keeps its existing *Database — and with it every
// typed table a caller previously registered via CreateTable[T] — so its
// rows are reloaded into tables of the right Go type rather than lost. A
// name with no pre-existing database is registered empty: since nothing
// has ever called CreateTable[T] for it in this process, its dump's
// tables have no typed handle to load into and are skipped, the same way
// DecodeDatabase skips a table absent from its target catalog.
func (m *Manager) DeserializeDatabases(data string) error {
	dump, err := snapshot.DecodeManagerDump([]byte(data))
	if err != nil {
		return err
	}

	m.mu.Lock()
	newDBs := make(map[string]*Database, len(dump))
	newOrder := make([]string, 0, len(dump))
	for _, name := range m.order {
		if _, ok := dump[name]; !ok {
			continue
		}
		newDBs[name] = m.dbs[name]
		newOrder = append(newOrder, name)
	}
	for name := range dump {
		if _, ok := newDBs[name]; ok {
			continue
		}
		newDBs[name] = NewDatabase(name)
		newOrder = append(newOrder, name)
	}
	m.dbs = newDBs
	m.order = newOrder
	m.mu.Unlock()

	return snapshot.ApplyManagerDump(dump, func(name string) (*catalog.Catalog, bool) {
		db, ok := newDBs[name]
		if !ok {
			return nil, false
		}
		return db.Catalog(), true
	})
}

// TrimSnapshotHistory deletes the oldest files matching
// {prefix}_*.json.gz in cfg.DumpDirectory until at most
// cfg.MaxSnapshotHistory remain, sorted by ModTime descending.
func (m *Manager) TrimSnapshotHistory(cfg PersistenceConfig) error {
	entries, err := os.ReadDir(cfg.DumpDirectory)
	if err != nil {
		return dberr.NewIOError("readdir", err)
	}
	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	prefix := cfg.DumpFilePrefix + "_"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ".json.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{n, info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	for i := cfg.MaxSnapshotHistory; i < len(files); i++ {
		_ = os.Remove(filepath.Join(cfg.DumpDirectory, files[i].name)) // best-effort; retention failures are swallowed
	}
	return nil
}

// DefaultDatabaseName returns the first registered database's name, used
// by the SQL engine when no database is explicitly selected.
func (m *Manager) DefaultDatabaseName() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return "", false
	}
	return m.order[0], true
}
