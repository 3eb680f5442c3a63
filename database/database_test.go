package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/relkernel/database"
	"github.com/kasuganosora/relkernel/dberr"
)

type Widget struct {
	ID   int64  `db:"id,pk,auto"`
	Name string `db:"name,required"`
}

func TestCreateDatabase_Idempotent(t *testing.T) {
	m := database.NewManager()
	db1, err := m.CreateDatabase(" shop ")
	require.NoError(t, err)
	db2, err := m.CreateDatabase("shop")
	require.NoError(t, err)
	assert.Same(t, db1, db2)
	assert.Equal(t, "shop", db1.Name())
}

func TestCreateDatabase_EmptyNameRejected(t *testing.T) {
	m := database.NewManager()
	_, err := m.CreateDatabase("   ")
	require.Error(t, err)
}

func TestDropDatabase(t *testing.T) {
	m := database.NewManager()
	_, err := m.CreateDatabase("shop")
	require.NoError(t, err)

	assert.True(t, m.DropDatabase("shop"))
	assert.False(t, m.Exists("shop"))
	assert.False(t, m.DropDatabase("shop"))
}

func TestDatabases_ReturnsIndependentSnapshot(t *testing.T) {
	m := database.NewManager()
	_, err := m.CreateDatabase("a")
	require.NoError(t, err)
	_, err = m.CreateDatabase("b")
	require.NoError(t, err)

	names := m.Databases()
	assert.Equal(t, []string{"a", "b"}, names)

	names[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, m.Databases())
}

func TestGetDatabase_NotFound(t *testing.T) {
	m := database.NewManager()
	_, err := m.GetDatabase("nope")
	require.Error(t, err)
	var notFound *dberr.DatabaseNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestCreateTable_DuplicateNameRejected(t *testing.T) {
	m := database.NewManager()
	db, err := m.CreateDatabase("shop")
	require.NoError(t, err)

	_, err = database.CreateTable[Widget](db, "Widgets")
	require.NoError(t, err)

	_, err = database.CreateTable[Widget](db, "Widgets")
	require.Error(t, err)
	var exists *dberr.TableAlreadyExists
	assert.ErrorAs(t, err, &exists)
}

func TestGetTable_WrongTypeFails(t *testing.T) {
	m := database.NewManager()
	db, err := m.CreateDatabase("shop")
	require.NoError(t, err)
	_, err = database.CreateTable[Widget](db, "Widgets")
	require.NoError(t, err)

	type Other struct {
		ID int64 `db:"id,pk,auto"`
	}
	_, err = database.GetTable[Other](db, "Widgets")
	require.Error(t, err)
}

func TestClearDatabase_EmptiesTablesRetainsDefinitions(t *testing.T) {
	m := database.NewManager()
	db, err := m.CreateDatabase("shop")
	require.NoError(t, err)
	tbl, err := database.CreateTable[Widget](db, "Widgets")
	require.NoError(t, err)
	_, err = tbl.Insert(Widget{Name: "A"})
	require.NoError(t, err)

	require.NoError(t, m.ClearDatabase("shop"))
	assert.Equal(t, 0, tbl.Len())
	assert.Contains(t, db.TableNames(), "Widgets")
}

func TestDropTable_RemovesFromCatalog(t *testing.T) {
	m := database.NewManager()
	db, err := m.CreateDatabase("shop")
	require.NoError(t, err)
	_, err = database.CreateTable[Widget](db, "Widgets")
	require.NoError(t, err)

	assert.True(t, db.DropTable("Widgets"))
	_, ok := db.GetTableHandle("Widgets")
	assert.False(t, ok)
}

func TestCreateDatabaseWithConfig_ValidatesInterval(t *testing.T) {
	m := database.NewManager()
	_, err := m.CreateDatabaseWithConfig(database.PersistenceConfig{
		DatabaseName:       "shop",
		SnapshotInterval:   0,
		MaxSnapshotHistory: 1,
	})
	require.Error(t, err)
}

func TestCreateDatabaseWithConfig_ReplacesPriorConfig(t *testing.T) {
	m := database.NewManager()
	_, err := m.CreateDatabaseWithConfig(database.PersistenceConfig{
		DatabaseName:       "shop",
		SnapshotInterval:   1,
		MaxSnapshotHistory: 3,
	})
	require.NoError(t, err)
	_, err = m.CreateDatabaseWithConfig(database.PersistenceConfig{
		DatabaseName:       "shop",
		SnapshotInterval:   2,
		MaxSnapshotHistory: 7,
	})
	require.NoError(t, err)

	cfg, ok := m.Config("shop")
	require.True(t, ok)
	assert.Equal(t, 7, cfg.MaxSnapshotHistory)
}

// Property 6: serializeDatabases() -> deserializeDatabases() is the
// identity on the set of databases and tables, through the same manager
// (so typed tables survive the round trip, not just the raw rows).
func TestSerializeDeserializeDatabases_RoundTripPreservesTables(t *testing.T) {
	m := database.NewManager()
	db, err := m.CreateDatabase("shop")
	require.NoError(t, err)
	widgets, err := database.CreateTable[Widget](db, "Widgets")
	require.NoError(t, err)
	_, err = widgets.Insert(Widget{Name: "Gear"})
	require.NoError(t, err)
	_, err = widgets.Insert(Widget{Name: "Bolt"})
	require.NoError(t, err)

	data, err := m.SerializeDatabases()
	require.NoError(t, err)

	_, err = widgets.Insert(Widget{Name: "Washer"})
	require.NoError(t, err)
	require.NoError(t, m.DeserializeDatabases(data))

	assert.True(t, m.Exists("shop"))
	names, err := database.GetTable[Widget](db, "Widgets")
	require.NoError(t, err)
	assert.Same(t, widgets, names)

	got := make([]string, 0, 2)
	for _, w := range widgets.AsSequence() {
		got = append(got, w.Name)
	}
	assert.ElementsMatch(t, []string{"Gear", "Bolt"}, got)
}
