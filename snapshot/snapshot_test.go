package snapshot_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/database"
	"github.com/kasuganosora/relkernel/snapshot"
)

type Account struct {
	ID   int64  `db:"id,pk,auto"`
	Name string `db:"name,required"`
}

func TestEncodeDecodeDatabase_RoundTrip(t *testing.T) {
	db := database.NewDatabase("bank")
	accounts, err := database.CreateTable[Account](db, "Accounts")
	require.NoError(t, err)
	_, err = accounts.Insert(Account{Name: "Alpha"})
	require.NoError(t, err)
	_, err = accounts.Insert(Account{Name: "Beta"})
	require.NoError(t, err)

	data, err := snapshot.EncodeDatabase(db.Catalog())
	require.NoError(t, err)

	freshDB := database.NewDatabase("bank")
	freshAccounts, err := database.CreateTable[Account](freshDB, "Accounts")
	require.NoError(t, err)

	require.NoError(t, snapshot.DecodeDatabase(data, freshDB.Catalog()))
	assert.Equal(t, accounts.AsSequence(), freshAccounts.AsSequence())
}

func TestCompressDecompressGzip_RoundTrip(t *testing.T) {
	original := []byte(`{"hello":"world"}`)
	compressed, err := snapshot.CompressGzip(original)
	require.NoError(t, err)
	assert.NotEqual(t, original, compressed)

	decompressed, err := snapshot.DecompressGzip(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestEncodeDatabase_IncludesNonTransientTables(t *testing.T) {
	db := database.NewDatabase("bank")
	_, err := database.CreateTable[Account](db, "Accounts")
	require.NoError(t, err)

	data, err := snapshot.EncodeDatabase(db.Catalog())
	require.NoError(t, err)

	var dump snapshot.DatabaseDump
	require.NoError(t, json.Unmarshal(data, &dump))
	_, ok := dump["Accounts"]
	assert.True(t, ok)
}

func TestManagerDump_RoundTrip(t *testing.T) {
	dbA := database.NewDatabase("a")
	dbB := database.NewDatabase("b")
	tablesA, err := database.CreateTable[Account](dbA, "Accounts")
	require.NoError(t, err)
	_, err = tablesA.Insert(Account{Name: "One"})
	require.NoError(t, err)
	_, err = database.CreateTable[Account](dbB, "Accounts")
	require.NoError(t, err)

	providers := map[string]snapshot.CatalogProvider{"a": dbA, "b": dbB}
	data, err := snapshot.EncodeManager([]string{"a", "b"}, func(name string) snapshot.CatalogProvider {
		return providers[name]
	})
	require.NoError(t, err)

	dump, err := snapshot.DecodeManagerDump(data)
	require.NoError(t, err)
	require.Contains(t, dump, "a")
	require.Contains(t, dump, "b")

	freshA := database.NewDatabase("a")
	freshTablesA, err := database.CreateTable[Account](freshA, "Accounts")
	require.NoError(t, err)
	freshB := database.NewDatabase("b")
	_, err = database.CreateTable[Account](freshB, "Accounts")
	require.NoError(t, err)

	cats := map[string]*catalog.Catalog{"a": freshA.Catalog(), "b": freshB.Catalog()}
	require.NoError(t, snapshot.ApplyManagerDump(dump, func(name string) (*catalog.Catalog, bool) {
		c, ok := cats[name]
		return c, ok
	}))
	assert.Equal(t, tablesA.AsSequence(), freshTablesA.AsSequence())
}

func TestEncodeManager_SkipsMissingDatabase(t *testing.T) {
	data, err := snapshot.EncodeManager([]string{"gone"}, func(name string) snapshot.CatalogProvider {
		return nil
	})
	require.NoError(t, err)

	dump, err := snapshot.DecodeManagerDump(data)
	require.NoError(t, err)
	assert.NotContains(t, dump, "gone")
}
