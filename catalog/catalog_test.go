package catalog_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/schema"
	"github.com/kasuganosora/relkernel/table"
)

type Customer struct {
	ID   int64  `db:"id,pk,auto"`
	Name string `db:"name,required"`
}

type Order struct {
	ID         int64 `db:"id,pk,auto"`
	CustomerID int64 `db:"customer_id,fk=Customer"`
}

func TestRegisterAndLookup(t *testing.T) {
	cat := catalog.New()
	customers, err := table.New[Customer](cat, "")
	require.NoError(t, err)

	h, ok := cat.Lookup(customers.Tag())
	require.True(t, ok)
	assert.Equal(t, "Customer", h.Tag())
}

func TestRegister_DuplicateTagFails(t *testing.T) {
	cat := catalog.New()
	_, err := table.New[Customer](cat, "")
	require.NoError(t, err)

	_, err = table.New[Customer](cat, "")
	require.Error(t, err)
}

func TestMustLookup_NotFound(t *testing.T) {
	cat := catalog.New()
	_, err := cat.MustLookup("nope")
	require.Error(t, err)
}

func TestReferencingTables(t *testing.T) {
	cat := catalog.New()
	_, err := table.New[Customer](cat, "")
	require.NoError(t, err)
	_, err = table.New[Order](cat, "")
	require.NoError(t, err)

	refs := cat.ReferencingTables("Customer")
	assert.Equal(t, []string{"Order"}, refs)
	assert.Empty(t, cat.ReferencingTables("Order"))
}

func TestVersion_IncrementsOnRegisterAndDeregister(t *testing.T) {
	cat := catalog.New()
	v0 := cat.Version()
	tbl, err := table.New[Customer](cat, "")
	require.NoError(t, err)
	v1 := cat.Version()
	assert.Greater(t, v1, v0)

	cat.Deregister(tbl.Tag())
	v2 := cat.Version()
	assert.Greater(t, v2, v1)

	_, ok := cat.Lookup(tbl.Tag())
	assert.False(t, ok)
}

func TestTableNames_PreservesRegistrationOrder(t *testing.T) {
	cat := catalog.New()
	_, err := table.New[Customer](cat, "")
	require.NoError(t, err)
	_, err = table.New[Order](cat, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Customer", "Order"}, cat.TableNames())
}

var _ = reflect.TypeOf // keep reflect import if helper usage changes
var _ catalog.TableHandle
var _ schema.Row
