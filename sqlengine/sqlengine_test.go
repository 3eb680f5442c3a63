package sqlengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/relkernel/database"
	"github.com/kasuganosora/relkernel/sqlengine"
)

type Customer struct {
	ID     int64  `db:"Id,pk,auto"`
	Name   string `db:"Name,required"`
	Region string `db:"Region"`
}

type Order struct {
	ID         int64   `db:"Id,pk,auto"`
	CustomerID int64   `db:"CustomerId,required,fk=Customer"`
	Status     string  `db:"Status,required"`
	Total      float64 `db:"Total"`
}

func newShop(t *testing.T) (*database.Manager, *database.Database) {
	t.Helper()
	m := database.NewManager()
	db, err := m.CreateDatabase("shop")
	require.NoError(t, err)
	return m, db
}

// S4: SELECT with a JOIN, WHERE, and ORDER BY DESC.
func TestExecute_SelectJoinWhereOrderBy(t *testing.T) {
	m, db := newShop(t)
	customers, err := database.CreateTable[Customer](db, "Customers")
	require.NoError(t, err)
	orders, err := database.CreateTable[Order](db, "Orders")
	require.NoError(t, err)

	_, err = customers.Insert(Customer{ID: 1, Name: "Alice", Region: "N"})
	require.NoError(t, err)
	_, err = customers.Insert(Customer{ID: 2, Name: "Bob", Region: "W"})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 1, CustomerID: 1, Status: "Open", Total: 100})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 2, CustomerID: 1, Status: "Open", Total: 50})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 3, CustomerID: 2, Status: "Open", Total: 75})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 4, CustomerID: 2, Status: "Closed", Total: 300})
	require.NoError(t, err)

	engine := sqlengine.NewEngine(m)
	result, err := engine.Execute("shop", `
		SELECT c.Name AS CustomerName, o.Id AS OrderId, o.Total AS Total
		FROM Customers c JOIN Orders o ON c.Id = o.CustomerId
		WHERE o.Status = 'Open' ORDER BY Total DESC
	`)
	require.NoError(t, err)
	require.True(t, result.IsQuery)
	require.Len(t, result.Rows, 3)

	assert.Equal(t, "Alice", result.Rows[0]["CustomerName"])
	assert.EqualValues(t, 1, result.Rows[0]["OrderId"])
	assert.EqualValues(t, 100, result.Rows[0]["Total"])

	assert.Equal(t, "Bob", result.Rows[1]["CustomerName"])
	assert.EqualValues(t, 75, result.Rows[1]["Total"])

	assert.Equal(t, "Alice", result.Rows[2]["CustomerName"])
	assert.EqualValues(t, 50, result.Rows[2]["Total"])
}

// S5: UPDATE by predicate affects only matching rows.
func TestExecute_UpdateByPredicate(t *testing.T) {
	m, db := newShop(t)
	customers, err := database.CreateTable[Customer](db, "Customers")
	require.NoError(t, err)
	_, err = customers.Insert(Customer{ID: 1, Name: "Alice"})
	require.NoError(t, err)
	orders, err := database.CreateTable[Order](db, "Orders")
	require.NoError(t, err)

	_, err = orders.Insert(Order{ID: 1, CustomerID: 1, Status: "Pending", Total: 25})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 2, CustomerID: 1, Status: "Pending", Total: 35})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 3, CustomerID: 1, Status: "Closed", Total: 40})
	require.NoError(t, err)

	engine := sqlengine.NewEngine(m)
	result, err := engine.Execute("shop", `UPDATE Orders SET Status='Closed', Total=50.5 WHERE Status='Pending'`)
	require.NoError(t, err)
	assert.False(t, result.IsQuery)
	assert.Equal(t, 2, result.AffectedRows)

	rows := orders.AsSequence()
	statuses := make([]string, len(rows))
	totals := make([]float64, len(rows))
	for i, r := range rows {
		statuses[i] = r.Status
		totals[i] = r.Total
	}
	assert.Equal(t, []string{"Closed", "Closed", "Closed"}, statuses)
	assert.Equal(t, []float64{50.5, 50.5, 40}, totals)
}

// Property 10: INSERT followed by SELECT * round-trips the values.
func TestExecute_InsertThenSelectStar(t *testing.T) {
	m, db := newShop(t)
	_, err := database.CreateTable[Customer](db, "Customers")
	require.NoError(t, err)

	engine := sqlengine.NewEngine(m)
	_, err = engine.Execute("shop", `INSERT INTO Customers (Id, Name, Region) VALUES (1, 'Carol', 'S')`)
	require.NoError(t, err)

	result, err := engine.Execute("shop", `SELECT * FROM Customers`)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "Carol", result.Rows[0]["Name"])
	assert.Equal(t, "S", result.Rows[0]["Region"])
}

func TestExecute_DeleteByPredicate(t *testing.T) {
	m, db := newShop(t)
	customers, err := database.CreateTable[Customer](db, "Customers")
	require.NoError(t, err)
	_, err = customers.Insert(Customer{ID: 1, Name: "Alice"})
	require.NoError(t, err)
	orders, err := database.CreateTable[Order](db, "Orders")
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 1, CustomerID: 1, Status: "Open"})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 2, CustomerID: 1, Status: "Closed"})
	require.NoError(t, err)

	engine := sqlengine.NewEngine(m)
	result, err := engine.Execute("shop", `DELETE FROM Orders WHERE Status = 'Closed'`)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AffectedRows)
	assert.Equal(t, 1, orders.Len())
}

func TestExecute_GroupByWithAggregate(t *testing.T) {
	m, db := newShop(t)
	customers, err := database.CreateTable[Customer](db, "Customers")
	require.NoError(t, err)
	_, err = customers.Insert(Customer{ID: 1, Name: "Alice"})
	require.NoError(t, err)
	_, err = customers.Insert(Customer{ID: 2, Name: "Bob"})
	require.NoError(t, err)
	orders, err := database.CreateTable[Order](db, "Orders")
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 1, CustomerID: 1, Status: "Open", Total: 10})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 2, CustomerID: 1, Status: "Open", Total: 20})
	require.NoError(t, err)
	_, err = orders.Insert(Order{ID: 3, CustomerID: 2, Status: "Open", Total: 5})
	require.NoError(t, err)

	engine := sqlengine.NewEngine(m)
	result, err := engine.Execute("shop", `
		SELECT CustomerId, SUM(Total) AS Total, COUNT(*) AS N
		FROM Orders GROUP BY CustomerId ORDER BY CustomerId ASC
	`)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.EqualValues(t, 1, result.Rows[0]["CustomerId"])
	assert.EqualValues(t, 30, result.Rows[0]["Total"])
	assert.EqualValues(t, 2, result.Rows[0]["N"])
}

func TestExecute_UnsupportedCommandRejected(t *testing.T) {
	m, _ := newShop(t)
	engine := sqlengine.NewEngine(m)
	_, err := engine.Execute("shop", `CREATE TABLE Foo (id INT)`)
	require.Error(t, err)
}

func TestExecute_DatabaseNotFound(t *testing.T) {
	m := database.NewManager()
	engine := sqlengine.NewEngine(m)
	_, err := engine.Execute("missing", `SELECT * FROM Anything`)
	require.Error(t, err)
}
