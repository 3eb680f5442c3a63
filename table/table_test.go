package table_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/table"
)

type Parent struct {
	ID   int64  `db:"id,pk,auto"`
	Name string `db:"name,required"`
}

type Child struct {
	ID       int64  `db:"id,pk,auto"`
	ParentID int64  `db:"parent_id,fk=Parent"`
	Name     string `db:"name"`
}

func newParents(t *testing.T) (*catalog.Catalog, *table.Table[Parent]) {
	t.Helper()
	cat := catalog.New()
	tbl, err := table.New[Parent](cat, "Parents")
	require.NoError(t, err)
	return cat, tbl
}

// S1: auto-increment assigns 1..n, and inserted rows are independent
// copies of the caller's value.
func TestInsert_AutoIncrementAndClone(t *testing.T) {
	_, parents := newParents(t)

	input := Parent{Name: "A"}
	stored, err := parents.Insert(input)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ID)
	assert.Equal(t, "A", stored.Name)

	input.Name = "X"
	got, ok := parents.FindByPrimaryKey(int64(1))
	require.True(t, ok)
	assert.Equal(t, "A", got.Name)
}

// S2: a preset PK advances the auto-increment high-water mark.
func TestInsert_PresetThenAuto(t *testing.T) {
	_, parents := newParents(t)

	_, err := parents.Insert(Parent{ID: 10, Name: "M"})
	require.NoError(t, err)

	second, err := parents.Insert(Parent{Name: "N"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), second.ID)
}

func TestInsert_DuplicatePrimaryKey(t *testing.T) {
	_, parents := newParents(t)
	_, err := parents.Insert(Parent{ID: 1, Name: "A"})
	require.NoError(t, err)

	_, err = parents.Insert(Parent{ID: 1, Name: "B"})
	require.Error(t, err)
	var dup *dberr.DuplicatePrimaryKey
	assert.ErrorAs(t, err, &dup)
}

func TestInsert_RequiredMissing(t *testing.T) {
	_, parents := newParents(t)
	_, err := parents.Insert(Parent{ID: 1})
	require.Error(t, err)
	var req *dberr.RequiredMissing
	assert.ErrorAs(t, err, &req)
}

func TestInsertRange_AllOrNothing(t *testing.T) {
	_, parents := newParents(t)

	_, err := parents.InsertRange([]Parent{
		{Name: "A"},
		{Name: "B"},
		{ID: -5}, // required Name missing: this element fails
	})
	require.Error(t, err)
	assert.Equal(t, 0, parents.Len())
}

func TestInsertRange_PresetsAdvanceBeforeAutoAssignment(t *testing.T) {
	_, parents := newParents(t)

	results, err := parents.InsertRange([]Parent{
		{Name: "A"},
		{ID: 5, Name: "B"},
		{Name: "C"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(6), results[0].ID)
	assert.Equal(t, int64(5), results[1].ID)
	assert.Equal(t, int64(7), results[2].ID)
}

// S3: FK blocks delete while a child references the parent; deleting the
// child first allows the parent delete to succeed.
func TestDeleteByPrimaryKey_BlockedByForeignKey(t *testing.T) {
	cat, parents := newParents(t)
	children, err := table.New[Child](cat, "Children")
	require.NoError(t, err)

	_, err = parents.Insert(Parent{ID: 1, Name: "P"})
	require.NoError(t, err)
	_, err = children.Insert(Child{ID: 1, ParentID: 1, Name: "C"})
	require.NoError(t, err)

	_, err = parents.DeleteByPrimaryKey(int64(1))
	require.Error(t, err)
	var refErr *dberr.ReferentialIntegrity
	assert.ErrorAs(t, err, &refErr)

	n, err := children.Delete(func(c Child) bool { return c.ParentID == 1 })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := parents.DeleteByPrimaryKey(int64(1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsert_ForeignKeyViolation(t *testing.T) {
	cat, _ := newParents(t)
	children, err := table.New[Child](cat, "Children")
	require.NoError(t, err)

	_, err = children.Insert(Child{ID: 1, ParentID: 99})
	require.Error(t, err)
	var fkErr *dberr.ForeignKeyViolation
	assert.ErrorAs(t, err, &fkErr)
}

func TestUpdate_ByPredicate(t *testing.T) {
	_, parents := newParents(t)
	_, err := parents.Insert(Parent{ID: 1, Name: "A"})
	require.NoError(t, err)
	_, err = parents.Insert(Parent{ID: 2, Name: "B"})
	require.NoError(t, err)

	n, err := parents.Update(
		func(p Parent) bool { return p.Name == "A" },
		func(p *Parent) { p.Name = "A2" },
	)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := parents.FindByPrimaryKey(int64(1))
	require.True(t, ok)
	assert.Equal(t, "A2", got.Name)
}

func TestUpdate_RefusesPrimaryKeyChangeWhileReferenced(t *testing.T) {
	cat, parents := newParents(t)
	children, err := table.New[Child](cat, "Children")
	require.NoError(t, err)

	_, err = parents.Insert(Parent{ID: 1, Name: "P"})
	require.NoError(t, err)
	_, err = children.Insert(Child{ID: 1, ParentID: 1})
	require.NoError(t, err)

	_, err = parents.Update(
		func(p Parent) bool { return p.ID == 1 },
		func(p *Parent) { p.ID = 2 },
	)
	require.Error(t, err)
	var refErr *dberr.ReferentialIntegrity
	assert.ErrorAs(t, err, &refErr)

	got, ok := parents.FindByPrimaryKey(int64(1))
	require.True(t, ok)
	assert.Equal(t, "P", got.Name)
}

func TestClear_ResetsAutoIncrement(t *testing.T) {
	_, parents := newParents(t)
	_, err := parents.Insert(Parent{Name: "A"})
	require.NoError(t, err)

	parents.Clear()
	assert.Equal(t, 0, parents.Len())

	stored, err := parents.Insert(Parent{Name: "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ID)
}

// Property 3: every stored row is found by its primary key, and the copy
// returned equals the stored row.
func TestFindByPrimaryKey_MatchesStoredRows(t *testing.T) {
	_, parents := newParents(t)
	for i := 0; i < 5; i++ {
		_, err := parents.Insert(Parent{Name: "row"})
		require.NoError(t, err)
	}
	for _, row := range parents.AsSequence() {
		got, ok := parents.FindByPrimaryKey(row.ID)
		require.True(t, ok)
		assert.Equal(t, row, got)
	}
}

// Property 9: concurrent readers observe a monotonically growing,
// always-unique set of positive PKs while a writer inserts.
func TestConcurrentInsertAndRead(t *testing.T) {
	_, parents := newParents(t)
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := parents.Insert(Parent{Name: "row"})
			require.NoError(t, err)
		}
	}()

	stop := make(chan struct{})
	go func() {
		last := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			seen := make(map[int64]bool)
			for _, row := range parents.AsSequence() {
				assert.Greater(t, row.ID, int64(0))
				assert.False(t, seen[row.ID])
				seen[row.ID] = true
			}
			assert.GreaterOrEqual(t, len(seen), last)
			last = len(seen)
		}
	}()

	wg.Wait()
	close(stop)
	assert.Equal(t, n, parents.Len())
}

func TestCreateUniqueIndex_RejectsDuplicates(t *testing.T) {
	_, parents := newParents(t)
	_, err := parents.Insert(Parent{ID: 1, Name: "dup"})
	require.NoError(t, err)
	_, err = parents.Insert(Parent{ID: 2, Name: "dup"})
	require.NoError(t, err)

	err = parents.CreateUniqueIndex("name")
	require.Error(t, err)

	_, freshParents := newParents(t)
	require.NoError(t, freshParents.CreateUniqueIndex("name"))
	_, err = freshParents.Insert(Parent{ID: 1, Name: "x"})
	require.NoError(t, err)
	_, err = freshParents.Insert(Parent{ID: 2, Name: "x"})
	require.Error(t, err)
}
