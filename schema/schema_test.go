package schema

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/relkernel/dberr"
)

type widget struct {
	ID       int64  `db:"id,pk,auto"`
	Name     string `db:"name,required"`
	OwnerID  int64  `db:"owner_id,fk=owner"`
	Created  time.Time
	Internal string
}

func TestFor_BuildsColumnsFromTags(t *testing.T) {
	d, err := For(reflect.TypeOf(widget{}))
	require.NoError(t, err)

	assert.Equal(t, "widget", d.Tag())
	names := make([]string, 0)
	for _, c := range d.Columns() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "name", "owner_id"}, names)

	pk, ok := d.PrimaryKey()
	require.True(t, ok)
	assert.Equal(t, "id", pk.Name)
	assert.True(t, pk.AutoIncrement)

	nameCol, ok := d.Column("name")
	require.True(t, ok)
	assert.True(t, nameCol.Required)

	ownerCol, ok := d.Column("owner_id")
	require.True(t, ok)
	require.NotNil(t, ownerCol.ForeignKey)
	assert.Equal(t, "owner", ownerCol.ForeignKey.TargetTag)
}

func TestFor_CachesByType(t *testing.T) {
	d1, err := For(reflect.TypeOf(widget{}))
	require.NoError(t, err)
	d2, err := For(reflect.TypeOf(widget{}))
	require.NoError(t, err)
	assert.Same(t, d1, d2)
}

type badAuto struct {
	A int64 `db:"a,auto"`
}

func TestFor_AutoIncrementRequiresPrimaryKey(t *testing.T) {
	_, err := For(reflect.TypeOf(badAuto{}))
	require.Error(t, err)
	var se *dberr.SchemaInvalid
	assert.True(t, errors.As(err, &se))
}

type doublePK struct {
	A int `db:"a,pk"`
	B int `db:"b,pk"`
}

func TestFor_RejectsMultiplePrimaryKeys(t *testing.T) {
	_, err := For(reflect.TypeOf(doublePK{}))
	require.Error(t, err)
}

func TestToRowAndFromRow_RoundTrip(t *testing.T) {
	d, err := For(reflect.TypeOf(widget{}))
	require.NoError(t, err)

	w := widget{ID: 7, Name: "gadget", OwnerID: 3}
	row := d.ToRow(&w)
	assert.Equal(t, int64(7), row["id"])
	assert.Equal(t, "gadget", row["name"])

	back, err := d.FromRow(row)
	require.NoError(t, err)
	got := back.(widget)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, w.Name, got.Name)
	assert.Equal(t, w.OwnerID, got.OwnerID)
}

func TestClone_DeepCopiesBytes(t *testing.T) {
	type blob struct {
		ID   int64  `db:"id,pk,auto"`
		Data []byte `db:"data"`
	}
	d, err := For(reflect.TypeOf(blob{}))
	require.NoError(t, err)

	original := blob{ID: 1, Data: []byte{1, 2, 3}}
	clone := d.Clone(&original).(blob)
	clone.Data[0] = 99

	assert.Equal(t, byte(1), original.Data[0])
	assert.Equal(t, byte(99), clone.Data[0])
}

func TestRow_CloneIsIndependent(t *testing.T) {
	r := Row{"data": []byte{1, 2, 3}}
	c := r.Clone()
	c["data"].([]byte)[0] = 42
	assert.Equal(t, byte(1), r["data"].([]byte)[0])
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(KindString, ""))
	assert.False(t, IsZero(KindString, "x"))
	assert.True(t, IsZero(KindUUID, uuid.Nil))
	assert.True(t, IsZero(KindTime, time.Time{}))
	assert.False(t, IsZero(KindBool, false))
}

func TestSetPrimaryKeyValue(t *testing.T) {
	d, err := For(reflect.TypeOf(widget{}))
	require.NoError(t, err)

	w := widget{}
	require.NoError(t, d.SetPrimaryKeyValue(&w, int64(42)))
	assert.Equal(t, int64(42), w.ID)
}
