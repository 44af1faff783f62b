package handle

import (
	"errors"
	"testing"

	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidHandles(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Get(0)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = tbl.Get(7)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	r := tbl.Put(0, "", "k", types.Int(1))
	assert.False(t, r.Ok())
	assert.Equal(t, StatusInvalidHandle, r.Status)
	assert.NotEmpty(t, r.Message())

	h := tbl.New()
	require.NoError(t, tbl.Release(h))
	assert.ErrorIs(t, tbl.Release(h), ErrInvalidHandle)
	assert.Equal(t, StatusInvalidHandle, tbl.Text(h, "").Status)
	assert.Equal(t, 0, tbl.Len())
}

func TestCalls(t *testing.T) {
	tbl := NewTable()
	h := tbl.New()

	require.True(t, tbl.Put(h, "", "title", types.Str("draft")).Ok())
	r := tbl.Get(h, "", "title")
	require.True(t, r.Ok())
	assert.Equal(t, "draft", r.Value.(doc.Value).Scalar().AsStr())
	assert.Nil(t, tbl.Get(h, "", "missing").Value)

	r = tbl.PutText(h, "", "body")
	require.True(t, r.Ok(), r.Message())
	body := r.Value.(string)
	require.True(t, tbl.Splice(h, body, 0, 0, []byte("hi there\x00ignored")).Ok())
	r = tbl.Text(h, body)
	require.True(t, r.Ok())
	assert.Equal(t, "hi there", r.Value)

	r = tbl.Keys(h, "")
	require.True(t, r.Ok())
	assert.Equal(t, []string{"body", "title"}, r.Value)

	r = tbl.Commit(h, []byte("first\x00"))
	require.True(t, r.Ok())
	hash := r.Value.(doc.ChangeHash)
	r = tbl.Commit(h, nil)
	require.True(t, r.Ok())
	assert.Nil(t, r.Value)

	d, err := tbl.Get(h)
	require.NoError(t, err)
	c, found := d.Document().Change(hash)
	require.True(t, found)
	assert.Equal(t, "first", c.Message)

	saved := tbl.Save(h)
	require.True(t, saved.Ok())
	loaded := tbl.Load(saved.Value.([]byte))
	require.True(t, loaded.Ok(), loaded.Message())
	r = tbl.Text(loaded.Value.(Handle), body)
	require.True(t, r.Ok())
	assert.Equal(t, "hi there", r.Value)
}

func TestCallErrors(t *testing.T) {
	tbl := NewTable()
	h := tbl.New()

	r := tbl.Text(h, "")
	assert.Equal(t, StatusError, r.Status)
	assert.True(t, errors.Is(r.Err, doc.ErrWrongType))

	r = tbl.Put(h, "not-an-id", "k", types.Int(1))
	assert.Equal(t, StatusError, r.Status)

	r = tbl.Load([]byte("garbage"))
	assert.Equal(t, StatusError, r.Status)
}

func TestToText(t *testing.T) {
	assert.Equal(t, "abc", ToText([]byte("abc\x00def")))
	assert.Equal(t, "a\ufffdb", ToText([]byte{'a', 0xff, 'b'}))
	assert.Equal(t, "", ToText(nil))

	id, err := ObjID("")
	require.NoError(t, err)
	assert.True(t, id.IsRoot())
}
