package store

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/kevinxiao27/egdoc/columnar"
	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func edit(t *testing.T, d *doc.Document, key string, v int64) {
	t.Helper()
	_, err := d.Update(func(tx *doc.Transaction) error {
		return tx.Put(doc.Root, doc.Key(key), types.Int(v))
	})
	require.NoError(t, err)
}

func TestFrame(t *testing.T) {
	payload := []byte("change bytes")
	got, err := unframe(frame(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	bad := frame(payload)
	bad[len(bad)-1] ^= 1
	_, err = unframe(bad)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = unframe([]byte{1, 2})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	d := doc.New()
	edit(t, d, "a", 1)
	edit(t, d, "b", 2)
	n, err := s.Save(ctx, "notes", d)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	edit(t, d, "a", 3)
	n, err = s.Save(ctx, "notes", d)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "stored changes are skipped")

	loaded, err := s.Load(ctx, "notes", doc.NewActorId())
	require.NoError(t, err)
	assert.Equal(t, d.Heads(), loaded.Heads())
	got, err := loaded.Materialize(doc.Root)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(3), "b": int64(2)}, got)

	ok, err := s.Has(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, ok)
	ids, err := s.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes"}, ids)
}

func TestMissingAndInvalid(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.Changes(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoDocument)
	_, err = s.Append(ctx, "a/b")
	assert.ErrorIs(t, err, ErrInvalidDocId)
	_, err = s.Load(ctx, "", doc.NewActorId())
	assert.ErrorIs(t, err, ErrInvalidDocId)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Append(cancelled, "x", doc.New().Changes()...)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	for _, id := range []string{"one", "two"} {
		d := doc.New()
		edit(t, d, id, 1)
		_, err := s.Save(ctx, id, d)
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(ctx, "one"))
	ids, err := s.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, ids)
}

func TestCorruptRecord(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	d := doc.New()
	edit(t, d, "a", 1)
	_, err := s.Save(ctx, "doc", d)
	require.NoError(t, err)

	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(changeKey("doc", 0), frame([]byte{0xff}))
	}))
	_, err = s.Changes(ctx, "doc")
	assert.ErrorIs(t, err, columnar.ErrDecode)

	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(changeKey("doc", 0), []byte("short"))
	}))
	_, err = s.Changes(ctx, "doc")
	assert.ErrorIs(t, err, ErrCorrupt)
}
