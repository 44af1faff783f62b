package doc

import (
	"errors"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/kevinxiao27/egdoc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	actorA = types.ActorId{0: 0x0a}
	actorB = types.ActorId{0: 0x0b}
	actorC = types.ActorId{0: 0x0c}
)

func str(t *testing.T, v Value) string {
	t.Helper()
	require.False(t, v.IsObject(), "expected a scalar, got %s", v)
	return v.Scalar().AsStr()
}

func mustGet(t *testing.T, r interface {
	Get(ExId, Prop) (Value, ExId, bool, error)
}, obj ExId, prop Prop) Value {
	t.Helper()
	v, _, ok, err := r.Get(obj, prop)
	require.NoError(t, err)
	require.True(t, ok, "nothing at %s", prop)
	return v
}

func commit(t *testing.T, d *Document, fn func(tx *Transaction) error) ChangeHash {
	t.Helper()
	h, err := d.Update(fn)
	require.NoError(t, err)
	return h
}

func keys(d interface{ Keys(ExId) *Keys }, obj ExId) []string {
	return slices.Collect(d.Keys(obj).All())
}

func TestCommitResolvesTransaction(t *testing.T) {
	d := NewWithActor(actorA)
	tx := d.Transaction()
	require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
	assert.Equal(t, 1, tx.Pending())

	h, err := tx.Commit()
	require.NoError(t, err)
	assert.Equal(t, 0, tx.Pending())
	assert.Equal(t, []ChangeHash{h}, d.Heads())

	_, err = tx.Commit()
	assert.ErrorIs(t, err, ErrTransactionDone)
	_, err = tx.Rollback()
	assert.ErrorIs(t, err, ErrTransactionDone)
	assert.ErrorIs(t, tx.Put(Root, Key("y"), types.Int(2)), ErrTransactionDone)
	tx.Close()

	assert.Equal(t, int64(1), mustGet(t, d, Root, Key("x")).Scalar().AsInt())
	c, ok := d.Change(h)
	require.True(t, ok)
	assert.Equal(t, actorA, c.Actor)
	assert.Equal(t, uint64(1), c.Seq)
	assert.Len(t, c.Ops, 1)
}

func TestReadsOnResolvedTransaction(t *testing.T) {
	for _, tc := range []struct {
		name    string
		resolve func(tx *Transaction)
	}{
		{"commit", func(tx *Transaction) { _, err := tx.Commit(); require.NoError(t, err) }},
		{"rollback", func(tx *Transaction) { _, err := tx.Rollback(); require.NoError(t, err) }},
		{"close", func(tx *Transaction) { tx.Close() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := NewWithActor(actorA)
			tx := d.Transaction()
			require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
			text, err := tx.PutObject(Root, Key("t"), ObjText)
			require.NoError(t, err)
			tc.resolve(tx)

			_, _, found, err := tx.Get(Root, Key("x"))
			assert.ErrorIs(t, err, ErrTransactionDone)
			assert.False(t, found)
			_, err = tx.GetAll(Root, Key("x"))
			assert.ErrorIs(t, err, ErrTransactionDone)
			_, err = tx.Text(text)
			assert.ErrorIs(t, err, ErrTransactionDone)
			_, err = tx.Materialize(Root)
			assert.ErrorIs(t, err, ErrTransactionDone)

			assert.Empty(t, keys(tx, Root))
			assert.Empty(t, slices.Collect(tx.MapRange(Root, AllKeys()).All()))
			assert.Empty(t, slices.Collect(tx.ListRange(text, From(0)).All()))
			assert.Empty(t, slices.Collect(tx.Values(Root).All()))
			assert.Empty(t, slices.Collect(tx.Parents(text).All()))
			assert.Zero(t, tx.Length(Root))
			assert.Nil(t, tx.Heads())
			_, ok := tx.ObjectType(text)
			assert.False(t, ok)
			_, _, ok = tx.ParentObject(text)
			assert.False(t, ok)

			// the document is released and readable
			_, _, _, err = d.Get(Root, Key("x"))
			require.NoError(t, err)
		})
	}
}

func TestDroppedTransactionReleasesDocument(t *testing.T) {
	d := NewWithActor(actorA)
	func() {
		tx := d.Transaction()
		require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		if !d.mu.TryRLock() {
			return false
		}
		d.mu.RUnlock()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	_, _, found, err := d.Get(Root, Key("x"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, d.Heads())
	commit(t, d, func(tx *Transaction) error { return tx.Put(Root, Key("y"), types.Int(2)) })
}

func TestCommitOptions(t *testing.T) {
	d := NewWithActor(actorA)
	first := commit(t, d, func(tx *Transaction) error {
		return tx.Put(Root, Key("a"), types.Int(1))
	})

	tx := d.Transaction()
	require.NoError(t, tx.Put(Root, Key("b"), types.Int(2)))
	at := time.Unix(1700000000, 0)
	h, err := tx.CommitWith(CommitOptions{Message: "second", Time: at})
	require.NoError(t, err)

	c, ok := d.Change(h)
	require.True(t, ok)
	assert.Equal(t, "second", c.Message)
	assert.Equal(t, at.Unix(), c.Time)
	assert.Equal(t, []ChangeHash{first}, c.Deps)
	assert.Equal(t, uint64(2), c.Seq)
	assert.Equal(t, uint64(2), c.StartOp)
}

func TestRollback(t *testing.T) {
	d := NewWithActor(actorA)
	commit(t, d, func(tx *Transaction) error {
		return tx.Put(Root, Key("a"), types.Int(1))
	})
	heads := d.Heads()

	tx := d.Transaction()
	require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
	require.NoError(t, tx.Delete(Root, Key("a")))
	n, err := tx.Rollback()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, heads, d.Heads())
	assert.Equal(t, []string{"a"}, keys(d, Root))
	_, err = tx.Rollback()
	assert.ErrorIs(t, err, ErrTransactionDone)
}

func TestAbandonedTransactionRollsBack(t *testing.T) {
	d := NewWithActor(actorA)
	commit(t, d, func(tx *Transaction) error {
		require.NoError(t, tx.Put(Root, Key("a"), types.Str("kept")))
		_, err := tx.PutObject(Root, Key("list"), ObjList)
		return err
	})
	wantKeys, wantLen := keys(d, Root), d.Length(Root)
	wantA := mustGet(t, d, Root, Key("a"))

	check := func(t *testing.T) {
		t.Helper()
		_, _, ok, err := d.Get(Root, Key("x"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, wantKeys, keys(d, Root))
		assert.Equal(t, wantLen, d.Length(Root))
		assert.Equal(t, wantA, mustGet(t, d, Root, Key("a")))
	}

	t.Run("close", func(t *testing.T) {
		func() {
			tx := d.Transaction()
			defer tx.Close()
			require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
			require.NoError(t, tx.Put(Root, Key("a"), types.Str("changed")))
		}()
		check(t)
	})

	t.Run("update error", func(t *testing.T) {
		_, err := d.Update(func(tx *Transaction) error {
			require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
			return tx.Put(types.ExId{Counter: 99, Actor: actorB}, Key("y"), types.Int(1))
		})
		assert.ErrorIs(t, err, ErrNotFound)
		check(t)
	})

	t.Run("update panic", func(t *testing.T) {
		assert.PanicsWithValue(t, "boom", func() {
			_, _ = d.Update(func(tx *Transaction) error {
				require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
				panic("boom")
			})
		})
		check(t)
	})

	// the document is usable again
	commit(t, d, func(tx *Transaction) error {
		return tx.Put(Root, Key("x"), types.Int(2))
	})
	assert.Equal(t, int64(2), mustGet(t, d, Root, Key("x")).Scalar().AsInt())
}

func TestUpdateCommitsOnce(t *testing.T) {
	d := NewWithActor(actorA)
	var inner ChangeHash
	h, err := d.Update(func(tx *Transaction) error {
		require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
		var err error
		inner, err = tx.Commit()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, inner, h)
	assert.Len(t, d.Changes(), 1)
}

func TestUpdateErrorAfterCommit(t *testing.T) {
	d := NewWithActor(actorA)
	failed := errors.New("after commit")
	h, err := d.Update(func(tx *Transaction) error {
		require.NoError(t, tx.Put(Root, Key("x"), types.Int(1)))
		if _, err := tx.Commit(); err != nil {
			return err
		}
		return failed
	})
	assert.ErrorIs(t, err, failed)
	assert.Equal(t, []ChangeHash{h}, d.Heads())
	assert.Equal(t, int64(1), mustGet(t, d, Root, Key("x")).Scalar().AsInt())
}

func TestTodosHistory(t *testing.T) {
	a := NewWithActor(actorA)
	var todos ExId
	h1 := commit(t, a, func(tx *Transaction) error {
		var err error
		if todos, err = tx.PutObject(Root, Key("todos"), ObjList); err != nil {
			return err
		}
		return tx.Insert(todos, 0, types.Str("buy milk"))
	})

	b := a.ForkWithActor(actorB)
	captured := b.Heads()
	assert.Equal(t, []ChangeHash{h1}, captured)

	h2 := commit(t, a, func(tx *Transaction) error {
		return tx.Insert(todos, 1, types.Str("call mom"))
	})
	assert.Equal(t, []ChangeHash{h2}, a.Heads())

	v, _, ok, err := a.GetAt(todos, Index(0), captured)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "buy milk", str(t, v))
	_, _, ok, err = a.GetAt(todos, Index(1), captured)
	require.NoError(t, err)
	assert.False(t, ok)

	var got []ListItem
	for item := range a.ListRange(todos, From(0)).All() {
		got = append(got, item)
	}
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "buy milk", str(t, got[0].Value))
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, "call mom", str(t, got[1].Value))

	// later commits leave the captured version alone
	for i := 0; i < 3; i++ {
		commit(t, a, func(tx *Transaction) error {
			if err := tx.Insert(todos, 0, types.Str("urgent")); err != nil {
				return err
			}
			return tx.Put(todos, Index(1), types.Str("buy oat milk"))
		})
	}
	v, _, ok, err = a.GetAt(todos, Index(0), captured)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "buy milk", str(t, v))
	assert.Equal(t, 1, a.LengthAt(todos, captured))
	assert.Equal(t, 5, a.Length(todos))

	n := 0
	for range a.ListRangeAt(todos, From(0), captured).All() {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestGetAtPastVersions(t *testing.T) {
	d := NewWithActor(actorA)
	h1 := commit(t, d, func(tx *Transaction) error {
		return tx.Put(Root, Key("a"), types.Int(1))
	})
	commit(t, d, func(tx *Transaction) error {
		return tx.Put(Root, Key("a"), types.Int(2))
	})

	v, _, ok, err := d.GetAt(Root, Key("a"), []ChangeHash{h1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Scalar().AsInt())

	_, _, ok, err = d.GetAt(Root, Key("a"), nil)
	require.NoError(t, err)
	assert.False(t, ok, "the empty version holds nothing")
	assert.Empty(t, slices.Collect(d.KeysAt(Root, nil).All()))
}

func TestTextSplices(t *testing.T) {
	a := NewWithActor(actorA)
	var text ExId
	commit(t, a, func(tx *Transaction) error {
		var err error
		if text, err = tx.PutObject(Root, Key("t"), ObjText); err != nil {
			return err
		}
		require.NoError(t, tx.SpliceText(text, 0, 0, "hello"))
		require.NoError(t, tx.SpliceText(text, 5, 0, " world"))
		require.NoError(t, tx.Splice(text, 0, 1))
		s, err := tx.Text(text)
		require.NoError(t, err)
		assert.Equal(t, "ello world", s)
		return tx.SpliceText(text, 0, 0, "H")
	})
	s, err := a.Text(text)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", s)
	assert.Equal(t, 11, a.Length(text))

	b := a.ForkWithActor(actorB)
	commit(t, a, func(tx *Transaction) error {
		return tx.Splice(text, 6, 5)
	})
	commit(t, b, func(tx *Transaction) error {
		return tx.SpliceText(text, 11, 0, "!")
	})
	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))

	sa, err := a.Text(text)
	require.NoError(t, err)
	sb, err := b.Text(text)
	require.NoError(t, err)
	assert.Equal(t, "Hello !", sa)
	assert.Equal(t, sa, sb)
	assert.Equal(t, 7, a.Length(text))
	assert.Equal(t, a.Heads(), b.Heads())
}

func TestTextUnicode(t *testing.T) {
	d := NewWithActor(actorA)
	var text ExId
	commit(t, d, func(tx *Transaction) error {
		var err error
		if text, err = tx.PutObject(Root, Key("t"), ObjText); err != nil {
			return err
		}
		return tx.SpliceText(text, 0, 0, "héllo 世界")
	})
	assert.Equal(t, 8, d.Length(text))
	commit(t, d, func(tx *Transaction) error {
		return tx.Splice(text, 1, 1, types.Str("e"))
	})
	s, err := d.Text(text)
	require.NoError(t, err)
	assert.Equal(t, "hello 世界", s)
}

func TestConcurrentPutsConverge(t *testing.T) {
	a := NewWithActor(actorA)
	b := NewWithActor(actorB)
	commit(t, a, func(tx *Transaction) error { return tx.Put(Root, Key("x"), types.Int(1)) })
	commit(t, b, func(tx *Transaction) error { return tx.Put(Root, Key("x"), types.Int(2)) })

	ab := NewWithActor(actorC)
	require.NoError(t, ab.ApplyChanges(a.Changes()...))
	require.NoError(t, ab.ApplyChanges(b.Changes()...))
	ba := NewWithActor(actorC)
	require.NoError(t, ba.ApplyChanges(b.Changes()...))
	require.NoError(t, ba.ApplyChanges(a.Changes()...))
	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))

	for _, d := range []*Document{a, b, ab, ba} {
		all, err := d.GetAll(Root, Key("x"))
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, int64(2), all[0].Value.Scalar().AsInt())
		assert.Equal(t, actorB, all[0].Id.Actor)
		assert.Equal(t, int64(1), all[1].Value.Scalar().AsInt())

		v, id, ok, err := d.Get(Root, Key("x"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2), v.Scalar().AsInt())
		assert.Equal(t, all[0].Id, id)

		item, ok := d.MapRange(Root, AllKeys()).Next()
		require.True(t, ok)
		assert.True(t, item.Conflict)
	}

	// a later write supersedes both sides of the conflict
	commit(t, a, func(tx *Transaction) error { return tx.Put(Root, Key("x"), types.Int(3)) })
	all, err := a.GetAll(Root, Key("x"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(3), all[0].Value.Scalar().AsInt())
}

func TestPutElidesCurrentValue(t *testing.T) {
	d := NewWithActor(actorA)
	commit(t, d, func(tx *Transaction) error { return tx.Put(Root, Key("x"), types.Str("same")) })

	tx := d.Transaction()
	defer tx.Close()
	require.NoError(t, tx.Put(Root, Key("x"), types.Str("same")))
	assert.Equal(t, 0, tx.Pending())
	require.NoError(t, tx.Put(Root, Key("x"), types.Str("other")))
	assert.Equal(t, 1, tx.Pending())
}

func TestCounters(t *testing.T) {
	a := NewWithActor(actorA)
	commit(t, a, func(tx *Transaction) error {
		require.NoError(t, tx.Put(Root, Key("n"), types.Counter(5)))
		return tx.Increment(Root, Key("n"), 3)
	})
	b := a.ForkWithActor(actorB)
	commit(t, a, func(tx *Transaction) error { return tx.Increment(Root, Key("n"), 2) })
	commit(t, b, func(tx *Transaction) error { return tx.Increment(Root, Key("n"), -4) })
	require.NoError(t, a.Merge(b))

	v := mustGet(t, a, Root, Key("n"))
	assert.True(t, v.Scalar().IsCounter())
	assert.Equal(t, int64(6), v.Scalar().AsInt())
	all, err := a.GetAll(Root, Key("n"))
	require.NoError(t, err)
	assert.Len(t, all, 1, "increments do not conflict")

	tx := a.Transaction()
	defer tx.Close()
	assert.ErrorIs(t, tx.Increment(Root, Key("missing"), 1), ErrNotFound)
	require.NoError(t, tx.Put(Root, Key("s"), types.Str("nope")))
	assert.ErrorIs(t, tx.Increment(Root, Key("s"), 1), ErrWrongType)
}

func TestWriteErrors(t *testing.T) {
	d := NewWithActor(actorA)
	var list, m ExId
	commit(t, d, func(tx *Transaction) error {
		var err error
		if list, err = tx.PutObject(Root, Key("l"), ObjList); err != nil {
			return err
		}
		m, err = tx.PutObject(Root, Key("m"), ObjMap)
		return err
	})
	unknown := types.ExId{Counter: 42, Actor: actorB}

	tx := d.Transaction()
	defer tx.Close()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"put unknown object", tx.Put(unknown, Key("k"), types.Int(1)), ErrNotFound},
		{"insert past end", tx.Insert(list, 1, types.Int(1)), ErrOutOfRange},
		{"insert negative", tx.Insert(list, -1, types.Int(1)), ErrOutOfRange},
		{"insert into map", tx.Insert(m, 0, types.Int(1)), ErrWrongType},
		{"index on map", tx.Put(m, Index(0), types.Int(1)), ErrWrongType},
		{"key on list", tx.Put(list, Key("k"), types.Int(1)), ErrWrongType},
		{"put past end", tx.Put(list, Index(0), types.Int(1)), ErrOutOfRange},
		{"splice past end", tx.Splice(list, 0, 1), ErrOutOfRange},
		{"splice map", tx.Splice(m, 0, 0, types.Int(1)), ErrWrongType},
		{"splice text into list", tx.SpliceText(list, 0, 0, "x"), ErrWrongType},
		{"delete past end", tx.Delete(list, Index(3)), ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}
	assert.Equal(t, 0, tx.Pending())
	assert.NoError(t, tx.Delete(m, Key("absent")))
	assert.Equal(t, 0, tx.Pending())
}

func TestReadErrors(t *testing.T) {
	d := NewWithActor(actorA)
	var m ExId
	commit(t, d, func(tx *Transaction) error {
		var err error
		m, err = tx.PutObject(Root, Key("m"), ObjMap)
		return err
	})
	unknown := types.ExId{Counter: 42, Actor: actorB}

	_, _, _, err := d.Get(unknown, Key("k"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.Text(m)
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = d.Text(unknown)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.Materialize(unknown)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, keys(d, unknown))
	assert.Empty(t, slices.Collect(d.Values(unknown).All()))
	assert.Empty(t, slices.Collect(d.ListRange(m, From(0)).All()))
	assert.Equal(t, 0, d.Length(unknown))

	typ, ok := d.ObjectType(m)
	assert.True(t, ok)
	assert.Equal(t, ObjMap, typ)
	_, ok = d.ObjectType(unknown)
	assert.False(t, ok)
}

func TestKeysAndRanges(t *testing.T) {
	d := NewWithActor(actorA)
	commit(t, d, func(tx *Transaction) error {
		for i, k := range []string{"b", "a", "d", "c", "B"} {
			if err := tx.Put(Root, Key(k), types.Int(int64(i))); err != nil {
				return err
			}
		}
		return tx.Delete(Root, Key("c"))
	})

	assert.Equal(t, []string{"B", "a", "b", "d"}, keys(d, Root))

	k := d.Keys(Root)
	back, ok := k.NextBack()
	require.True(t, ok)
	assert.Equal(t, "d", back)
	front, ok := k.Next()
	require.True(t, ok)
	assert.Equal(t, "B", front)

	var got []string
	for item := range d.MapRange(Root, KeysBetween("a", "d")).All() {
		got = append(got, item.Key)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	r := d.MapRange(Root, AllKeys())
	item, ok := r.NextBack()
	require.True(t, ok)
	assert.Equal(t, "d", item.Key)
	assert.Equal(t, int64(2), item.Value.Scalar().AsInt())
	assert.Equal(t, actorA, item.Id.Actor)

	vals := slices.Collect(d.Values(Root).All())
	assert.Len(t, vals, 4)
}

func TestIteratorsSnapshot(t *testing.T) {
	d := NewWithActor(actorA)
	commit(t, d, func(tx *Transaction) error { return tx.Put(Root, Key("a"), types.Int(1)) })

	it := d.Keys(Root)
	commit(t, d, func(tx *Transaction) error { return tx.Put(Root, Key("b"), types.Int(2)) })
	assert.Equal(t, []string{"a"}, slices.Collect(it.All()))

	tx := d.Transaction()
	defer tx.Close()
	inTx := tx.Keys(Root)
	require.NoError(t, tx.Put(Root, Key("c"), types.Int(3)))
	assert.Equal(t, []string{"a", "b"}, slices.Collect(inTx.All()))
	assert.Equal(t, []string{"a", "b", "c"}, keys(tx, Root))
}

func TestParents(t *testing.T) {
	d := NewWithActor(actorA)
	var a, b, list, elem ExId
	commit(t, d, func(tx *Transaction) error {
		var err error
		if a, err = tx.PutObject(Root, Key("a"), ObjMap); err != nil {
			return err
		}
		if b, err = tx.PutObject(a, Key("b"), ObjMap); err != nil {
			return err
		}
		if list, err = tx.PutObject(b, Key("l"), ObjList); err != nil {
			return err
		}
		elem, err = tx.InsertObject(list, 0, ObjMap)
		return err
	})

	parent, prop, ok := d.ParentObject(elem)
	require.True(t, ok)
	assert.Equal(t, list, parent)
	assert.Equal(t, Index(0), prop)

	got := slices.Collect(d.Parents(elem).All())
	require.Len(t, got, 4)
	assert.Equal(t, Parent{Obj: list, Prop: Index(0), Visible: true}, got[0])
	assert.Equal(t, Parent{Obj: b, Prop: Key("l"), Visible: true}, got[1])
	assert.Equal(t, Parent{Obj: a, Prop: Key("b"), Visible: true}, got[2])
	assert.Equal(t, Parent{Obj: Root, Prop: Key("a"), Visible: true}, got[3])

	_, _, ok = d.ParentObject(Root)
	assert.False(t, ok)
	assert.Empty(t, slices.Collect(d.Parents(Root).All()))

	commit(t, d, func(tx *Transaction) error { return tx.Delete(a, Key("b")) })
	got = slices.Collect(d.Parents(list).All())
	require.Len(t, got, 3)
	assert.True(t, got[0].Visible)
	assert.False(t, got[1].Visible, "b was deleted from a")
}

func TestParentsInsideTransaction(t *testing.T) {
	d := NewWithActor(actorA)
	tx := d.Transaction()
	defer tx.Close()
	a, err := tx.PutObject(Root, Key("a"), ObjMap)
	require.NoError(t, err)
	b, err := tx.PutObject(a, Key("b"), ObjMap)
	require.NoError(t, err)

	parents := tx.Parents(b)
	require.NoError(t, tx.Delete(a, Key("b")))
	require.NoError(t, tx.Delete(Root, Key("a")))

	got := slices.Collect(parents.All())
	require.Len(t, got, 2)
	assert.Equal(t, Parent{Obj: a, Prop: Key("b"), Visible: true}, got[0])
	assert.Equal(t, Parent{Obj: Root, Prop: Key("a"), Visible: true}, got[1])

	got = slices.Collect(tx.Parents(b).All())
	require.Len(t, got, 2)
	assert.False(t, got[0].Visible)
	assert.False(t, got[1].Visible)
}

func TestObservers(t *testing.T) {
	a := NewWithActor(actorA)
	var log OpLog
	tx := a.Transaction()
	list, err := tx.PutObject(Root, Key("l"), ObjList)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(list, 0, types.Str("x")))
	require.NoError(t, tx.Put(Root, Key("n"), types.Int(7)))
	_, err = tx.CommitWith(CommitOptions{Observer: &log})
	require.NoError(t, err)

	require.Len(t, log.Ops, 3)
	assert.Equal(t, Key("l"), log.Ops[0].Prop)
	assert.Equal(t, ObjList, log.Ops[0].Value.ObjType())
	assert.Equal(t, list, log.Ops[1].Obj)
	assert.Equal(t, Index(0), log.Ops[1].Prop)
	assert.True(t, log.Ops[1].Insert)
	assert.Equal(t, int64(7), log.Ops[2].Value.Scalar().AsInt())

	b := NewWithActor(actorB)
	var seen []Prop
	err = b.ApplyChangesWith(OpObserverFunc(func(op ObservedOp) {
		seen = append(seen, op.Prop)
	}), a.Changes()...)
	require.NoError(t, err)
	assert.Equal(t, []Prop{Key("l"), Index(0), Key("n")}, seen)
}

func TestApplyChangesOutOfOrder(t *testing.T) {
	a := NewWithActor(actorA)
	for i := 0; i < 3; i++ {
		commit(t, a, func(tx *Transaction) error {
			return tx.Put(Root, Key("k"), types.Int(int64(i)))
		})
	}
	changes := a.Changes()

	b := NewWithActor(actorB)
	require.NoError(t, b.ApplyChanges(changes[2]))
	assert.Empty(t, b.Heads())
	assert.Equal(t, []ChangeHash{changes[1].Hash()}, b.MissingDeps())

	require.NoError(t, b.ApplyChanges(changes[1]))
	assert.Equal(t, []ChangeHash{changes[0].Hash()}, b.MissingDeps())
	require.NoError(t, b.ApplyChanges(changes[0]))

	assert.Empty(t, b.MissingDeps())
	assert.Equal(t, a.Heads(), b.Heads())
	assert.Equal(t, int64(2), mustGet(t, b, Root, Key("k")).Scalar().AsInt())

	// applying again is a no-op
	require.NoError(t, b.ApplyChanges(changes...))
	assert.Len(t, b.Changes(), 3)
}

func TestMaterializeAndFork(t *testing.T) {
	a := NewWithActor(actorA)
	commit(t, a, func(tx *Transaction) error {
		l, err := tx.PutObject(Root, Key("list"), ObjList)
		if err != nil {
			return err
		}
		require.NoError(t, tx.Splice(l, 0, 0, types.Int(1), types.Bool(true), types.Null()))
		txt, err := tx.PutObject(Root, Key("text"), ObjText)
		if err != nil {
			return err
		}
		return tx.SpliceText(txt, 0, 0, "hi")
	})

	got, err := a.Materialize(Root)
	require.NoError(t, err)
	want := map[string]any{
		"list": []any{int64(1), true, nil},
		"text": "hi",
	}
	assert.Equal(t, want, got)

	b := a.Fork()
	assert.NotEqual(t, a.Actor(), b.Actor())
	commit(t, b, func(tx *Transaction) error { return tx.Put(Root, Key("only"), types.Int(1)) })
	assert.Equal(t, []string{"list", "text"}, keys(a, Root))
	assert.Equal(t, []string{"list", "only", "text"}, keys(b, Root))
	assert.Len(t, a.ChangesSince(a.Heads()), 0)
	assert.Len(t, b.ChangesSince(a.Heads()), 1)
}
