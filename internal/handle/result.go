package handle

import (
	"errors"

	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/types"
)

type Status int

const (
	StatusOk Status = iota
	StatusError
	StatusInvalidHandle
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusInvalidHandle:
		return "invalid handle"
	default:
		return "error"
	}
}

// Result boxes the outcome of one call: a value on success, the error
// otherwise.
type Result struct {
	Status Status
	Value  any
	Err    error
}

func ok(v any) Result { return Result{Status: StatusOk, Value: v} }

func fail(err error) Result {
	if errors.Is(err, ErrInvalidHandle) {
		return Result{Status: StatusInvalidHandle, Err: err}
	}
	return Result{Status: StatusError, Err: err}
}

func (r Result) Ok() bool { return r.Status == StatusOk }

// Message is the error text, or "" on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// New creates a document with a fresh actor and returns its handle.
func (t *Table) New() Handle {
	return t.Create(doc.NewAutoCommit())
}

// Load decodes saved bytes into a new document; the Result holds its Handle.
func (t *Table) Load(data []byte) Result {
	d, err := doc.LoadAutoCommit(data)
	if err != nil {
		return fail(err)
	}
	return ok(t.Create(d))
}

// Put writes a scalar at key of the map obj.
func (t *Table) Put(h Handle, obj, key string, v types.ScalarValue) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		id, err := ObjID(obj)
		if err != nil {
			return nil, err
		}
		return nil, d.Put(id, doc.Key(key), v)
	})
}

// Get reads the winning value at key; the Result holds a doc.Value, or nil
// when nothing is there.
func (t *Table) Get(h Handle, obj, key string) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		id, err := ObjID(obj)
		if err != nil {
			return nil, err
		}
		v, _, found, err := d.Get(id, doc.Key(key))
		if err != nil || !found {
			return nil, err
		}
		return v, nil
	})
}

// PutText creates an empty text object at key; the Result holds its id as a
// string.
func (t *Table) PutText(h Handle, obj, key string) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		id, err := ObjID(obj)
		if err != nil {
			return nil, err
		}
		text, err := d.PutObject(id, doc.Key(key), doc.ObjText)
		if err != nil {
			return nil, err
		}
		return text.String(), nil
	})
}

func (t *Table) Text(h Handle, obj string) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		id, err := ObjID(obj)
		if err != nil {
			return nil, err
		}
		return d.Text(id)
	})
}

// Keys lists the keys of the map obj; the Result holds a []string.
func (t *Table) Keys(h Handle, obj string) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		id, err := ObjID(obj)
		if err != nil {
			return nil, err
		}
		keys := []string{}
		for k := range d.Keys(id).All() {
			keys = append(keys, k)
		}
		return keys, nil
	})
}

// Splice edits the text object obj. text is foreign text.
func (t *Table) Splice(h Handle, obj string, pos, del int, text []byte) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		id, err := ObjID(obj)
		if err != nil {
			return nil, err
		}
		return nil, d.SpliceText(id, pos, del, ToText(text))
	})
}

// Commit commits pending writes; the Result holds the new ChangeHash, or nil
// when nothing was pending.
func (t *Table) Commit(h Handle, message []byte) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		hash, committed := d.CommitWith(doc.CommitOptions{Message: ToText(message)})
		if !committed {
			return nil, nil
		}
		return hash, nil
	})
}

// Save encodes the document; the Result holds the bytes.
func (t *Table) Save(h Handle) Result {
	return t.with(h, func(d *doc.AutoCommit) (any, error) {
		return d.Save(), nil
	})
}
