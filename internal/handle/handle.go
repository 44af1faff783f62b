// Package handle exposes documents to foreign callers as opaque integer
// handles. Every call returns a Result instead of an error or a panic, so a
// stale or zero handle never reaches a document.
package handle

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/types"
)

var ErrInvalidHandle = errors.New("invalid document handle")

// Handle names a document in a Table. The zero handle is never valid.
type Handle uint64

// Table owns the documents handed out to foreign callers. It is safe for
// concurrent use; calls on one document are serialized.
type Table struct {
	mu   sync.Mutex
	next Handle
	docs map[Handle]*entry
}

type entry struct {
	mu  sync.Mutex
	doc *doc.AutoCommit
}

func NewTable() *Table {
	return &Table{docs: make(map[Handle]*entry)}
}

// Create registers d and returns its handle.
func (t *Table) Create(d *doc.AutoCommit) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.docs[t.next] = &entry{doc: d}
	glog.V(1).Infof("[handle]create %d", t.next)
	return t.next
}

// Release forgets h. Pending writes of its document are committed first.
func (t *Table) Release(h Handle) error {
	t.mu.Lock()
	e, ok := t.docs[h]
	delete(t.docs, h)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc.Commit()
	glog.V(1).Infof("[handle]release %d", h)
	return nil
}

func (t *Table) Get(h Handle) (*doc.AutoCommit, error) {
	e, err := t.entry(h)
	if err != nil {
		return nil, err
	}
	return e.doc, nil
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.docs)
}

func (t *Table) entry(h Handle) (*entry, error) {
	if h == 0 {
		return nil, fmt.Errorf("%w: zero handle", ErrInvalidHandle)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.docs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return e, nil
}

// with runs fn on the document of h, holding that document for the call.
func (t *Table) with(h Handle, fn func(d *doc.AutoCommit) (any, error)) Result {
	e, err := t.entry(h)
	if err != nil {
		return fail(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := fn(e.doc)
	if err != nil {
		return fail(err)
	}
	return ok(v)
}

// ToText converts foreign text to a Go string. It stops at the first NUL and
// replaces invalid UTF-8 with U+FFFD.
func ToText(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.ToValidUTF8(string(b), "\ufffd")
}

// ObjID parses an object id. The empty string names the root.
func ObjID(s string) (types.ExId, error) {
	return types.ParseExId(s)
}
