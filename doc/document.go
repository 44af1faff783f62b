// Package doc is a JSON-like CRDT document: nested maps, lists, text and
// scalar values that any number of replicas edit independently and merge
// without conflicts.
//
// Writes happen in a Transaction, which holds the document exclusively until
// it is committed or rolled back. Every read has a current form and an At
// form that reads the version named by a set of change hashes.
package doc

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/kevinxiao27/egdoc/ol"
	"github.com/kevinxiao27/egdoc/opset"
)

type Document struct {
	Reader

	mu    sync.RWMutex
	actor ActorId
	ops   *opset.OpSet
	hist  *ol.History
	// saved are the heads at the last Save or SaveIncremental.
	saved []ChangeHash
}

func New() *Document {
	return NewWithActor(NewActorId())
}

func NewWithActor(actor ActorId) *Document {
	return newDocument(actor, opset.New(), ol.NewHistory())
}

func newDocument(actor ActorId, ops *opset.OpSet, hist *ol.History) *Document {
	d := &Document{actor: actor, ops: ops, hist: hist}
	d.Reader = Reader{
		mu:    &d.mu,
		state: func() state { return state{ops: d.ops, hist: d.hist} },
	}
	return d
}

func (d *Document) Actor() ActorId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.actor
}

// SetActor changes the actor used by later transactions.
func (d *Document) SetActor(actor ActorId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actor = actor
}

// Fork returns an independent copy of d with a fresh actor.
func (d *Document) Fork() *Document {
	return d.ForkWithActor(NewActorId())
}

func (d *Document) ForkWithActor(actor ActorId) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	return newDocument(actor, d.ops.Fork(), d.hist.Clone())
}

// Changes returns every change of the document in causal order.
func (d *Document) Changes() []*Change {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.Changes()
}

// ChangesSince returns the changes not included in the version heads.
func (d *Document) ChangesSince(heads []ChangeHash) []*Change {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.ChangesSince(heads)
}

func (d *Document) Change(hash ChangeHash) (*Change, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.Get(hash)
}

// MissingDeps lists the changes that queued changes, or heads, refer to but
// that d has not seen.
func (d *Document) MissingDeps(heads ...ChangeHash) []ChangeHash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.MissingDeps(heads...)
}

// Transaction opens a transaction. It blocks until no other transaction is
// open and no read is in progress, and holds the document until the
// transaction is resolved; reads through d wait for it meanwhile.
func (d *Document) Transaction() *Transaction {
	d.mu.Lock()
	return newTransaction(d)
}

// Update runs fn in a transaction. The transaction is committed when fn
// returns nil and rolled back when fn returns an error or panics. When fn
// commits the transaction itself, its hash is returned along with any error
// fn returns.
func (d *Document) Update(fn func(tx *Transaction) error) (hash ChangeHash, err error) {
	tx := d.Transaction()
	defer func() {
		if r := recover(); r != nil {
			tx.rollback(false)
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		if tx.state == txCommitted {
			return tx.hash, err
		}
		tx.rollback(false)
		return ChangeHash{}, err
	}
	if tx.resolved() {
		return tx.hash, nil
	}
	return tx.Commit()
}

// ApplyChanges applies changes from another replica. Changes whose deps are
// missing are kept until the deps arrive.
func (d *Document) ApplyChanges(changes ...*Change) error {
	return d.ApplyChangesWith(nil, changes...)
}

// ApplyChangesWith applies changes and reports every op that became part
// of the document to observer. On a malformed change d is left unchanged.
func (d *Document) ApplyChangesWith(observer OpObserver, changes ...*Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	hist := d.hist.Clone()
	applied, err := hist.Push(changes...)
	return d.applyLocked(observer, hist, applied, err)
}

// applyLocked folds the ops of changes just pushed onto hist into the
// document, then installs hist.
func (d *Document) applyLocked(observer OpObserver, hist *ol.History, applied []*Change, pushErr error) error {
	if len(applied) == 0 {
		if pushErr == nil {
			d.hist = hist
		}
		return pushErr
	}

	fork := d.ops.Fork()
	var observed []ObservedOp
	for _, c := range applied {
		actor := fork.ActorIndex(c.Actor)
		for i, cop := range c.Ops {
			op := importOp(fork, cop, opset.OpId{Counter: c.StartOp + uint64(i), Actor: actor})
			if err := fork.Apply(op); err != nil {
				return fmt.Errorf("apply change %s: %w", c.Hash(), err)
			}
			if observer != nil {
				observed = append(observed, observe(fork, op))
			}
		}
	}
	fork.Seal()
	d.ops = fork
	d.hist = hist
	recordApplied(len(applied))
	glog.V(1).Infof("applied %d changes, heads now %v", len(applied), d.hist.Heads())

	for _, o := range observed {
		observer.Observe(o)
	}
	return pushErr
}

func importOp(s *opset.OpSet, cop ol.ChangeOp, id opset.OpId) opset.Op {
	op := opset.Op{
		Id:     id,
		Obj:    opset.ObjId(s.ImportId(cop.Obj)),
		Insert: cop.Insert,
		Action: cop.Action,
		Value:  cop.Value,
	}
	if cop.Key.Seq {
		op.Key = opset.SeqKey(s.ImportId(cop.Key.Elem))
	} else {
		op.Key = opset.MapKey(cop.Key.Prop)
	}
	for _, p := range cop.Pred {
		op.Pred = append(op.Pred, s.ImportId(p))
	}
	return op
}

func exportOp(s *opset.OpSet, op opset.Op) ol.ChangeOp {
	cop := ol.ChangeOp{
		Obj:    s.ExportId(op.Obj.Op()),
		Insert: op.Insert,
		Action: op.Action,
		Value:  op.Value,
	}
	if op.Key.Seq {
		cop.Key = ol.SeqKey(s.ExportId(op.Key.Elem))
	} else {
		cop.Key = ol.MapKey(op.Key.Prop)
	}
	for _, p := range op.Pred {
		cop.Pred = append(cop.Pred, s.ExportId(p))
	}
	return cop
}

func observe(s *opset.OpSet, op opset.Op) ObservedOp {
	key := op.Key
	if op.Insert {
		key = opset.SeqKey(op.Id)
	}
	return observedOp(s, op, s.Prop(op.Obj, key))
}

func observedOp(s *opset.OpSet, op opset.Op, prop Prop) ObservedOp {
	return ObservedOp{
		Obj:    s.ExportId(op.Obj.Op()),
		Prop:   prop,
		Id:     s.ExportId(op.Id),
		Action: op.Action,
		Insert: op.Insert,
		Value:  op.ValueAt(nil),
	}
}

// Merge applies every change of other that d lacks.
func (d *Document) Merge(other *Document) error {
	if other == d {
		return nil
	}
	other.mu.RLock()
	src := other.hist.Clone()
	other.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	hist := d.hist.Clone()
	applied, err := ol.MergeInto(hist, src)
	return d.applyLocked(nil, hist, applied, err)
}
