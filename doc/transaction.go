package doc

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/kevinxiao27/egdoc/ol"
	"github.com/kevinxiao27/egdoc/opset"
	"github.com/kevinxiao27/egdoc/types"
)

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

type pendingOp struct {
	op   opset.Op
	prop Prop
}

// Transaction is a single-use batch of writes against one Document. Until it
// is resolved it holds the document's lock, and its writes live in a private
// fork of the document's ops that reads through the transaction see.
//
// Callers should defer Close right after opening a transaction, so an early
// return rolls it back.
type Transaction struct {
	Reader

	doc     *Document
	ops     *opset.OpSet
	actor   uint32
	seq     uint64
	startOp uint64
	deps    []ChangeHash
	pending []pendingOp
	state   txState
	hash    ChangeHash
	lease   *txLease
}

// txLease is the transaction's hold on the document lock. It is kept apart
// from the Transaction so a cleanup can release the lock of a transaction
// that was dropped unresolved.
type txLease struct {
	doc  *Document
	held atomic.Bool
}

// release unlocks the document once, reporting whether this call did.
func (l *txLease) release() bool {
	if !l.held.CompareAndSwap(true, false) {
		return false
	}
	l.doc.mu.Unlock()
	return true
}

func releaseAbandoned(l *txLease) {
	if l.release() {
		recordRollback(false)
		glog.Warning("transaction garbage collected without Commit, Rollback or Close; rolled back")
	}
}

func newTransaction(d *Document) *Transaction {
	fork := d.ops.Fork()
	tx := &Transaction{
		doc:     d,
		ops:     fork,
		actor:   fork.ActorIndex(d.actor),
		seq:     d.hist.Seq(d.actor) + 1,
		startOp: fork.MaxOp() + 1,
		deps:    d.hist.Heads(),
		lease:   &txLease{doc: d},
	}
	tx.lease.held.Store(true)
	tx.Reader = Reader{
		mu:       noLock{},
		state:    func() state { return state{ops: tx.ops, hist: d.hist} },
		freeze:   true,
		resolved: tx.resolved,
	}
	runtime.AddCleanup(tx, releaseAbandoned, tx.lease)
	return tx
}

// CommitOptions annotate the change a commit produces.
type CommitOptions struct {
	Message string
	// Time defaults to the wall clock.
	Time     time.Time
	Observer OpObserver
}

// Pending is the number of ops written so far.
func (tx *Transaction) Pending() int { return len(tx.pending) }

func (tx *Transaction) resolved() bool { return tx.state != txOpen }

func (tx *Transaction) Commit() (ChangeHash, error) {
	return tx.CommitWith(CommitOptions{})
}

// CommitWith folds the pending ops into the document as one change whose
// deps are the heads at the time the transaction was opened, and releases
// the document.
func (tx *Transaction) CommitWith(opts CommitOptions) (ChangeHash, error) {
	if tx.resolved() {
		return ChangeHash{}, ErrTransactionDone
	}
	d := tx.doc
	defer tx.lease.release()

	when := opts.Time
	if when.IsZero() {
		when = time.Now()
	}
	ops := make([]ol.ChangeOp, len(tx.pending))
	for i, p := range tx.pending {
		ops[i] = exportOp(tx.ops, p.op)
	}
	change := ol.NewChange(ol.Change{
		Actor:   d.actor,
		Seq:     tx.seq,
		StartOp: tx.startOp,
		Time:    when.Unix(),
		Message: opts.Message,
		Deps:    tx.deps,
		Ops:     ops,
	})
	if err := d.hist.Append(change); err != nil {
		// deps and seq were read under the lock we still hold
		glog.Errorf("commit %s: %v", change.Hash(), err)
		tx.state = txRolledBack
		return ChangeHash{}, fmt.Errorf("commit: %w", err)
	}
	tx.ops.Seal()
	d.ops = tx.ops
	tx.state = txCommitted
	tx.hash = change.Hash()
	recordCommit(len(ops))
	glog.V(1).Infof("commit %s: actor %s seq %d, %d ops", tx.hash, d.actor, tx.seq, len(ops))

	if opts.Observer != nil {
		for _, p := range tx.pending {
			opts.Observer.Observe(observedOp(tx.ops, p.op, p.prop))
		}
	}
	tx.pending = nil
	return tx.hash, nil
}

// Rollback discards the pending ops, releases the document and returns the
// number of ops discarded.
func (tx *Transaction) Rollback() (int, error) {
	if tx.resolved() {
		return 0, ErrTransactionDone
	}
	return tx.rollback(true), nil
}

func (tx *Transaction) rollback(explicit bool) int {
	if tx.resolved() {
		return 0
	}
	n := len(tx.pending)
	tx.pending = nil
	tx.ops = nil
	tx.state = txRolledBack
	tx.lease.release()
	recordRollback(explicit)
	glog.V(1).Infof("rollback: %d ops discarded", n)
	return n
}

// Close rolls back the transaction unless it was committed or rolled back.
func (tx *Transaction) Close() {
	tx.rollback(false)
}

func (tx *Transaction) object(obj ExId) (opset.ObjId, error) {
	if tx.resolved() {
		return opset.Root, ErrTransactionDone
	}
	o, ok := tx.ops.LookupObj(obj)
	if !ok {
		return opset.Root, fmt.Errorf("object %s: %w", obj, ErrNotFound)
	}
	return o, nil
}

func (tx *Transaction) apply(obj opset.ObjId, key opset.Key, insert bool, action types.Action, v ScalarValue, pred []opset.Op, prop Prop) (opset.OpId, error) {
	id := opset.OpId{Counter: tx.startOp + uint64(len(tx.pending)), Actor: tx.actor}
	op := opset.Op{Id: id, Obj: obj, Key: key, Insert: insert, Action: action, Value: v}
	for _, p := range pred {
		op.Pred = append(op.Pred, p.Id)
	}
	if err := tx.ops.Apply(op); err != nil {
		return opset.OpId{}, err
	}
	tx.pending = append(tx.pending, pendingOp{op: op, prop: prop})
	if glog.V(2) {
		glog.Infof("tx op %s: %s %s in %s", id, action, prop, tx.ops.ExportId(obj.Op()))
	}
	return id, nil
}

// Put writes a scalar at prop. Writing the value already there, with no
// conflict, is a no-op.
func (tx *Transaction) Put(obj ExId, prop Prop, v ScalarValue) error {
	o, err := tx.object(obj)
	if err != nil {
		return err
	}
	key, visible, err := tx.ops.Lookup(o, prop, nil)
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", prop, obj, err)
	}
	if len(visible) == 1 && len(visible[0].Succ) == 0 && !visible[0].ValueAt(nil).IsObject() && visible[0].Value.Equal(v) {
		return nil
	}
	_, err = tx.apply(o, key, false, types.ActionPut, v, visible, prop)
	return err
}

// PutObject creates an empty object at prop and returns its id.
func (tx *Transaction) PutObject(obj ExId, prop Prop, t ObjType) (ExId, error) {
	o, err := tx.object(obj)
	if err != nil {
		return ExId{}, err
	}
	key, visible, err := tx.ops.Lookup(o, prop, nil)
	if err != nil {
		return ExId{}, fmt.Errorf("put object %s in %s: %w", prop, obj, err)
	}
	id, err := tx.apply(o, key, false, types.MakeAction(t), types.Null(), visible, prop)
	if err != nil {
		return ExId{}, err
	}
	return tx.ops.ExportId(id), nil
}

// Insert adds a scalar at index, shifting later elements.
func (tx *Transaction) Insert(obj ExId, index int, v ScalarValue) error {
	_, err := tx.insert(obj, index, types.ActionPut, v)
	return err
}

// InsertObject adds an empty object at index and returns its id.
func (tx *Transaction) InsertObject(obj ExId, index int, t ObjType) (ExId, error) {
	id, err := tx.insert(obj, index, types.MakeAction(t), types.Null())
	if err != nil {
		return ExId{}, err
	}
	return tx.ops.ExportId(id), nil
}

func (tx *Transaction) insert(obj ExId, index int, action types.Action, v ScalarValue) (opset.OpId, error) {
	o, err := tx.object(obj)
	if err != nil {
		return opset.OpId{}, err
	}
	key, err := tx.ops.InsertKey(o, index)
	if err != nil {
		return opset.OpId{}, fmt.Errorf("insert at %d in %s: %w", index, obj, err)
	}
	return tx.apply(o, key, true, action, v, nil, Index(index))
}

// Delete removes prop. Deleting an absent map key does nothing.
func (tx *Transaction) Delete(obj ExId, prop Prop) error {
	o, err := tx.object(obj)
	if err != nil {
		return err
	}
	key, visible, err := tx.ops.Lookup(o, prop, nil)
	if err != nil {
		return fmt.Errorf("delete %s in %s: %w", prop, obj, err)
	}
	if len(visible) == 0 {
		return nil
	}
	_, err = tx.apply(o, key, false, types.ActionDelete, types.Null(), visible, prop)
	return err
}

// Increment adds by to the counter at prop.
func (tx *Transaction) Increment(obj ExId, prop Prop, by int64) error {
	o, err := tx.object(obj)
	if err != nil {
		return err
	}
	key, visible, err := tx.ops.Lookup(o, prop, nil)
	if err != nil {
		return fmt.Errorf("increment %s in %s: %w", prop, obj, err)
	}
	if len(visible) == 0 {
		return fmt.Errorf("increment %s in %s: no counter: %w", prop, obj, ErrNotFound)
	}
	for _, op := range visible {
		if op.ValueAt(nil).IsObject() || !op.Value.IsCounter() {
			return fmt.Errorf("increment %s in %s: not a counter: %w", prop, obj, ErrWrongType)
		}
	}
	_, err = tx.apply(o, key, false, types.ActionIncrement, types.Int(by), visible, prop)
	return err
}

// Splice deletes del elements at pos and inserts vals there.
func (tx *Transaction) Splice(obj ExId, pos, del int, vals ...ScalarValue) error {
	o, err := tx.object(obj)
	if err != nil {
		return err
	}
	info, _ := tx.ops.Object(o)
	if !info.Type.IsSequence() {
		return fmt.Errorf("splice %s: %w", info.Type, ErrWrongType)
	}
	if n := tx.ops.Length(o, nil); pos < 0 || del < 0 || pos+del > n {
		return fmt.Errorf("splice %d+%d of %d elements: %w", pos, del, n, ErrOutOfRange)
	}
	for i := 0; i < del; i++ {
		key, visible, err := tx.ops.Lookup(o, Index(pos), nil)
		if err != nil {
			return fmt.Errorf("splice delete at %d: %w", pos, err)
		}
		if _, err := tx.apply(o, key, false, types.ActionDelete, types.Null(), visible, Index(pos)); err != nil {
			return err
		}
	}
	for i, v := range vals {
		if _, err := tx.insert(obj, pos+i, types.ActionPut, v); err != nil {
			return err
		}
	}
	return nil
}

// SpliceText is Splice on a text object with one element per rune of text.
func (tx *Transaction) SpliceText(obj ExId, pos, del int, text string) error {
	o, err := tx.object(obj)
	if err != nil {
		return err
	}
	if info, _ := tx.ops.Object(o); info.Type != types.ObjText {
		return fmt.Errorf("splice text into %s: %w", info.Type, ErrWrongType)
	}
	vals := make([]ScalarValue, 0, len(text))
	for _, r := range text {
		vals = append(vals, types.Str(string(r)))
	}
	return tx.Splice(obj, pos, del, vals...)
}
