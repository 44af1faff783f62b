package doc

// AutoCommit is a Document with an implicit transaction. The first write
// opens it, and it is committed by Commit and by every call that needs a
// settled history: Heads, Save, Merge, change export and Fork.
//
// An AutoCommit is not safe for concurrent use.
type AutoCommit struct {
	doc *Document
	tx  *Transaction
}

func NewAutoCommit() *AutoCommit {
	return &AutoCommit{doc: New()}
}

// AutoCommitFor wraps an existing document.
func AutoCommitFor(d *Document) *AutoCommit {
	return &AutoCommit{doc: d}
}

func LoadAutoCommit(data []byte) (*AutoCommit, error) {
	d, err := Load(data)
	if err != nil {
		return nil, err
	}
	return AutoCommitFor(d), nil
}

func (a *AutoCommit) txn() *Transaction {
	if a.tx == nil {
		a.tx = a.doc.Transaction()
	}
	return a.tx
}

// reader reads through the open transaction, if any.
func (a *AutoCommit) reader() *Reader {
	if a.tx != nil {
		return &a.tx.Reader
	}
	return &a.doc.Reader
}

// Commit commits the pending writes, if there are any.
func (a *AutoCommit) Commit() (ChangeHash, bool) {
	return a.CommitWith(CommitOptions{})
}

func (a *AutoCommit) CommitWith(opts CommitOptions) (ChangeHash, bool) {
	tx := a.tx
	if tx == nil {
		return ChangeHash{}, false
	}
	a.tx = nil
	if tx.Pending() == 0 {
		tx.Close()
		return ChangeHash{}, false
	}
	h, err := tx.CommitWith(opts)
	return h, err == nil
}

// Rollback discards the pending writes and returns how many there were.
func (a *AutoCommit) Rollback() int {
	if a.tx == nil {
		return 0
	}
	n := a.tx.rollback(true)
	a.tx = nil
	return n
}

// PendingOps is the number of uncommitted writes.
func (a *AutoCommit) PendingOps() int {
	if a.tx == nil {
		return 0
	}
	return a.tx.Pending()
}

// Document commits the pending writes and returns the underlying document.
func (a *AutoCommit) Document() *Document {
	a.Commit()
	return a.doc
}

func (a *AutoCommit) Actor() ActorId {
	if a.tx != nil {
		return a.doc.actor
	}
	return a.doc.Actor()
}

func (a *AutoCommit) SetActor(actor ActorId) {
	a.Commit()
	a.doc.SetActor(actor)
}

func (a *AutoCommit) Heads() []ChangeHash {
	return a.Document().Heads()
}

func (a *AutoCommit) Fork() *AutoCommit {
	return AutoCommitFor(a.Document().Fork())
}

func (a *AutoCommit) Save() []byte {
	return a.Document().Save()
}

func (a *AutoCommit) SaveIncremental() []byte {
	return a.Document().SaveIncremental()
}

func (a *AutoCommit) LoadIncremental(data []byte) (int, error) {
	return a.Document().LoadIncremental(data)
}

func (a *AutoCommit) Changes() []*Change {
	return a.Document().Changes()
}

func (a *AutoCommit) ChangesSince(heads []ChangeHash) []*Change {
	return a.Document().ChangesSince(heads)
}

func (a *AutoCommit) ApplyChanges(changes ...*Change) error {
	return a.Document().ApplyChanges(changes...)
}

// Merge commits both sides and applies the changes of other that a lacks.
func (a *AutoCommit) Merge(other *AutoCommit) error {
	return a.Document().Merge(other.Document())
}

func (a *AutoCommit) Put(obj ExId, prop Prop, v ScalarValue) error {
	return a.txn().Put(obj, prop, v)
}

func (a *AutoCommit) PutObject(obj ExId, prop Prop, t ObjType) (ExId, error) {
	return a.txn().PutObject(obj, prop, t)
}

func (a *AutoCommit) Insert(obj ExId, index int, v ScalarValue) error {
	return a.txn().Insert(obj, index, v)
}

func (a *AutoCommit) InsertObject(obj ExId, index int, t ObjType) (ExId, error) {
	return a.txn().InsertObject(obj, index, t)
}

func (a *AutoCommit) Delete(obj ExId, prop Prop) error {
	return a.txn().Delete(obj, prop)
}

func (a *AutoCommit) Increment(obj ExId, prop Prop, by int64) error {
	return a.txn().Increment(obj, prop, by)
}

func (a *AutoCommit) Splice(obj ExId, pos, del int, vals ...ScalarValue) error {
	return a.txn().Splice(obj, pos, del, vals...)
}

func (a *AutoCommit) SpliceText(obj ExId, pos, del int, text string) error {
	return a.txn().SpliceText(obj, pos, del, text)
}

// Reads see pending writes. At forms read committed history only.

func (a *AutoCommit) Get(obj ExId, prop Prop) (Value, ExId, bool, error) {
	return a.reader().Get(obj, prop)
}

func (a *AutoCommit) GetAt(obj ExId, prop Prop, heads []ChangeHash) (Value, ExId, bool, error) {
	return a.reader().GetAt(obj, prop, heads)
}

func (a *AutoCommit) GetAll(obj ExId, prop Prop) ([]ValueId, error) {
	return a.reader().GetAll(obj, prop)
}

func (a *AutoCommit) Keys(obj ExId) *Keys {
	return a.reader().Keys(obj)
}

func (a *AutoCommit) MapRange(obj ExId, rng KeyRange) *MapRange {
	return a.reader().MapRange(obj, rng)
}

func (a *AutoCommit) ListRange(obj ExId, rng IndexRange) *ListRange {
	return a.reader().ListRange(obj, rng)
}

func (a *AutoCommit) Values(obj ExId) *Values {
	return a.reader().Values(obj)
}

func (a *AutoCommit) Length(obj ExId) int {
	return a.reader().Length(obj)
}

func (a *AutoCommit) Text(obj ExId) (string, error) {
	return a.reader().Text(obj)
}

func (a *AutoCommit) TextAt(obj ExId, heads []ChangeHash) (string, error) {
	return a.reader().TextAt(obj, heads)
}

func (a *AutoCommit) ObjectType(obj ExId) (ObjType, bool) {
	return a.reader().ObjectType(obj)
}

func (a *AutoCommit) Materialize(obj ExId) (any, error) {
	return a.reader().Materialize(obj)
}
