package doc

// ObservedOp describes an op as it is folded into a document.
type ObservedOp struct {
	Obj    ExId
	Prop   Prop
	Id     ExId
	Action Action
	Insert bool
	// Value is the value written, or the increment for an Increment op.
	Value Value
}

// OpObserver is notified of every op applied to a document, in application
// order.
type OpObserver interface {
	Observe(op ObservedOp)
}

type OpObserverFunc func(op ObservedOp)

func (f OpObserverFunc) Observe(op ObservedOp) { f(op) }

// OpLog collects observed ops.
type OpLog struct {
	Ops []ObservedOp
}

func (l *OpLog) Observe(op ObservedOp) {
	l.Ops = append(l.Ops, op)
}
