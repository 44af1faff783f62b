package doc

import (
	"errors"

	"github.com/kevinxiao27/egdoc/opset"
)

var (
	ErrNotFound        = opset.ErrNotFound
	ErrWrongType       = opset.ErrWrongType
	ErrOutOfRange      = opset.ErrOutOfRange
	ErrTransactionDone = errors.New("transaction already committed or rolled back")
)
