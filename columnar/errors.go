package columnar

import (
	"errors"
	"fmt"
)

// ErrDecode is wrapped by every error produced while reading a malformed
// buffer.
var ErrDecode = errors.New("columnar decode error")

func decodeErr(offset int, format string, a ...any) error {
	return fmt.Errorf("%w at byte %d: %s", ErrDecode, offset, fmt.Sprintf(format, a...))
}
