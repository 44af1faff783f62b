package store

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const checksumLen = 8

// frame prefixes payload with its xxhash so torn or bit-flipped values are
// caught on read.
func frame(payload []byte) []byte {
	out := make([]byte, checksumLen, checksumLen+len(payload))
	binary.BigEndian.PutUint64(out, xxhash.Sum64(payload))
	return append(out, payload...)
}

func unframe(b []byte) ([]byte, error) {
	if len(b) < checksumLen {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrCorrupt, len(b))
	}
	want := binary.BigEndian.Uint64(b)
	payload := b[checksumLen:]
	if got := xxhash.Sum64(payload); got != want {
		return nil, fmt.Errorf("%w: checksum %016x, want %016x", ErrCorrupt, got, want)
	}
	return payload, nil
}
