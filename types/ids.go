// Package types holds the identifiers and values shared by every layer of the
// document engine: actors, change hashes, exported object ids, scalar values
// and properties.
package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// comparable
type ActorId [16]byte

func NewActorId() ActorId {
	return ActorId(ulid.Make())
}

func ActorIdFromBytes(actorBytes []byte) (ActorId, error) {
	if len(actorBytes) != len(ActorId{}) {
		return ActorId{}, errors.New("actor id must be 16 bytes")
	}
	return ActorId(actorBytes), nil
}

func ParseActorId(s string) (ActorId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ActorId{}, fmt.Errorf("parse actor id: %w", err)
	}
	return ActorIdFromBytes(b)
}

func (a ActorId) Bytes() []byte {
	return a[:]
}

func (a ActorId) String() string {
	return hex.EncodeToString(a[:])
}

func (a ActorId) Compare(b ActorId) int {
	return bytes.Compare(a[:], b[:])
}

// ChangeHash is the SHA-256 of an encoded change.
type ChangeHash [32]byte

func ParseChangeHash(s string) (ChangeHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ChangeHash{}, fmt.Errorf("parse change hash: %w", err)
	}
	if len(b) != len(ChangeHash{}) {
		return ChangeHash{}, errors.New("change hash must be 32 bytes")
	}
	return ChangeHash(b), nil
}

func (h ChangeHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h ChangeHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *ChangeHash) UnmarshalText(text []byte) error {
	parsed, err := ParseChangeHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h ChangeHash) Compare(o ChangeHash) int {
	return bytes.Compare(h[:], o[:])
}

// SortHashes sorts hashes in place and returns them.
func SortHashes(hashes []ChangeHash) []ChangeHash {
	slices.SortFunc(hashes, ChangeHash.Compare)
	return hashes
}

// ExId is the exported, replica-independent id of an operation or object.
// The zero value is the root object.
type ExId struct {
	Counter uint64
	Actor   ActorId
}

var Root = ExId{}

func (id ExId) IsRoot() bool {
	return id == Root
}

// Compare orders ids by counter, then actor bytes.
func (id ExId) Compare(o ExId) int {
	if id.Counter != o.Counter {
		if id.Counter < o.Counter {
			return -1
		}
		return 1
	}
	return id.Actor.Compare(o.Actor)
}

func (id ExId) String() string {
	if id.IsRoot() {
		return "_root"
	}
	return fmt.Sprintf("%d@%s", id.Counter, id.Actor)
}

func ParseExId(s string) (ExId, error) {
	if s == "" || s == "_root" {
		return Root, nil
	}
	ctr, actor, ok := strings.Cut(s, "@")
	if !ok {
		return ExId{}, fmt.Errorf("parse object id %q: missing actor", s)
	}
	counter, err := strconv.ParseUint(ctr, 10, 64)
	if err != nil {
		return ExId{}, fmt.Errorf("parse object id %q: %w", s, err)
	}
	a, err := ParseActorId(actor)
	if err != nil {
		return ExId{}, fmt.Errorf("parse object id %q: %w", s, err)
	}
	return ExId{Counter: counter, Actor: a}, nil
}

func (id ExId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ExId) UnmarshalText(text []byte) error {
	parsed, err := ParseExId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
