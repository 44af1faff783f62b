// Package store persists document histories in badger. Each document is a
// log of encoded changes in the order they were applied, so replaying the log
// rebuilds the document without reordering.
//
// Keys of a document id live under "d/<id>/":
//
//	n            next log index
//	c/<index>    framed change bytes, index big endian
//	h/<hash>     log index of a change, for deduplication
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"
	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/ol"
)

var (
	ErrCorrupt      = errors.New("corrupt change record")
	ErrInvalidDocId = errors.New("invalid document id")
	ErrNoDocument   = errors.New("document not found")
)

const appendRetries = 3

type Store struct {
	db     *badger.DB
	stopGC context.CancelFunc
	gcDone chan struct{}
}

func Open(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		s.gcDone = make(chan struct{})
		go func() {
			defer close(s.gcDone)
			runGC(ctx, db, cfg.GCInterval, cfg.GCDiscardRatio)
		}()
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.stopGC != nil {
		s.stopGC()
		<-s.gcDone
	}
	return s.db.Close()
}

func checkDocId(id string) error {
	if id == "" || strings.ContainsAny(id, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidDocId, id)
	}
	return nil
}

func docPrefix(id string) []byte    { return []byte("d/" + id + "/") }
func nextKey(id string) []byte      { return append(docPrefix(id), 'n') }
func changePrefix(id string) []byte { return append(docPrefix(id), 'c', '/') }

func changeKey(id string, index uint64) []byte {
	return binary.BigEndian.AppendUint64(changePrefix(id), index)
}

func hashKey(id string, h doc.ChangeHash) []byte {
	return append(append(docPrefix(id), 'h', '/'), h[:]...)
}

func getUint(txn *badger.Txn, key []byte) (uint64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("%w: %s holds %d bytes", ErrCorrupt, key, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// Append adds changes to the log of document id, skipping changes it already
// holds, and returns how many were added.
func (s *Store) Append(ctx context.Context, id string, changes ...*doc.Change) (int, error) {
	if err := checkDocId(id); err != nil {
		return 0, err
	}
	var added int
	var err error
	for try := 0; try < appendRetries; try++ {
		if err = ctx.Err(); err != nil {
			return 0, err
		}
		added, err = s.appendOnce(id, changes)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		glog.V(1).Infof("[store]append %s: conflict, retrying", id)
	}
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", id, err)
	}
	if added > 0 {
		glog.V(1).Infof("[store]append %s: %d changes", id, added)
	}
	return added, nil
}

func (s *Store) appendOnce(id string, changes []*doc.Change) (int, error) {
	added := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		added = 0
		next, _, err := getUint(txn, nextKey(id))
		if err != nil {
			return err
		}
		for _, c := range changes {
			h := c.Hash()
			if _, ok, err := getUint(txn, hashKey(id, h)); err != nil {
				return err
			} else if ok {
				continue
			}
			idx := binary.BigEndian.AppendUint64(nil, next)
			if err := txn.Set(changeKey(id, next), frame(c.Bytes())); err != nil {
				return err
			}
			if err := txn.Set(hashKey(id, h), idx); err != nil {
				return err
			}
			next++
			added++
		}
		return txn.Set(nextKey(id), binary.BigEndian.AppendUint64(nil, next))
	})
	return added, err
}

// Changes returns the log of document id in append order.
func (s *Store) Changes(ctx context.Context, id string) ([]*doc.Change, error) {
	if err := checkDocId(id); err != nil {
		return nil, err
	}
	var changes []*doc.Change
	err := s.db.View(func(txn *badger.Txn) error {
		if _, ok, err := getUint(txn, nextKey(id)); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", ErrNoDocument, id)
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := changePrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			payload, err := unframe(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", item.Key(), err)
			}
			c, err := ol.DecodeChange(payload)
			if err != nil {
				return fmt.Errorf("%s: %w", item.Key(), err)
			}
			changes = append(changes, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return changes, nil
}

// Has reports whether document id has a log.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	if err := checkDocId(id); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, ok, err = getUint(txn, nextKey(id))
		return err
	})
	return ok, err
}

// Documents lists the ids of stored documents in byte order.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("d/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			// change and hash keys may end in "/n" too, but carry more slashes
			if rest, ok := bytes.CutSuffix(key[len(prefix):], []byte("/n")); ok && bytes.IndexByte(rest, '/') < 0 {
				ids = append(ids, string(rest))
			}
		}
		return nil
	})
	return ids, err
}

// Delete drops the whole log of document id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := checkDocId(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix(docPrefix(id))
}

// Load rebuilds document id with the given actor.
func (s *Store) Load(ctx context.Context, id string, actor doc.ActorId) (*doc.Document, error) {
	changes, err := s.Changes(ctx, id)
	if err != nil {
		return nil, err
	}
	d := doc.NewWithActor(actor)
	if err := d.ApplyChanges(changes...); err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return d, nil
}

// Save appends the changes of d that the log of id lacks.
func (s *Store) Save(ctx context.Context, id string, d *doc.Document) (int, error) {
	return s.Append(ctx, id, d.Changes()...)
}
