package doc

import (
	"bytes"
	"fmt"

	"github.com/kevinxiao27/egdoc/columnar"
	"github.com/kevinxiao27/egdoc/ol"
)

// magic starts every saved chunk. A length prefix is never zero, so the
// leading NUL cannot be mistaken for one.
var magic = []byte("\x00egdoc\x01")

func appendChanges(buf []byte, changes []*Change) []byte {
	buf = append(buf, magic...)
	for _, c := range changes {
		buf = columnar.AppendLengthPrefixed(buf, c.Bytes())
	}
	return buf
}

// Save encodes every change of the document in causal order.
func (d *Document) Save() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved = d.hist.Heads()
	return appendChanges(nil, d.hist.Changes())
}

// SaveIncremental encodes the changes made since the last Save or
// SaveIncremental. Appending its output to the saved bytes gives bytes that
// Load accepts.
func (d *Document) SaveIncremental() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	changes := d.hist.ChangesSince(d.saved)
	d.saved = d.hist.Heads()
	if len(changes) == 0 {
		return nil
	}
	return appendChanges(nil, changes)
}

// decodeChunks splits saved bytes into changes. It accepts any
// concatenation of Save and SaveIncremental outputs.
func decodeChunks(data []byte) ([]*Change, error) {
	var changes []*Change
	r := columnar.NewReader(data)
	for !r.Done() {
		if rest := data[r.Offset():]; bytes.HasPrefix(rest, magic) {
			if _, err := r.Bytes(uint64(len(magic))); err != nil {
				return nil, err
			}
			continue
		}
		if r.Offset() == 0 {
			return nil, fmt.Errorf("load: missing header: %w", columnar.ErrDecode)
		}
		b, err := r.LengthPrefixed()
		if err != nil {
			return nil, fmt.Errorf("load change %d: %w", len(changes), err)
		}
		c, err := ol.DecodeChange(b)
		if err != nil {
			return nil, fmt.Errorf("load change %d: %w", len(changes), err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// Load decodes saved bytes into a document with a fresh actor.
func Load(data []byte) (*Document, error) {
	return LoadWithActor(data, NewActorId())
}

func LoadWithActor(data []byte, actor ActorId) (*Document, error) {
	d := NewWithActor(actor)
	if _, err := d.LoadIncremental(data); err != nil {
		return nil, err
	}
	d.saved = d.hist.Heads()
	return d, nil
}

// LoadIncremental applies the changes in data and returns how many ops the
// document gained.
func (d *Document) LoadIncremental(data []byte) (int, error) {
	changes, err := decodeChunks(data)
	if err != nil {
		return 0, err
	}
	d.mu.RLock()
	before := d.ops.Len()
	d.mu.RUnlock()
	if err := d.ApplyChanges(changes...); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ops.Len() - before, nil
}
