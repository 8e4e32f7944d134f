package store

import (
	"bytes"
	"sort"
)

// Staged is a write-capturing overlay over a backing Store. Reads see
// staged writes first; nothing touches the backing store until Commit.
// Deletes are staged as tombstones.
type Staged struct {
	backing Store
	writes  map[string][]byte // nil value = tombstone
}

func NewStaged(backing Store) *Staged {
	return &Staged{
		backing: backing,
		writes:  make(map[string][]byte),
	}
}

func (s *Staged) Load(key []byte) ([]byte, error) {
	if v, ok := s.writes[string(key)]; ok {
		if v == nil {
			return nil, nil
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return s.backing.Load(key)
}

func (s *Staged) Save(key, value []byte) error {
	if len(value) == 0 {
		s.writes[string(key)] = nil
		return nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.writes[string(key)] = v
	return nil
}

// Commit applies the staged writes to the backing store and resets the
// overlay.
func (s *Staged) Commit() error {
	keys := make([]string, 0, len(s.writes))
	for k := range s.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := s.backing.Save([]byte(k), s.writes[k]); err != nil {
			return err
		}
	}
	s.writes = make(map[string][]byte)
	return nil
}

// Discard drops all staged writes.
func (s *Staged) Discard() {
	s.writes = make(map[string][]byte)
}

// Writes returns the staged writes in key order. A nil value marks a
// delete.
func (s *Staged) Writes() []Write {
	keys := make([]string, 0, len(s.writes))
	for k := range s.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Write, len(keys))
	for i, k := range keys {
		out[i].Key = []byte(k)
		out[i].Value = s.writes[k]
	}
	return out
}

func (s *Staged) Enum(min, max []byte) (Iterator, error) {
	base, err := s.backing.Enum(min, max)
	if err != nil {
		return nil, err
	}

	var staged []sliceEntry
	for k, v := range s.writes {
		kb := []byte(k)
		if bytes.Compare(kb, min) >= 0 && bytes.Compare(kb, max) <= 0 {
			staged = append(staged, sliceEntry{key: kb, value: v})
		}
	}
	sort.Slice(staged, func(i, j int) bool {
		return bytes.Compare(staged[i].key, staged[j].key) < 0
	})

	return &mergeIterator{base: base, staged: staged}, nil
}

// mergeIterator yields the union of a base iterator and staged entries,
// staged entries shadowing base ones with the same key. Tombstones are
// skipped.
type mergeIterator struct {
	base       Iterator
	staged     []sliceEntry
	stagedPos  int
	baseValid  bool
	basePulled bool

	key   []byte
	value []byte
}

func (it *mergeIterator) pullBase() {
	if !it.basePulled {
		it.baseValid = it.base.Next()
		it.basePulled = true
	}
}

func (it *mergeIterator) Next() bool {
	for {
		it.pullBase()

		haveStaged := it.stagedPos < len(it.staged)
		if !it.baseValid && !haveStaged {
			return false
		}

		var useStaged bool
		if !it.baseValid {
			useStaged = true
		} else if haveStaged {
			switch bytes.Compare(it.staged[it.stagedPos].key, it.base.Key()) {
			case -1:
				useStaged = true
			case 0:
				useStaged = true
				it.basePulled = false // staged shadows base
			default:
				useStaged = false
			}
		}

		if useStaged {
			e := it.staged[it.stagedPos]
			it.stagedPos++
			if e.value == nil {
				continue // tombstone
			}
			it.key, it.value = e.key, e.value
			return true
		}

		it.key, it.value = it.base.Key(), it.base.Value()
		it.basePulled = false
		return true
	}
}

func (it *mergeIterator) Key() []byte   { return it.key }
func (it *mergeIterator) Value() []byte { return it.value }
func (it *mergeIterator) Release()      { it.base.Release() }
