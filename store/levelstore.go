package store

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Maxnflaxl/beam/log"
)

// LevelStore wraps LevelDB for raw key-value persistence.
// Thread-safe: LevelDB handles its own synchronization.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewLevelStore(path string) (*LevelStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	log.Debug(log.StoreMonitoring, "variable store opened", "path", path)
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func (s *LevelStore) Load(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %x: %w", key, err)
	}
	return v, nil
}

func (s *LevelStore) Save(key, value []byte) error {
	if len(value) == 0 {
		return s.db.Delete(key, nil)
	}
	return s.db.Put(key, value, nil)
}

func (s *LevelStore) Enum(min, max []byte) (Iterator, error) {
	// leveldb ranges are half-open; extend the limit so max itself is
	// included
	limit := make([]byte, len(max), len(max)+1)
	copy(limit, max)
	limit = append(limit, 0)

	it := s.db.NewIterator(&util.Range{Start: min, Limit: limit}, nil)
	return &levelIterator{it: it}, nil
}

type levelIterator struct {
	it iterator.Iterator
}

func (li *levelIterator) Next() bool {
	return li.it.Next()
}

func (li *levelIterator) Key() []byte {
	k := li.it.Key()
	out := make([]byte, len(k))
	copy(out, k)
	return out
}

func (li *levelIterator) Value() []byte {
	v := li.it.Value()
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (li *levelIterator) Release() {
	li.it.Release()
}
