package rawdb

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

// PebbleDB is an on-disk Database backed by cockroachdb/pebble, the
// second Backend implementation the engine can be constructed against
// alongside MemoryDB (SPEC_FULL.md §4.13).
type PebbleDB struct {
	db *pebble.DB
}

// OpenPebbleDB opens (creating if necessary) a pebble database at dir.
func OpenPebbleDB(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = v
	return true, closer.Close()
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, closer.Close()
}

func (p *PebbleDB) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.NoSync)
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.NoSync)
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// NewBatch creates a new batch writer.
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{db: p.db, batch: p.db.NewBatch()}
}

// NewIterator returns an iterator over all keys with the given prefix.
func (p *PebbleDB) NewIterator(prefix []byte) Iterator {
	upper := upperBound(prefix)
	it, _ := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	it.First()
	return &pebbleIterator{it: it, started: true}
}

// upperBound returns the smallest key greater than every key sharing
// prefix, or nil if prefix is all 0xff bytes (meaning "no upper bound").
func upperBound(prefix []byte) []byte {
	ub := make([]byte, len(prefix))
	copy(ub, prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
	size  int
}

func (b *pebbleBatch) Put(key, value []byte) error {
	b.size += len(key) + len(value)
	return b.batch.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	b.size += len(key)
	return b.batch.Delete(key, nil)
}

func (b *pebbleBatch) ValueSize() int { return b.size }

func (b *pebbleBatch) Write() error {
	return b.batch.Commit(pebble.NoSync)
}

func (b *pebbleBatch) Reset() {
	b.batch.Reset()
	b.size = 0
}

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if it.started {
		it.started = false
		return it.it.Valid()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte {
	return bytes.Clone(it.it.Key())
}

func (it *pebbleIterator) Value() []byte {
	return bytes.Clone(it.it.Value())
}

func (it *pebbleIterator) Release() {
	it.it.Close()
}
