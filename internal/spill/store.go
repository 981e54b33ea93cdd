package spill

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/pebble"
)

// ErrStoreEmpty is returned by Store.Pop when nothing is stored.
var ErrStoreEmpty = errors.New("spill: store empty")

// Store is the secondary FIFO a queue spills into.
type Store interface {
	Append(data []byte) error
	Pop() ([]byte, error)
	Len() int
	Close() error
}

// PebbleStore is a FIFO over a pebble database keyed by zero padded
// sequence numbers. Keys in [head, tail) are live. It is not safe for
// concurrent use; Queue serializes access.
type PebbleStore struct {
	db   *pebble.DB
	head uint64
	tail uint64
}

// OpenPebbleStore opens or creates a store in dir. A reopened directory
// resumes from the keys it already holds.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{DisableWAL: true})
	if err != nil {
		return nil, fmt.Errorf("open pebble spill store: %w", err)
	}

	s := &PebbleStore{db: db}
	if err := s.recover(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) recover() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return fmt.Errorf("iterate spill store: %w", err)
	}
	defer iter.Close()

	if !iter.First() {
		return nil
	}
	head, err := parseKey(iter.Key())
	if err != nil {
		return err
	}
	iter.Last()
	last, err := parseKey(iter.Key())
	if err != nil {
		return err
	}
	s.head, s.tail = head, last+1
	return nil
}

func storeKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%020d", n))
}

func parseKey(k []byte) (uint64, error) {
	n, err := strconv.ParseUint(string(k), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad spill key %q: %w", k, err)
	}
	return n, nil
}

func (s *PebbleStore) Append(data []byte) error {
	if err := s.db.Set(storeKey(s.tail), data, pebble.NoSync); err != nil {
		return fmt.Errorf("spill append: %w", err)
	}
	s.tail++
	return nil
}

func (s *PebbleStore) Pop() ([]byte, error) {
	if s.head == s.tail {
		return nil, ErrStoreEmpty
	}
	k := storeKey(s.head)
	val, closer, err := s.db.Get(k)
	if err != nil {
		return nil, fmt.Errorf("spill read %d: %w", s.head, err)
	}
	out := make([]byte, len(val))
	copy(out, val)
	_ = closer.Close()

	if err := s.db.Delete(k, pebble.NoSync); err != nil {
		return nil, fmt.Errorf("spill delete %d: %w", s.head, err)
	}
	s.head++
	return out, nil
}

func (s *PebbleStore) Len() int {
	return int(s.tail - s.head)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
