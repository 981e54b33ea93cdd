package spill

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/bft-labs/fanrelay/internal/domain"
)

func TestPebbleStore_FIFO(t *testing.T) {
	s, err := OpenPebbleStore(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("OpenPebbleStore() error = %v", err)
	}
	defer s.Close()

	for _, v := range []string{"a", "b", "c"} {
		if err := s.Append([]byte(v)); err != nil {
			t.Fatalf("Append(%s) error = %v", v, err)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := s.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Pop() = %q, want %q", got, want)
		}
	}
	if _, err := s.Pop(); !errors.Is(err, ErrStoreEmpty) {
		t.Errorf("Pop() on empty store error = %v, want ErrStoreEmpty", err)
	}
}

func TestPebbleStore_Reopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s, err := OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("OpenPebbleStore() error = %v", err)
	}
	for _, v := range []string{"x", "y", "z"} {
		_ = s.Append([]byte(v))
	}
	if _, err := s.Pop(); err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if s.Len() != 2 {
		t.Fatalf("Len() after reopen = %d, want 2", s.Len())
	}
	got, _ := s.Pop()
	if string(got) != "y" {
		t.Errorf("Pop() after reopen = %q, want y", got)
	}
}

func TestBatchCodec(t *testing.T) {
	b := domain.NewBatch([]domain.Message{{Seq: 1, Payload: []byte("A")}, {Seq: 2, Payload: []byte("B")}})

	data, err := BatchCodec{}.Encode(b)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := BatchCodec{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Size() != 2 || got.LastSeq() != 2 {
		t.Errorf("Decode() = %+v", got)
	}

	if _, err := (BatchCodec{}).Decode([]byte("junk")); !errors.Is(err, domain.ErrCorruptBatch) {
		t.Errorf("Decode(junk) error = %v, want ErrCorruptBatch", err)
	}
}

func TestFactory_NewQueue(t *testing.T) {
	f, err := NewFactory(Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	if f.Config().Quota != DefaultQuota || f.Config().Capacity != DefaultCapacity {
		t.Errorf("Config() = %+v, want defaults", f.Config())
	}

	q, err := f.NewQueue("conn-1")
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	if err := q.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	q.Put(domain.NewBatch([]domain.Message{{Seq: 1, Payload: []byte("A")}}))
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if err := q.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestNewFactory_Invalid(t *testing.T) {
	if _, err := NewFactory(Config{Quota: 5, Capacity: 2}, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("NewFactory() error = %v, want ErrInvalidConfig", err)
	}
}
