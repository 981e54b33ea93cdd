package spill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bft-labs/fanrelay/internal/domain"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// Stats is a point-in-time view of a queue.
type Stats struct {
	// Memory is the number of items ready for Poll.
	Memory int
	// Pending is the number of overflow items in memory waiting to be spilled.
	Pending int
	// Spilled is the number of items in the store.
	Spilled int

	Puts      uint64
	SpillOuts uint64
	SpillIns  uint64
	Dropped   uint64
}

// Queue is a spill-protected FIFO. Put never blocks and never touches the
// store: items beyond the quota go to an in-memory backlog that the spill
// task moves to the store and back. FIFO order is defined for a single
// putter and a single poller.
//
// Order across tiers is mem, then store, then backlog.
type Queue[T any] struct {
	name   string
	cfg    Config
	codec  Codec[T]
	logger log.Logger

	mu       sync.Mutex
	mem      []T
	head     int
	backlog  []T
	inflight int
	spilled  int
	store    Store
	dir      string
	started  bool
	stopped  bool
	stats    Stats

	notify chan struct{}
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewQueue creates a stopped queue. cfg is defaulted and validated here.
func NewQueue[T any](name string, cfg Config, codec Codec[T], logger log.Logger) (*Queue[T], error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Queue[T]{
		name:   name,
		cfg:    cfg,
		codec:  codec,
		logger: logger,
		mem:    make([]T, 0, cfg.Quota),
		notify: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Start opens the spill store, if a directory is configured, and starts the
// spill task.
func (q *Queue[T]) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return fmt.Errorf("spill: queue %s cannot be started twice", q.name)
	}

	if q.cfg.Dir != "" {
		dir := filepath.Join(q.cfg.Dir, fmt.Sprintf("%s%s-%d-%d", DirPrefix, q.name, os.Getpid(), time.Now().UnixNano()))
		store, err := q.cfg.OpenStore(dir)
		if err != nil {
			return fmt.Errorf("spill: open store %s: %w", dir, err)
		}
		q.store, q.dir = store, dir
		q.wg.Add(1)
		go q.spillLoop(store)
	}

	q.started = true
	return nil
}

// Stop discards queued items, wakes pollers, closes the store and deletes
// its directory. Safe to call more than once.
func (q *Queue[T]) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	store, dir := q.store, q.dir
	q.store = nil
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	abandoned := q.memLen() + len(q.backlog) + q.inflight + q.spilled
	q.mem, q.head, q.backlog, q.inflight, q.spilled = nil, 0, nil, 0, 0
	q.mu.Unlock()

	if abandoned > 0 {
		q.logger.Warn("queue stopped with pending items", log.Int("abandoned", abandoned))
	}

	var errs []error
	if store != nil {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close spill store: %w", err))
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove spill dir: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Put enqueues item. It only appends to memory: when the item fits neither
// the quota nor the capacity-bounded backlog it is dropped and logged.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		q.stats.Dropped++
		q.logger.Warn("put ignored, queue stopped")
		return
	}
	q.stats.Puts++

	if q.store == nil {
		if q.memLen() < q.cfg.Capacity {
			q.push(item)
			return
		}
		q.dropLocked("queue full, item dropped")
		return
	}

	if q.overflowLocked() == 0 && q.memLen() < q.cfg.Quota {
		q.push(item)
		return
	}
	if len(q.backlog)+q.inflight >= q.cfg.Capacity {
		q.dropLocked("spill backlog full, item dropped")
		return
	}
	q.backlog = append(q.backlog, item)
	q.wakeSpill()
}

func (q *Queue[T]) dropLocked(msg string) {
	q.stats.Dropped++
	q.logger.Error(msg,
		log.Int("capacity", q.cfg.Capacity),
		log.Uint64("dropped", q.stats.Dropped),
	)
}

// Poll returns the oldest item. It returns ctx.Err() when ctx is done and
// domain.ErrQueueClosed once the queue is stopped.
func (q *Queue[T]) Poll(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return zero, domain.ErrQueueClosed
		}
		if q.memLen() > 0 {
			item := q.pop()
			if q.memLen() == 0 && q.overflowLocked() > 0 {
				q.wakeSpill()
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.overflowLocked() > 0 {
			q.wakeSpill()
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.done:
			return zero, domain.ErrQueueClosed
		case <-q.notify:
		}
	}
}

// Len returns the number of queued items in memory and on disk.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.memLen() + q.overflowLocked()
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Memory = q.memLen()
	s.Pending = len(q.backlog) + q.inflight
	s.Spilled = q.spilled
	return s
}

// spillLoop is the only goroutine that touches the store. It runs when
// woken by Put or Poll and every Timeout.
func (q *Queue[T]) spillLoop(store Store) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.Timeout)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		case <-ticker.C:
		}
		q.transfer(store)
	}
}

func (q *Queue[T]) transfer(store Store) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	// Nothing on disk: the backlog can move straight to memory.
	if q.spilled == 0 && q.inflight == 0 {
		n := min(len(q.backlog), q.cfg.Quota-q.memLen())
		if n > 0 {
			q.mem = append(q.mem, q.backlog[:n]...)
			clear(q.backlog[:n])
			q.backlog = q.backlog[n:]
			if len(q.backlog) == 0 {
				q.backlog = nil
			}
			q.signal()
		}
	}
	out := q.backlog
	q.backlog = nil
	q.inflight = len(out)
	q.mu.Unlock()

	if len(out) > 0 {
		q.spillOut(store, out)
	}
	q.spillIn(store)

	q.mu.Lock()
	more := !q.stopped && (len(q.backlog) > 0 || (q.spilled > 0 && q.memLen() < q.cfg.Quota))
	q.mu.Unlock()
	if more {
		q.wakeSpill()
	}
}

// spillOut appends items to the store without holding the queue lock.
func (q *Queue[T]) spillOut(store Store, items []T) {
	written, failed := 0, 0
	for _, item := range items {
		if q.isDone() {
			break
		}
		data, err := q.codec.Encode(item)
		if err != nil {
			failed++
			q.logger.Error("unable to encode item for spill, dropped", log.Err(err))
			continue
		}
		if err := store.Append(data); err != nil {
			failed++
			q.logger.Error("unable to spill item, dropped", log.Err(err))
			continue
		}
		written++
	}

	q.mu.Lock()
	started := q.spilled == 0 && written > 0
	q.spilled += written
	q.inflight -= written + failed
	q.stats.SpillOuts += uint64(written)
	q.stats.Dropped += uint64(failed)
	memory := q.memLen()
	q.mu.Unlock()

	if started {
		q.logger.Info("spilling started", log.Int("memory", memory), log.String("dir", q.dir))
	}
}

// spillIn reads stored items back into memory up to the quota.
func (q *Queue[T]) spillIn(store Store) {
	q.mu.Lock()
	n := 0
	if !q.stopped && q.spilled > 0 {
		n = min(q.cfg.Quota-q.memLen(), q.spilled)
	}
	q.mu.Unlock()
	if n <= 0 {
		return
	}

	items := make([]T, 0, n)
	popped, undecodable := 0, 0
	lost := false
	for popped < n && !q.isDone() {
		data, err := store.Pop()
		if errors.Is(err, ErrStoreEmpty) {
			lost = true
			break
		}
		if err != nil {
			q.logger.Error("unable to read spilled item", log.Err(err))
			break
		}
		popped++
		item, err := q.codec.Decode(data)
		if err != nil {
			undecodable++
			q.logger.Error("unable to decode spilled item, dropped", log.Err(err))
			continue
		}
		items = append(items, item)
	}

	q.mu.Lock()
	q.spilled -= popped
	if lost && q.spilled > 0 {
		q.logger.Error("spill store lost items", log.Int("expected", q.spilled))
		q.stats.Dropped += uint64(q.spilled)
		q.spilled = 0
	}
	q.stats.Dropped += uint64(undecodable)
	q.stats.SpillIns += uint64(len(items))
	q.mem = append(q.mem, items...)
	if len(items) > 0 {
		q.signal()
	}
	finished := popped > 0 && q.spilled == 0
	total := q.stats.SpillOuts
	q.mu.Unlock()

	if finished {
		q.logger.Info("spilling finished", log.Uint64("spilled_total", total))
	}
}

func (q *Queue[T]) overflowLocked() int {
	return len(q.backlog) + q.inflight + q.spilled
}

func (q *Queue[T]) memLen() int {
	return len(q.mem) - q.head
}

func (q *Queue[T]) push(item T) {
	q.mem = append(q.mem, item)
	q.signal()
}

func (q *Queue[T]) pop() T {
	var zero T
	item := q.mem[q.head]
	q.mem[q.head] = zero
	q.head++
	if q.head == len(q.mem) {
		q.mem, q.head = q.mem[:0], 0
	} else if q.head > cap(q.mem)/2 {
		n := copy(q.mem, q.mem[q.head:])
		clear(q.mem[n:])
		q.mem, q.head = q.mem[:n], 0
	}
	return item
}

func (q *Queue[T]) isDone() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) wakeSpill() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
