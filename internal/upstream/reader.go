package upstream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bft-labs/fanrelay/pkg/log"
)

// DefaultChunkSize is the read buffer size of a ReaderSource.
const DefaultChunkSize = 32 * 1024

// ReaderSource publishes raw chunks read from an io.Reader into a Ring. Each
// successful Read becomes one message; no framing is applied.
type ReaderSource struct {
	r         io.Reader
	ring      *Ring
	chunkSize int
	logger    log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaderSource creates a source reading from r.
func NewReaderSource(r io.Reader, ring *Ring, chunkSize int, logger log.Logger) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &ReaderSource{r: r, ring: ring, chunkSize: chunkSize, logger: logger}
}

// Init starts the ring and the read loop.
func (s *ReaderSource) Init(ctx context.Context) error {
	if err := s.ring.Init(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}
	readCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.readLoop(readCtx, s.done)
	return nil
}

func (s *ReaderSource) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			if perr := s.ring.Publish(ctx, buf[:n]); perr != nil {
				s.logger.Debug("reader source stopped", log.Err(perr))
				return
			}
		}
		if errors.Is(err, io.EOF) {
			s.logger.Info("upstream reader exhausted", log.Uint64("published", s.ring.Published()))
			return
		}
		if err != nil {
			s.logger.Error("upstream read failed", log.Err(err))
			return
		}
	}
}

// Done is closed when the read loop exits. It is nil before Init.
func (s *ReaderSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Cleanup stops publishing and drains the ring. A Read blocked in the
// underlying reader is left to return on its own.
func (s *ReaderSource) Cleanup() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return s.ring.Cleanup()
}
