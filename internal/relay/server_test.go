package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fanrelay/internal/sockets"
	"github.com/bft-labs/fanrelay/pkg/lifecycle"
)

type fakeProducer struct {
	inits    atomic.Int32
	cleanups atomic.Int32
	initErr  error
}

func (p *fakeProducer) Init(context.Context) error {
	p.inits.Add(1)
	return p.initErr
}

func (p *fakeProducer) Cleanup() error {
	p.cleanups.Add(1)
	return nil
}

type recordingObserver struct {
	mu           sync.Mutex
	connected    []string
	disconnected map[string]int
	rejected     []string
}

func (o *recordingObserver) OnClientConnected(id, remote string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = append(o.connected, id)
}

func (o *recordingObserver) OnClientDisconnected(id, remote string, sent uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disconnected == nil {
		o.disconnected = make(map[string]int)
	}
	o.disconnected[id]++
}

func (o *recordingObserver) OnClientRejected(remote, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *recordingObserver) disconnects() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int, len(o.disconnected))
	for k, v := range o.disconnected {
		out[k] = v
	}
	return out
}

type testRelay struct {
	server      *Server
	distributor *Distributor
	producer    *fakeProducer
	observer    *recordingObserver
	done        chan error
	seq         uint64
}

func startRelay(t *testing.T, hcfg HandlerConfig, admission *Admission) *testRelay {
	t.Helper()
	return startRelayWith(t, sockets.PlainServerFactory{}, hcfg, admission)
}

func startRelayWith(t *testing.T, factory sockets.ServerFactory, hcfg HandlerConfig, admission *Admission) *testRelay {
	t.Helper()

	d := NewDistributor(NewRegistry(), nil, nil, 0)
	handlers := &DefaultHandlerFactory{
		Queues:      memoryQueues(t),
		Distributor: d,
		Config:      hcfg,
	}
	r := &testRelay{
		distributor: d,
		producer:    &fakeProducer{},
		observer:    &recordingObserver{},
		done:        make(chan error, 1),
	}
	r.server = NewServer(
		ServerConfig{Address: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second},
		factory,
		handlers,
		r.producer,
		WithAdmission(admission),
		WithObserver(r.observer),
	)

	go func() { r.done <- r.server.ListenAndServe(context.Background()) }()

	select {
	case <-r.server.Listening():
	case err := <-r.done:
		t.Fatalf("ListenAndServe() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}
	require.Eventually(t, func() bool { return r.server.State() == lifecycle.StateRunning }, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() { _ = r.server.Stop() })
	return r
}

func (r *testRelay) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", r.server.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials and waits until the new client is registered.
func (r *testRelay) connect(t *testing.T) net.Conn {
	t.Helper()
	before := r.distributor.Handlers()
	conn := r.dial(t)
	require.Eventually(t, func() bool { return r.distributor.Handlers() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func (r *testRelay) emit(payloads ...string) {
	for _, p := range payloads {
		r.seq++
		r.distributor.DistributeEvent(msg(r.seq, p))
	}
}

func readExactly(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

func numbered(from, to int) ([]string, string) {
	var all bytes.Buffer
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		p := fmt.Sprintf("%06d", i)
		out = append(out, p)
		all.WriteString(p)
	}
	return out, all.String()
}

func fastHandlers() HandlerConfig {
	return HandlerConfig{BatchSize: 16, FlushInterval: 20 * time.Millisecond}
}

func TestServer_TwoClientScenario(t *testing.T) {
	r := startRelay(t, fastHandlers(), nil)

	c1 := r.connect(t)
	c2 := r.connect(t)

	r.emit("A", "B", "C")
	assert.Equal(t, "ABC", readExactly(t, c1, 3))
	assert.Equal(t, "ABC", readExactly(t, c2, 3))

	require.NoError(t, c1.(*net.TCPConn).SetLinger(0))
	require.NoError(t, c1.Close())

	assert.NotPanics(t, func() { r.emit("D") })
	assert.Equal(t, "D", readExactly(t, c2, 1))
}

func TestServer_DeliversEverythingInOrder(t *testing.T) {
	r := startRelay(t, fastHandlers(), nil)
	c := r.connect(t)

	payloads, want := numbered(1, 5000)
	go r.emit(payloads...)

	assert.Equal(t, want, readExactly(t, c, len(want)))
}

func TestServer_LateJoinerSeesOnlyLaterMessages(t *testing.T) {
	r := startRelay(t, fastHandlers(), nil)
	early := r.connect(t)

	first, firstWant := numbered(1, 100)
	r.emit(first...)
	assert.Equal(t, firstWant, readExactly(t, early, len(firstWant)))

	late := r.connect(t)
	second, secondWant := numbered(101, 200)
	r.emit(second...)

	assert.Equal(t, secondWant, readExactly(t, early, len(secondWant)))
	assert.Equal(t, secondWant, readExactly(t, late, len(secondWant)))
}

func TestServer_LowTrafficFlushedByTimer(t *testing.T) {
	r := startRelay(t, HandlerConfig{BatchSize: 1000, FlushInterval: 100 * time.Millisecond}, nil)
	c := r.connect(t)

	start := time.Now()
	r.emit("x", "y")
	assert.Equal(t, "xy", readExactly(t, c, 2))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServer_StalledClientDoesNotDelayOthers(t *testing.T) {
	r := startRelay(t, HandlerConfig{BatchSize: 4, FlushInterval: 20 * time.Millisecond}, nil)

	stalled := r.connect(t)
	_ = stalled
	healthy := r.connect(t)

	payload := bytes.Repeat([]byte{'z'}, 64*1024)
	const n = 200

	var readErr error
	var got int
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, len(payload)*n)
		_ = healthy.SetReadDeadline(time.Now().Add(20 * time.Second))
		got, readErr = io.ReadFull(healthy, buf)
	}()

	start := time.Now()
	for i := 0; i < n; i++ {
		r.seq++
		r.distributor.DistributeEvent(msg(r.seq, string(payload)))
	}
	assert.Less(t, time.Since(start), 5*time.Second, "distribution blocked on the stalled client")

	<-readDone
	require.NoError(t, readErr)
	assert.Equal(t, len(payload)*n, got)
}

func TestServer_FailedClientDeregistersOnce(t *testing.T) {
	r := startRelay(t, HandlerConfig{BatchSize: 1, FlushInterval: 20 * time.Millisecond}, nil)

	c1 := r.connect(t)
	c2 := r.connect(t)
	require.NoError(t, c1.(*net.TCPConn).SetLinger(0))
	require.NoError(t, c1.Close())

	var want bytes.Buffer
	i := 0
	require.Eventually(t, func() bool {
		i++
		p := fmt.Sprintf("%06d", i)
		want.WriteString(p)
		r.emit(p)
		return r.distributor.Handlers() == 1
	}, 5*time.Second, 10*time.Millisecond)

	more, moreWant := numbered(i+1, i+50)
	r.emit(more...)
	want.WriteString(moreWant)

	assert.Equal(t, want.String(), readExactly(t, c2, want.Len()))

	require.Eventually(t, func() bool { return len(r.observer.disconnects()) == 1 }, 2*time.Second, 5*time.Millisecond)
	for id, n := range r.observer.disconnects() {
		assert.Equal(t, 1, n, "handler %s disconnected more than once", id)
	}
	assert.Equal(t, 1, r.server.ActiveConnections())
}

func TestServer_StopInterruptsHandlers(t *testing.T) {
	r := startRelay(t, HandlerConfig{BatchSize: 1, FlushInterval: 20 * time.Millisecond}, nil)

	idle := r.connect(t)
	stalled := r.connect(t)
	_ = stalled

	big := string(bytes.Repeat([]byte{'s'}, 1<<20))
	r.emit(big, big, big, big, big, big, big, big)

	addr := r.server.Addr().String()
	require.NoError(t, r.server.Stop())

	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Stop")
	}

	assert.Equal(t, lifecycle.StateStopped, r.server.State())
	assert.Equal(t, 0, r.server.ActiveConnections())
	assert.Equal(t, 0, r.distributor.Handlers())
	assert.Equal(t, int32(1), r.producer.inits.Load())
	assert.GreaterOrEqual(t, r.producer.cleanups.Load(), int32(1))

	_ = idle.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := io.ReadAll(idle)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "idle client socket was not closed")

	_, err = net.DialTimeout("tcp", addr, 500*time.Millisecond)
	assert.Error(t, err, "listener still accepting after Stop")

	assert.ErrorIs(t, r.server.ListenAndServe(context.Background()), ErrServerClosed)
}

func TestServer_ContextCancelStops(t *testing.T) {
	d := NewDistributor(nil, nil, nil, 0)
	s := NewServer(ServerConfig{Address: "127.0.0.1:0"}, sockets.PlainServerFactory{},
		&DefaultHandlerFactory{Queues: memoryQueues(t), Distributor: d}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	<-s.Listening()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe ignored context cancellation")
	}
}

func TestServer_BindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	producer := &fakeProducer{}
	s := NewServer(ServerConfig{Address: busy.Addr().String()}, sockets.PlainServerFactory{},
		&DefaultHandlerFactory{Queues: memoryQueues(t), Distributor: NewDistributor(nil, nil, nil, 0)}, producer)

	err = s.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Equal(t, lifecycle.StateCrashed, s.State())
	assert.Equal(t, int32(0), producer.inits.Load())
	assert.NoError(t, s.Stop())
}

func TestServer_ProducerInitFailure(t *testing.T) {
	producer := &fakeProducer{initErr: errors.New("upstream down")}
	s := NewServer(ServerConfig{Address: "127.0.0.1:0"}, sockets.PlainServerFactory{},
		&DefaultHandlerFactory{Queues: memoryQueues(t), Distributor: NewDistributor(nil, nil, nil, 0)}, producer)

	err := s.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, lifecycle.StateCrashed, s.State())
	assert.GreaterOrEqual(t, producer.cleanups.Load(), int32(1))
}

func TestServer_AdmissionRejectsOverCapacity(t *testing.T) {
	r := startRelay(t, fastHandlers(), NewAdmission(AdmissionConfig{MaxConnections: 1}, nil))

	first := r.connect(t)
	second := r.dial(t)

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := second.Read(make([]byte, 1))
	assert.Error(t, err, "rejected connection should be closed")

	r.emit("A")
	assert.Equal(t, "A", readExactly(t, first, 1))

	r.observer.mu.Lock()
	assert.Equal(t, []string{RejectCapacity}, r.observer.rejected)
	r.observer.mu.Unlock()
}

func TestServer_ListenWhileRunningFails(t *testing.T) {
	r := startRelay(t, fastHandlers(), nil)

	err := r.server.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot listen while Running")
	assert.Equal(t, lifecycle.StateRunning, r.server.State())
}
