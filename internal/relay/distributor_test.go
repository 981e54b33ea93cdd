package relay

import (
	"testing"

	"github.com/bft-labs/fanrelay/internal/domain"
	"github.com/bft-labs/fanrelay/pkg/log"
)

type panickingReceiver struct{}

func (panickingReceiver) ID() string                { return "panics" }
func (panickingReceiver) Intake(msg domain.Message) { panic("boom") }

type countingLogger struct {
	log.NoopLogger
	infos  []string
	errors []string
}

func (c *countingLogger) Info(msg string, fields ...log.Field)  { c.infos = append(c.infos, msg) }
func (c *countingLogger) Error(msg string, fields ...log.Field) { c.errors = append(c.errors, msg) }

func msg(seq uint64, payload string) domain.Message {
	return domain.Message{Seq: seq, Payload: []byte(payload)}
}

func TestDistributor_FansOutInOrder(t *testing.T) {
	d := NewDistributor(NewRegistry(), nil, nil, 0)
	a, b := &stubReceiver{id: "a"}, &stubReceiver{id: "b"}
	d.RegisterHandler(a)
	d.RegisterHandler(b)

	for i, p := range []string{"A", "B", "C"} {
		d.DistributeEvent(msg(uint64(i+1), p))
	}

	if got := a.payloads(); got != "ABC" {
		t.Errorf("receiver a got %q, want ABC", got)
	}
	if got := b.payloads(); got != "ABC" {
		t.Errorf("receiver b got %q, want ABC", got)
	}
	if d.Events() != 3 {
		t.Errorf("Events() = %d, want 3", d.Events())
	}
}

func TestDistributor_DeregisterStopsDelivery(t *testing.T) {
	d := NewDistributor(NewRegistry(), nil, nil, 0)
	a, b := &stubReceiver{id: "a"}, &stubReceiver{id: "b"}
	d.RegisterHandler(a)
	d.RegisterHandler(b)

	d.DistributeEvent(msg(1, "A"))
	if !d.DeregisterHandler(a) {
		t.Fatal("DeregisterHandler(a) = false")
	}
	if d.DeregisterHandler(a) {
		t.Error("second DeregisterHandler(a) = true")
	}
	d.DistributeEvent(msg(2, "B"))

	if got := a.payloads(); got != "A" {
		t.Errorf("deregistered receiver got %q, want A", got)
	}
	if got := b.payloads(); got != "AB" {
		t.Errorf("receiver b got %q, want AB", got)
	}
	if d.Handlers() != 1 {
		t.Errorf("Handlers() = %d, want 1", d.Handlers())
	}
}

func TestDistributor_LateRegistration(t *testing.T) {
	d := NewDistributor(NewRegistry(), nil, nil, 0)
	early, late := &stubReceiver{id: "early"}, &stubReceiver{id: "late"}
	d.RegisterHandler(early)

	d.DistributeEvent(msg(1, "A"))
	d.DistributeEvent(msg(2, "B"))
	d.RegisterHandler(late)
	d.DistributeEvent(msg(3, "C"))

	if got := late.payloads(); got != "C" {
		t.Errorf("late receiver got %q, want C", got)
	}
}

func TestDistributor_RecoversIntakePanic(t *testing.T) {
	logger := &countingLogger{}
	d := NewDistributor(NewRegistry(), logger, nil, 0)
	healthy := &stubReceiver{id: "healthy"}
	d.RegisterHandler(panickingReceiver{})
	d.RegisterHandler(healthy)

	d.DistributeEvent(msg(1, "A"))

	if got := healthy.payloads(); got != "A" {
		t.Errorf("healthy receiver got %q, want A", got)
	}
	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}

func TestDistributor_Heartbeat(t *testing.T) {
	logger := &countingLogger{}
	d := NewDistributor(NewRegistry(), logger, nil, 5)

	for i := 1; i <= 12; i++ {
		d.DistributeEvent(msg(uint64(i), "x"))
	}

	heartbeats := 0
	for _, m := range logger.infos {
		if m == "distributor heartbeat" {
			heartbeats++
		}
	}
	if heartbeats != 2 {
		t.Errorf("heartbeats = %d, want 2", heartbeats)
	}
}

func TestDistributor_EventHandlerAdapter(t *testing.T) {
	d := NewDistributor(NewRegistry(), nil, nil, 0)
	r := &stubReceiver{id: "r"}
	d.RegisterHandler(r)

	h := d.EventHandler()
	h.OnEvent(msg(1, "A"), 1, false)
	h.OnEvent(msg(2, "B"), 2, true)

	if got := r.payloads(); got != "AB" {
		t.Errorf("receiver got %q, want AB", got)
	}
}
