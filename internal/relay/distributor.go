package relay

import (
	"sync/atomic"

	"github.com/bft-labs/fanrelay/internal/domain"
	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// DefaultHeartbeatEvery is the number of events between heartbeat lines.
const DefaultHeartbeatEvery = 10000

// Distributor fans each upstream event out to every registered handler. It
// is driven by exactly one producer goroutine; registration may happen
// concurrently from handler goroutines.
type Distributor struct {
	registry       *Registry
	logger         log.Logger
	metrics        *Metrics
	heartbeatEvery uint64

	events atomic.Uint64
}

// NewDistributor creates a distributor over registry. A zero heartbeatEvery
// selects DefaultHeartbeatEvery.
func NewDistributor(registry *Registry, logger log.Logger, metrics *Metrics, heartbeatEvery uint64) *Distributor {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if heartbeatEvery == 0 {
		heartbeatEvery = DefaultHeartbeatEvery
	}
	return &Distributor{
		registry:       registry,
		logger:         logger,
		metrics:        metrics,
		heartbeatEvery: heartbeatEvery,
	}
}

// RegisterHandler adds h to the fan-out set.
func (d *Distributor) RegisterHandler(h Receiver) bool {
	added := d.registry.Add(h)
	if added {
		n := d.registry.Len()
		d.metrics.Handlers.Set(float64(n))
		d.logger.Info("handler registered", log.String("handler", h.ID()), log.Int("handlers", n))
	}
	return added
}

// DeregisterHandler removes h from the fan-out set.
func (d *Distributor) DeregisterHandler(h Receiver) bool {
	removed := d.registry.Remove(h)
	if removed {
		n := d.registry.Len()
		d.metrics.Handlers.Set(float64(n))
		d.logger.Info("handler deregistered", log.String("handler", h.ID()), log.Int("handlers", n))
	}
	return removed
}

// DistributeEvent hands msg to every registered handler in registration
// order. It never blocks and never panics.
func (d *Distributor) DistributeEvent(msg domain.Message) {
	n := d.events.Add(1)
	d.metrics.EventsDistributed.Inc()

	handlers := d.registry.Snapshot()
	if n%d.heartbeatEvery == 0 {
		d.logger.Info("distributor heartbeat",
			log.Uint64("events", n),
			log.Uint64("seq", msg.Seq),
			log.Int("handlers", len(handlers)),
		)
	}

	for _, h := range handlers {
		d.deliver(h, msg)
	}
}

func (d *Distributor) deliver(h Receiver, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IntakePanics.Inc()
			d.logger.Error("handler intake panicked",
				log.String("handler", h.ID()),
				log.Any("panic", r),
			)
		}
	}()
	h.Intake(msg)
}

// EventHandler adapts the distributor to the producer callback.
func (d *Distributor) EventHandler() ports.EventHandler {
	return ports.EventHandlerFunc(func(msg domain.Message, _ uint64, _ bool) {
		d.DistributeEvent(msg)
	})
}

// Events returns the number of events distributed so far.
func (d *Distributor) Events() uint64 {
	return d.events.Load()
}

// Handlers returns the number of registered handlers.
func (d *Distributor) Handlers() int {
	return d.registry.Len()
}
