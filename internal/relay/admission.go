package relay

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/bft-labs/fanrelay/internal/ports"
)

// Rejection reasons reported by Admission.Admit.
const (
	RejectCapacity  = "capacity"
	RejectResources = "resources"
)

// AdmissionConfig bounds how fast and how many clients are taken on.
type AdmissionConfig struct {
	// MaxConnections caps concurrent clients. Zero means unbounded.
	MaxConnections int

	// AcceptRate is accepted connections per second. Zero disables pacing.
	AcceptRate float64

	// AcceptBurst is the limiter burst. Defaults to 1 when pacing is enabled.
	AcceptBurst int
}

// Admission decides whether an accepted connection may be served.
type Admission struct {
	slots   chan struct{}
	limiter *rate.Limiter
	gate    ports.ResourceGate
}

// NewAdmission creates an admission policy. gate may be nil.
func NewAdmission(cfg AdmissionConfig, gate ports.ResourceGate) *Admission {
	a := &Admission{gate: gate}
	if cfg.MaxConnections > 0 {
		a.slots = make(chan struct{}, cfg.MaxConnections)
	}
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	return a
}

// Wait paces the accept loop. It returns ctx.Err() if ctx ends first.
func (a *Admission) Wait(ctx context.Context) error {
	if a == nil || a.limiter == nil {
		return ctx.Err()
	}
	return a.limiter.Wait(ctx)
}

// Admit reserves a connection slot. On success release must be called once
// the connection is done; on failure reason names the rejected limit.
func (a *Admission) Admit() (release func(), reason string, ok bool) {
	if a == nil {
		return func() {}, "", true
	}
	if a.gate != nil && !a.gate.OK() {
		return nil, RejectResources, false
	}
	if a.slots == nil {
		return func() {}, "", true
	}
	select {
	case a.slots <- struct{}{}:
		return func() { <-a.slots }, "", true
	default:
		return nil, RejectCapacity, false
	}
}

// InUse returns the number of reserved slots, or 0 when unbounded.
func (a *Admission) InUse() int {
	if a == nil || a.slots == nil {
		return 0
	}
	return len(a.slots)
}
