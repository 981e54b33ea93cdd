package relay

import (
	"sync"
	"sync/atomic"

	"github.com/bft-labs/fanrelay/internal/domain"
)

// Receiver is a registry member. Intake must not block.
type Receiver interface {
	ID() string
	Intake(msg domain.Message)
}

// Registry is an ordered copy-on-write set of receivers. Snapshot is lock
// free and never observes a partially applied Add or Remove.
type Registry struct {
	mu      sync.Mutex
	members atomic.Pointer[[]Receiver]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make([]Receiver, 0)
	r.members.Store(&empty)
	return r
}

// Add appends h unless it is already present.
func (r *Registry) Add(h Receiver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.members.Load()
	for _, m := range cur {
		if m == h {
			return false
		}
	}
	next := make([]Receiver, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, h)
	r.members.Store(&next)
	return true
}

// Remove deletes h and reports whether it was present.
func (r *Registry) Remove(h Receiver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.members.Load()
	for i, m := range cur {
		if m != h {
			continue
		}
		next := make([]Receiver, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		r.members.Store(&next)
		return true
	}
	return false
}

// Snapshot returns the current members in registration order. The slice
// must not be modified.
func (r *Registry) Snapshot() []Receiver {
	return *r.members.Load()
}

func (r *Registry) Len() int {
	return len(*r.members.Load())
}
