package ports

// ResourceGate reports whether host resources allow taking on more work.
type ResourceGate interface {
	OK() bool
}
