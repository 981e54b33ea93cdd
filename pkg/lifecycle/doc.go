// Package lifecycle provides the run state machine shared by the relay server
// and the embeddable Relay.
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
//
// The manager also tracks worker goroutines so shutdown can wait for them
// with a bound:
//
//	m := lifecycle.NewManager(logger, nil)
//	_ = m.TransitionTo(lifecycle.StateStarting, "listen")
//	m.AddWorker()
//	go func() { defer m.WorkerDone(); serve() }()
//	...
//	if err := m.WaitWithTimeout(lifecycle.ShutdownTimeout); err != nil { ... }
//
// Backoff gives jittered exponential delays for reconnect loops.
package lifecycle
