// Package ports defines the boundaries between the relay core and the
// components it consumes without owning.
//
//   - [SpillQueue]: per-client FIFO with disk overflow
//   - [QueueFactory]: builds one SpillQueue per connection
//   - [EventHandler]: callback the upstream producer invokes per event
//   - [Producer]: upstream source lifecycle (Init / Cleanup)
//   - [ResourceGate]: host resource check consulted before admitting clients
//
// internal/relay depends only on these interfaces; internal/spill and
// internal/upstream provide the implementations.
package ports
