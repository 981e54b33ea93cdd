// Package domain holds the value types that flow through the relay.
//
//   - [Message]: one serialized payload from upstream with its sequence number
//   - [Batch]: an ordered group of messages queued for a single client
//
// Nothing here touches sockets, disks or loggers.
package domain
