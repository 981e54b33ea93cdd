// Package spill implements the spill-protected client queue.
//
// A Queue keeps up to Quota items in memory. Past the quota, and for as long
// as anything sits on disk, new items are appended to a Store so that FIFO
// order holds across both tiers. A background task and Poll itself move items
// back into memory as room frees up. Each queue owns a unique directory under
// Config.Dir which is removed by Stop.
package spill
