// Package continuous supervises long-running nodes.
//
// Each started node gets a supervisor goroutine and a worker goroutine. The
// worker repeats host calls, one cycle at a time, publishing every result
// to a buffered channel the caller drains with Poll. The supervisor waits
// for a stop command and runs the stop protocol:
//
//  1. cooperative: the worker is signalled and may finish its current
//     cycle within Config.GracePeriod;
//  2. forced: the task context is cancelled, aborting the in-flight host
//     call, and teardown gets Config.ForcePeriod;
//  3. detach: the task is abandoned, its instance is released whenever it
//     returns, and the event is logged as continuous_task_leak.
//
// Phases only move forward:
//
//	Idle -> Starting -> Running -> Stopping -> Stopped
//	                          \-> Failed
//
// A sandbox trap or an exhausted limit fails the node; other cycle errors
// are published and the node keeps running. Phase, last outputs and last
// error are held in an atomically swapped Snapshot, so a 60 Hz UI poll
// never waits on a running task. WithObserver receives each swapped
// snapshot in swap order, which is how the event stream learns of changes.
package continuous
