// Package dispatch runs the timed-event dispatch loop.
//
// A single goroutine drains the ready queue, firing one task at a time in
// FIFO order. Producers (the cron scheduler, API triggers) only enqueue.
//
// Failure handling:
//   - A task that returns an error or panics is reported at CRITICAL through
//     the injected DiagnosticLogger; the loop moves on to the next task.
//   - A task that completes after more than SlowTaskThreshold is reported at
//     WARN. The report is advisory; nothing is interrupted.
//   - There is no per-task timeout. A task that never returns stalls the loop.
//
// Shutdown goes through the ready queue, which sets the stop flag and wakes
// the blocked consumer inside one critical section. Once the flag is set the
// loop fires nothing further, even if tasks remain queued.
package dispatch
