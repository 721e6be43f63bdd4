// Package jobs provides the cancellable deferred-job runner that backs every
// timed action in the broadcast lifecycle (notifications, auto-start,
// auto-end) plus the periodic entries (missed/overrun monitor, chat sweep).
//
// # One-shot jobs
//
// One-shot jobs are registered under a caller-chosen key, conventionally
// "<broadcastID>/<purpose>". Registering a key that already exists replaces
// the previous job (upsert); Cancel and CancelPrefix remove jobs
// deterministically. Internally each key carries a version counter so a timer
// callback from a replaced or cancelled registration can never fire stale:
// the race between a reschedule and an in-flight timer resolves to a no-op.
//
// A fire time already in the past is treated as "fire immediately".
//
// # Execution
//
// Fired jobs are executed on a worker pool with a bounded queue, a per-job
// timeout, and retry with exponential backoff and jitter. Lifecycle events
// are published on the event bus.
//
// # Lifecycle
//
// The Service can be started and stopped at runtime. Periodic entries
// registered while stopped are kept and armed on the next Start.
package jobs
