// Package scheduler is the broadcast lifecycle orchestrator. It holds the
// canonical registry of scheduled broadcasts and templates, arms timed jobs
// (notifications, auto-start, auto-end), expands recurrence patterns into
// independent broadcast instances, and drives the session manager and chat
// engine through create/start/stop.
//
// # State machine
//
// scheduled -> preparing -> live -> ended, with scheduled|preparing ->
// cancelled as the only other exit. Every transition is guarded; an invalid
// transition fails with faults.ErrInvalidTransition and leaves state
// unchanged.
//
// # Serialization
//
// Lifecycle operations for the same broadcast id are serialized through a
// per-id lock; operations on different broadcasts run in parallel. The
// background monitor and the timed jobs go through the same lock, so whichever
// of auto-start and manual start wins proceeds and the loser observes the new
// status.
//
// # Monitor
//
// A periodic monitor repairs missed broadcasts according to the host-absent
// policy (cancel, delay by 15 minutes, or force-start) and flags live
// broadcasts that overran their planned duration, force-ending them when
// auto-end is configured. The monitor never raises to a caller; it applies
// policy and publishes an event describing what it did.
package scheduler
