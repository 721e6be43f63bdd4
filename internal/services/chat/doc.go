// Package chat owns one moderated chat room per broadcast: users, the
// bounded message log, moderation actions, settings, and derived analytics.
//
// The engine is a leaf component driven by the broadcast scheduler
// (open/close in lock-step with the live session). Message admission runs a
// fixed pipeline (ban/timeout, length, banned words, links, gating policies,
// slow mode) and rejections carry a machine-readable reason code so clients
// can render targeted feedback.
//
// Timeout entries expire lazily on each send attempt; a periodic sweep purges
// expired entries and discards messages past the retention window.
package chat
