// Package storage persists broadcasts, templates, and final analytics.
// The in-memory registries are the working set; this store is the durable
// copy, written best-effort on every registry mutation.
package storage
