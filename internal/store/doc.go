// Package store is the dual-persistence façade for schedules.
//
// The in-memory list is the source of truth for all reads. Every mutation
// writes the full collection to the local cache synchronously, then pushes
// to the remote store best-effort; the cache and the remote are eventually
// consistent with memory, never the reverse, except at Load() time where
// the remote wins when reachable.
package store
