// Package watcher observes configured root directories for changes to
// recognized log files and emits normalized, debounced file events.
//
// The hybrid watcher prefers OS-level notifications (fsnotify) and
// falls back to periodic polling when notifications are unavailable
// (network mounts, exotic filesystems). Both paths feed the same
// debouncer, so consumers see identical batched event semantics either
// way.
//
// Filtering happens at the earliest possible point: only files whose
// extension is in the configured allow list are considered, everything
// else is dropped before it reaches the debouncer.
package watcher
