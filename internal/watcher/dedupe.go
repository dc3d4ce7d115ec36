package watcher

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// historyTTL bounds how long event history survives; expired
	// entries are evicted lazily by the cache itself.
	historyTTL = 60 * time.Second

	historyMaxEntries = 4096
)

type eventKey struct {
	op   Operation
	path string
}

// suppressor drops repeat (operation, path) pairs observed within the
// duplicate window. History lives in an expiring LRU so memory stays
// bounded without a dedicated cleanup goroutine.
type suppressor struct {
	window time.Duration
	seen   *expirable.LRU[eventKey, time.Time]
}

func newSuppressor(window time.Duration) *suppressor {
	return &suppressor{
		window: window,
		seen:   expirable.NewLRU[eventKey, time.Time](historyMaxEntries, nil, historyTTL),
	}
}

// shouldDrop records the event and reports whether an identical one
// was already seen within the window.
func (s *suppressor) shouldDrop(event FileEvent) bool {
	key := eventKey{op: event.Operation, path: event.Path}
	if last, ok := s.seen.Get(key); ok && event.Timestamp.Sub(last) < s.window {
		return true
	}
	s.seen.Add(key, event.Timestamp)
	return false
}
