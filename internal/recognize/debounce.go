package recognize

import "time"

// DebounceTracker confirms an identity only after it has been matched in
// enough consecutive frames. A single dropped detection does not reset the
// count; instead, identities unseen for longer than the staleness window are
// evicted and must start over. This suppresses one-frame misdetections
// without rewarding long absences.
//
// The tracker is not safe for concurrent use; each capture session owns its
// own instance.
type DebounceTracker struct {
	required   int
	staleAfter time.Duration
	entries    map[string]*debounceEntry
}

type debounceEntry struct {
	count    int
	lastSeen time.Time
}

func NewDebounceTracker(required int, staleAfter time.Duration) *DebounceTracker {
	if required < 1 {
		required = 1
	}
	return &DebounceTracker{
		required:   required,
		staleAfter: staleAfter,
		entries:    make(map[string]*debounceEntry),
	}
}

// Observe records one matched frame for tokenNo and reports whether the
// consecutive-frame requirement has just been met. On confirmation the count
// resets to zero regardless of what the caller does with the result, so a
// confirmed identity cannot re-trigger on the very next frame.
func (t *DebounceTracker) Observe(tokenNo string, now time.Time) bool {
	t.sweep(now)

	e := t.entries[tokenNo]
	if e == nil {
		e = &debounceEntry{}
		t.entries[tokenNo] = e
	}
	e.count++
	e.lastSeen = now

	if e.count >= t.required {
		e.count = 0
		return true
	}
	return false
}

// Count returns the current consecutive count for tokenNo, for overlays.
func (t *DebounceTracker) Count(tokenNo string) int {
	if e := t.entries[tokenNo]; e != nil {
		return e.count
	}
	return 0
}

// Reset clears tokenNo's progress, e.g. after a successful ledger commit.
func (t *DebounceTracker) Reset(tokenNo string) {
	delete(t.entries, tokenNo)
}

// sweep evicts identities not seen within the staleness window. Eviction is
// purely time-based: frames where an identity is absent do not decrement
// its count.
func (t *DebounceTracker) sweep(now time.Time) {
	for token, e := range t.entries {
		if now.Sub(e.lastSeen) > t.staleAfter {
			delete(t.entries, token)
		}
	}
}
