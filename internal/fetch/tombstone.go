package fetch

import "sync"

// IsGoneStatus reports whether a status means the resource disappeared
// rather than failed.
func IsGoneStatus(status int) bool {
	return status == 404 || status == 410
}

// TombstoneSet remembers URLs that answered 404 or 410 during the
// current run so no worker asks for them again. It is shared across the
// worker pool and scoped to one run.
type TombstoneSet struct {
	mu   sync.Mutex
	gone map[string]int
}

// NewTombstoneSet creates an empty set.
func NewTombstoneSet() *TombstoneSet {
	return &TombstoneSet{gone: make(map[string]int)}
}

// Mark records a vanished URL with the status that buried it.
func (t *TombstoneSet) Mark(url string, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gone[url] = status
}

// Gone reports whether the URL was already marked this run.
func (t *TombstoneSet) Gone(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.gone[url]
	return ok
}

// Len returns how many URLs are buried, for end-of-run diagnostics.
func (t *TombstoneSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.gone)
}
