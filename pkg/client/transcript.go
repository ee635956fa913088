package client

import (
	"sync"
	"time"
)

// EntryKind distinguishes chat lines from connection notices.
type EntryKind int

const (
	EntryChat   EntryKind = iota // a peer's broadcast
	EntryNotice                  // connection_failed, disconnect, ...
)

// Entry is one line of the display buffer.
type Entry struct {
	Kind     EntryKind
	Username string
	Text     string
	At       time.Time
}

// Transcript is the append-only display buffer shared between the receive
// goroutine (its only writer) and the render path (a reader).
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
	updated chan struct{}
}

func newTranscript() *Transcript {
	return &Transcript{updated: make(chan struct{}, 1)}
}

// append is unexported so only the receive goroutine can write.
func (t *Transcript) append(e Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()

	select {
	case t.updated <- struct{}{}:
	default: // a wake-up is already pending
	}
}

// Len returns the number of entries so far.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Since returns a copy of the entries from index n on.
func (t *Transcript) Since(n int) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n >= len(t.entries) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([]Entry, len(t.entries)-n)
	copy(out, t.entries[n:])
	return out
}

// Updated signals, coalesced, that new entries may be available.
func (t *Transcript) Updated() <-chan struct{} {
	return t.updated
}
