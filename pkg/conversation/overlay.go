package conversation

import (
	"sync"

	"chatsync/pkg/wire"
)

// Overlay holds optimistic per-message interaction state layered over the
// server-supplied snapshots. Every local edit gets a monotonic version
// stamp; an authoritative confirmation replaces the entry only when no
// newer local edit landed in between, so a stale server snapshot can never
// revert a fresher optimistic change.
type Overlay struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]overlayEntry
}

type overlayEntry struct {
	snap    wire.InteractionSnapshot
	version uint64
}

func NewOverlay() *Overlay {
	return &Overlay{entries: make(map[string]overlayEntry)}
}

// Get returns the overlaid snapshot for a message, when one exists.
func (o *Overlay) Get(messageID string) (wire.InteractionSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[messageID]
	return e.snap, ok
}

// ApplyLocal records an optimistic edit and returns its version stamp.
func (o *Overlay) ApplyLocal(messageID string, snap wire.InteractionSnapshot) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	o.entries[messageID] = overlayEntry{snap: snap, version: o.next}
	return o.next
}

// Confirm applies an authoritative snapshot for the edit stamped
// sinceVersion. It reports false, leaving the entry alone, when a newer
// local edit has superseded that version.
func (o *Overlay) Confirm(messageID string, snap wire.InteractionSnapshot, sinceVersion uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[messageID]
	if ok && e.version > sinceVersion {
		return false
	}
	o.next++
	o.entries[messageID] = overlayEntry{snap: snap, version: o.next}
	return true
}

// Drop removes the overlay for a message. Used when history reload makes
// the server snapshot authoritative again.
func (o *Overlay) Drop(messageID string) {
	o.mu.Lock()
	delete(o.entries, messageID)
	o.mu.Unlock()
}

// toggleReaction computes the next reaction: picking the held value clears
// it to none, anything else transitions directly.
func toggleReaction(current, value string) string {
	if current == value {
		return wire.ReactionNone
	}
	return value
}

// applyReaction adjusts a snapshot's counts for the caller's transition
// from its current reaction to next.
func applyReaction(snap wire.InteractionSnapshot, next string) wire.InteractionSnapshot {
	switch snap.MyReaction {
	case wire.ReactionUp:
		if snap.Reactions.Up > 0 {
			snap.Reactions.Up--
		}
	case wire.ReactionDown:
		if snap.Reactions.Down > 0 {
			snap.Reactions.Down--
		}
	}
	switch next {
	case wire.ReactionUp:
		snap.Reactions.Up++
	case wire.ReactionDown:
		snap.Reactions.Down++
	}
	snap.MyReaction = next
	return snap
}
