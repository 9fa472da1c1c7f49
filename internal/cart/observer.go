// internal/cart/observer.go
package cart

import "sort"

type ChangeKind string

const (
	LineAdded   ChangeKind = "added"
	LineUpdated ChangeKind = "updated"
	LineRemoved ChangeKind = "removed"
	Cleared     ChangeKind = "cleared"
	Restored    ChangeKind = "restored"
)

// Change describes one effective mutation. LineID is empty for
// ledger-wide changes.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	LineID string     `json:"lineId,omitempty"`
}

// Subscribe registers fn for every future change and returns a function
// that removes it.
func (l *Ledger) Subscribe(fn func(Change)) (unsubscribe func()) {
	handle := l.nextHandle
	l.nextHandle++
	l.observers[handle] = fn
	return func() { delete(l.observers, handle) }
}

// Observers run in subscription order.
func (l *Ledger) notify(c Change) {
	if len(l.observers) == 0 {
		return
	}
	handles := make([]int, 0, len(l.observers))
	for h := range l.observers {
		handles = append(handles, h)
	}
	sort.Ints(handles)
	for _, h := range handles {
		if fn, ok := l.observers[h]; ok {
			fn(c)
		}
	}
}
