package event

import "sort"

// Position is the place of an event in the total order. Concurrent events are
// ordered by ascending (Lamport, Author, ID), which every node computes
// identically without communication.
type Position struct {
	Lamport uint64
	Author  string
	ID      string
}

// Less ...
func (p Position) Less(o Position) bool {
	if p.Lamport != o.Lamport {
		return p.Lamport < o.Lamport
	}
	if p.Author != o.Author {
		return p.Author < o.Author
	}
	return p.ID < o.ID
}

// IsZero ...
func (p Position) IsZero() bool {
	return p.ID == ""
}

// Less orders two admitted events.
func Less(a, b *Event) bool {
	return a.Position().Less(b.Position())
}

// ByPosition implements sort.Interface on admitted events.
type ByPosition []*Event

func (a ByPosition) Len() int           { return len(a) }
func (a ByPosition) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByPosition) Less(i, j int) bool { return Less(a[i], a[j]) }

// Sort sorts admitted events in total order.
func Sort(events []*Event) {
	sort.Sort(ByPosition(events))
}
