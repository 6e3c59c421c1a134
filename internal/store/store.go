// Package store is the in-memory defect collection backing one map page visit.
//
// The store is mutated only by Replace (a fetch result) and Append (a created
// defect). It never removes items. It is not safe for concurrent use; the page
// controller's event loop is its only writer.
package store

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
)

// Store is an ordered, id-indexed sequence of defects.
type Store struct {
	items   []defect.Defect
	index   map[int64]int
	version uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{index: make(map[int64]int)}
}

// Len returns the number of defects.
func (s *Store) Len() int { return len(s.items) }

// Version increases on every mutation that changed the contents.
func (s *Store) Version() uint64 { return s.version }

// All returns a copy of the defects in insertion order.
func (s *Store) All() []defect.Defect {
	out := make([]defect.Defect, len(s.items))
	copy(out, s.items)
	return out
}

// Get returns the defect with the given id.
func (s *Store) Get(id int64) (defect.Defect, bool) {
	i, ok := s.index[id]
	if !ok {
		return defect.Defect{}, false
	}
	return s.items[i], true
}

// Points returns the defect locations in insertion order.
func (s *Store) Points() []orb.Point {
	pts := make([]orb.Point, len(s.items))
	for i, d := range s.items {
		pts[i] = d.Point()
	}
	return pts
}

// Append adds a created defect. A defect whose id is already present replaces
// the stored copy in place, so an id never appears twice. It returns true when
// the id was new. Defects without an id are ignored.
func (s *Store) Append(d defect.Defect) bool {
	if d.ID == 0 {
		return false
	}
	s.version++
	if i, ok := s.index[d.ID]; ok {
		s.items[i] = d
		return false
	}
	s.index[d.ID] = len(s.items)
	s.items = append(s.items, d)
	return true
}

// Replace merges a fetch result into the store.
//
// Rows in fetched take the leading positions in fetch order and win for the
// ids they contain. Rows already held but missing from fetched (an optimistic
// append that a stale fetch did not see) are kept after them in their previous
// order. Duplicate or zero ids in fetched are skipped; the number skipped is
// returned.
func (s *Store) Replace(fetched []defect.Defect) (skipped int) {
	items := make([]defect.Defect, 0, len(fetched)+len(s.items))
	index := make(map[int64]int, len(fetched)+len(s.items))

	for _, d := range fetched {
		if d.ID == 0 {
			skipped++
			continue
		}
		if _, dup := index[d.ID]; dup {
			skipped++
			continue
		}
		index[d.ID] = len(items)
		items = append(items, d)
	}
	for _, d := range s.items {
		if _, ok := index[d.ID]; ok {
			continue
		}
		index[d.ID] = len(items)
		items = append(items, d)
	}

	s.items = items
	s.index = index
	s.version++
	return skipped
}
