package gossip

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// SeenSet remembers recently relayed event ids so that a flood of duplicates
// is dropped before reaching validation. It rotates two bloom filters: when
// the current one holds capacity ids it becomes the previous one and a fresh
// filter takes its place, so memory stays bounded and old ids are forgotten.
// A false positive costs nothing: an id is only skipped when the node also
// holds or buffers the event.
type SeenSet struct {
	lock     sync.Mutex
	capacity uint
	fpRate   float64
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	count    uint
}

// NewSeenSet ...
func NewSeenSet(capacity uint, fpRate float64) *SeenSet {
	if capacity == 0 {
		capacity = 1
	}
	return &SeenSet{
		capacity: capacity,
		fpRate:   fpRate,
		current:  bloom.NewWithEstimates(capacity, fpRate),
		previous: bloom.NewWithEstimates(capacity, fpRate),
	}
}

// Add records id and reports whether it was not seen before.
func (s *SeenSet) Add(id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.previous.TestString(id) {
		s.current.AddString(id)
		return false
	}

	if s.current.TestAndAddString(id) {
		return false
	}

	s.count++
	if s.count >= s.capacity {
		s.previous = s.current
		s.current = bloom.NewWithEstimates(s.capacity, s.fpRate)
		s.count = 0
	}

	return true
}

// Has ...
func (s *SeenSet) Has(id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.current.TestString(id) || s.previous.TestString(id)
}
