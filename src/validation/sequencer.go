package validation

import (
	"sync"

	cm "github.com/mosaicnetworks/weave/src/common"
)

// Sequencer serializes work per author with a fixed set of mutexes. Events of
// different authors usually land on different shards and proceed in parallel;
// events of the same author always share a shard.
type Sequencer struct {
	shards []sync.Mutex
}

// NewSequencer ...
func NewSequencer(shards int) *Sequencer {
	if shards <= 0 {
		shards = 1
	}
	return &Sequencer{shards: make([]sync.Mutex, shards)}
}

// Do runs f while holding the lock of author.
func (s *Sequencer) Do(author string, f func() error) error {
	m := &s.shards[cm.Shard(author, len(s.shards))]
	m.Lock()
	defer m.Unlock()
	return f()
}
