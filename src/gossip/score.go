package gossip

import (
	"math"
	"sync"
	"time"
)

// PeerState is the standing of a peer derived from its score.
type PeerState int

const (
	// StateOK peers receive relays and are asked for backfills.
	StateOK PeerState = iota
	// StateDeprioritized peers are skipped for relay and asked last.
	StateDeprioritized
	// StateDisconnected peers are ignored until their score decays.
	StateDisconnected
)

// String ...
func (s PeerState) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateDeprioritized:
		return "deprioritized"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ScoreConfig ...
type ScoreConfig struct {
	// HalfLife is the time after which past observations weigh half as much.
	HalfLife time.Duration
	// MinSamples is the decayed observation count under which a peer is
	// always considered OK.
	MinSamples float64
	// Deprioritize and Disconnect are invalid-event ratios.
	Deprioritize float64
	Disconnect   float64
}

// DefaultScoreConfig ...
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		HalfLife:     5 * time.Minute,
		MinSamples:   10,
		Deprioritize: 0.2,
		Disconnect:   0.5,
	}
}

// Score is the decayed count of valid and invalid events received from a
// peer.
type Score struct {
	Valid   float64
	Invalid float64
	State   PeerState
	updated time.Time
}

// Scoreboard tracks peer scores. Scores are additive and decay exponentially,
// so a peer that stops misbehaving eventually falls under MinSamples and
// recovers.
type Scoreboard struct {
	lock   sync.Mutex
	conf   ScoreConfig
	scores map[string]*Score
	now    func() time.Time
}

// NewScoreboard ...
func NewScoreboard(conf ScoreConfig) *Scoreboard {
	return &Scoreboard{
		conf:   conf,
		scores: make(map[string]*Score),
		now:    time.Now,
	}
}

// Valid records a valid event from peer and returns its new state.
func (s *Scoreboard) Valid(peer string) PeerState {
	return s.record(peer, 1, 0)
}

// Invalid records an invalid event from peer and returns its new state.
func (s *Scoreboard) Invalid(peer string) PeerState {
	return s.record(peer, 0, 1)
}

func (s *Scoreboard) record(peer string, valid, invalid float64) PeerState {
	s.lock.Lock()
	defer s.lock.Unlock()

	sc := s.decayed(peer)
	sc.Valid += valid
	sc.Invalid += invalid
	sc.State = s.state(sc)

	return sc.State
}

// State returns the current state of peer.
func (s *Scoreboard) State(peer string) PeerState {
	s.lock.Lock()
	defer s.lock.Unlock()

	sc := s.decayed(peer)
	sc.State = s.state(sc)
	return sc.State
}

// Scores returns a copy of every score, decayed to now.
func (s *Scoreboard) Scores() map[string]Score {
	s.lock.Lock()
	defer s.lock.Unlock()

	res := make(map[string]Score, len(s.scores))
	for peer := range s.scores {
		sc := s.decayed(peer)
		sc.State = s.state(sc)
		res[peer] = *sc
	}
	return res
}

// decayed applies the decay since the last update. Callers hold the lock.
func (s *Scoreboard) decayed(peer string) *Score {
	now := s.now()

	sc, ok := s.scores[peer]
	if !ok {
		sc = &Score{updated: now}
		s.scores[peer] = sc
		return sc
	}

	if s.conf.HalfLife > 0 {
		elapsed := now.Sub(sc.updated)
		if elapsed > 0 {
			f := math.Pow(0.5, float64(elapsed)/float64(s.conf.HalfLife))
			sc.Valid *= f
			sc.Invalid *= f
		}
	}
	sc.updated = now

	return sc
}

func (s *Scoreboard) state(sc *Score) PeerState {
	total := sc.Valid + sc.Invalid
	if total < s.conf.MinSamples || total == 0 {
		return StateOK
	}

	ratio := sc.Invalid / total
	switch {
	case ratio >= s.conf.Disconnect:
		return StateDisconnected
	case ratio >= s.conf.Deprioritize:
		return StateDeprioritized
	default:
		return StateOK
	}
}
