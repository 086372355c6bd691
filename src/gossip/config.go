package gossip

import "time"

// Config ...
type Config struct {
	// BackfillDepth bounds how many ancestor levels a responder adds to the
	// requested events.
	BackfillDepth int
	// BackfillLimit bounds the number of events in one backfill response.
	BackfillLimit int
	// BackfillRetries is the number of retries against one peer before
	// falling back to the next.
	BackfillRetries uint64
	// BackfillRounds bounds the request rounds against one peer, each round
	// asking for the ancestors the previous one revealed.
	BackfillRounds int
	// BackfillTimeout bounds a background backfill triggered by a missing
	// parent.
	BackfillTimeout time.Duration

	// RateLimit is the sustained number of inbound events accepted per
	// second from one peer, RateBurst the burst size.
	RateLimit float64
	RateBurst int

	SeenCapacity uint
	SeenFPRate   float64

	Score ScoreConfig
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		BackfillDepth:   16,
		BackfillLimit:   500,
		BackfillRetries: 3,
		BackfillRounds:  8,
		BackfillTimeout: 30 * time.Second,
		RateLimit:       200,
		RateBurst:       1000,
		SeenCapacity:    100000,
		SeenFPRate:      0.001,
		Score:           DefaultScoreConfig(),
	}
}
