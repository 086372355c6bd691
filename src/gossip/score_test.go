package gossip

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScoreboard(t *testing.T) {
	now := time.Unix(0, 0)

	sb := NewScoreboard(ScoreConfig{
		HalfLife:     time.Minute,
		MinSamples:   10,
		Deprioritize: 0.2,
		Disconnect:   0.5,
	})
	sb.now = func() time.Time { return now }

	for i := 0; i < 7; i++ {
		require.Equal(t, StateOK, sb.Valid("p"))
	}
	// under MinSamples the peer is always OK
	require.Equal(t, StateOK, sb.Invalid("p"))
	require.Equal(t, StateOK, sb.Invalid("p"))
	require.Equal(t, StateDeprioritized, sb.Invalid("p"))

	for i := 0; i < 8; i++ {
		sb.Invalid("p")
	}
	require.Equal(t, StateDisconnected, sb.State("p"))

	// after enough half-lives the observations fall under MinSamples
	now = now.Add(10 * time.Minute)
	require.Equal(t, StateOK, sb.State("p"))

	sc := sb.Scores()["p"]
	require.InDelta(t, 18.0/1024, sc.Valid+sc.Invalid, 0.001)

	require.Equal(t, StateOK, sb.State("unknown"))
}

func TestSeenSet(t *testing.T) {
	s := NewSeenSet(10, 0.0001)

	require.True(t, s.Add("a"))
	require.False(t, s.Add("a"))
	require.True(t, s.Has("a"))

	// rotate once: "a" survives in the previous filter
	for i := 0; i < 10; i++ {
		s.Add(fmt.Sprintf("x%d", i))
	}
	require.True(t, s.Has("a"))

	// the next rotation forgets it
	for i := 0; i < 30; i++ {
		s.Add(fmt.Sprintf("y%d", i))
	}
	require.False(t, s.Has("a"))
}
