// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transmission

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sized []byte

func (s sized) Size() int { return len(s) }

func TestBufferFIFOWithinLane(t *testing.T) {
	b := NewBuffer[int]()
	b.Store(GeneralLane, 1, 2, 3)
	rng := rand.New(rand.NewSource(1))

	for want := 1; want <= 3; want++ {
		lane, got, ok := b.PopNextAtRandom(rng)
		require.True(t, ok)
		require.Equal(t, GeneralLane, lane)
		require.Equal(t, want, got)
	}
	_, _, ok := b.PopNextAtRandom(rng)
	require.False(t, ok)
	require.True(t, b.IsEmpty())
	require.Equal(t, 0, b.NumLanes())
}

func TestBufferLaneFairness(t *testing.T) {
	b := NewBuffer[int]()
	heavy := ConnectionLane(1)
	light := ConnectionLane(2)
	for i := 0; i < 1000; i++ {
		b.Store(heavy, i)
	}
	b.Store(light, -1)
	rng := rand.New(rand.NewSource(42))

	// the light lane must not wait behind the whole heavy backlog
	for i := 0; i < 64; i++ {
		lane, _, ok := b.PopNextAtRandom(rng)
		require.True(t, ok)
		if lane == light {
			return
		}
	}
	t.Fatal("light lane starved")
}

func TestBufferAccounting(t *testing.T) {
	b := NewBuffer[sized]()
	b.Store(GeneralLane, sized("abc"), sized("de"))
	b.Store(RetransmissionLane, sized("f"))

	require.Equal(t, 3, b.TotalSize())
	require.Equal(t, 6, b.TotalSizeInBytes())
	require.Equal(t, 2, b.NumLanes())

	n, ok := b.LaneLength(GeneralLane)
	require.True(t, ok)
	require.Equal(t, 2, n)
	_, ok = b.LaneLength(ConnectionLane(7))
	require.False(t, ok)

	require.Equal(t, []sized{sized("abc"), sized("de")}, b.Remove(GeneralLane))
	require.Nil(t, b.Remove(GeneralLane))
	require.Equal(t, 1, b.TotalSize())
	require.Equal(t, []Lane{RetransmissionLane}, b.Lanes())
}

func TestBufferPopAtMostN(t *testing.T) {
	b := NewBuffer[int]()
	b.Store(GeneralLane, 1, 2)
	b.Store(ConnectionLane(3), 3)
	rng := rand.New(rand.NewSource(7))

	got := b.PopAtMostN(rng, 2)
	require.Len(t, got, 2)
	require.Equal(t, 1, b.TotalSize())

	b.StoreMultiple(got)
	require.Equal(t, 3, b.TotalSize())

	got = b.PopAtMostN(rng, 10)
	require.Len(t, got, 3)
	require.Nil(t, b.PopAtMostN(rng, 1))
}

func TestBufferPruneStaleConnections(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBuffer[int]()
	b.SetClock(func() time.Time { return now })

	b.Store(ConnectionLane(1), 1)
	b.Store(GeneralLane, 2)
	now = now.Add(MaxConnectionIdle / 2)
	b.Store(ConnectionLane(2), 3)

	now = now.Add(MaxConnectionIdle/2 + time.Second)
	dropped := b.PruneStaleConnections()
	require.Equal(t, []LanedItem[int]{{Lane: ConnectionLane(1), Item: 1}}, dropped)
	require.Equal(t, 2, b.NumLanes())

	// non connection lanes are never considered stale
	now = now.Add(time.Hour)
	b.PruneStaleConnections()
	require.Equal(t, []Lane{GeneralLane}, b.Lanes())
}

func TestLaneQueueLengths(t *testing.T) {
	l := NewLaneQueueLengths()
	l.Set(ConnectionLane(1), 5)
	l.Set(GeneralLane, 2)
	require.Equal(t, 5, l.Get(ConnectionLane(1)))
	require.Equal(t, 7, l.Total())

	l.Set(ConnectionLane(1), 0)
	require.Equal(t, 0, l.Get(ConnectionLane(1)))
	l.Remove(GeneralLane)
	require.Equal(t, 0, l.Total())
}

func TestLaneString(t *testing.T) {
	require.Equal(t, "connection(12)", ConnectionLane(12).String())
	require.Equal(t, "retransmission", RetransmissionLane.String())
	require.True(t, ConnectionLane(0).IsConnection())
	require.False(t, GeneralLane.IsConnection())
	require.Equal(t, ConnectionCommand{Kind: CloseConnection, ID: 4}, NewCloseCommand(4))
}
