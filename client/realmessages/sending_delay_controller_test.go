// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nlog "github.com/nymtech/nym-go/core/log"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestSendingDelayIncrease(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Now()}
	c := newSendingDelayController(nlog.Discard(), clock.Now)
	require.Equal(t, minDelayMultiplier, c.currentMultiplier())

	// a full channel right after start does not increase yet
	c.adjust(10, 10)
	require.Equal(t, minDelayMultiplier, c.currentMultiplier())

	clock.advance(delayIncreaseInterval)
	c.adjust(10, 10)
	require.Equal(t, uint32(2), c.currentMultiplier())

	// at most one increase per interval
	clock.advance(time.Second)
	c.adjust(10, 10)
	require.Equal(t, uint32(2), c.currentMultiplier())

	for i := 0; i < 10; i++ {
		clock.advance(delayIncreaseInterval)
		c.adjust(10, 10)
	}
	require.Equal(t, maxDelayMultiplier, c.currentMultiplier())
}

func TestSendingDelayDecrease(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Now()}
	c := newSendingDelayController(nlog.Discard(), clock.Now)

	for i := 0; i < 2; i++ {
		clock.advance(delayIncreaseInterval)
		c.adjust(10, 10)
	}
	require.Equal(t, uint32(3), c.currentMultiplier())

	// half full channel is backpressure, but not enough to increase
	clock.advance(delayIncreaseInterval)
	c.adjust(5, 10)
	require.Equal(t, uint32(3), c.currentMultiplier())

	// recent backpressure blocks the decrease
	clock.advance(delayDecreaseInterval / 2)
	c.adjust(0, 10)
	require.Equal(t, uint32(3), c.currentMultiplier())

	clock.advance(delayDecreaseInterval / 2)
	c.adjust(0, 10)
	require.Equal(t, uint32(2), c.currentMultiplier())

	// at most one decrease per interval
	clock.advance(time.Second)
	c.adjust(0, 10)
	require.Equal(t, uint32(2), c.currentMultiplier())

	clock.advance(delayDecreaseInterval)
	c.adjust(0, 10)
	require.Equal(t, minDelayMultiplier, c.currentMultiplier())

	clock.advance(delayDecreaseInterval)
	c.adjust(0, 10)
	require.Equal(t, minDelayMultiplier, c.currentMultiplier())
	require.Equal(t, minDelayMultiplier, c.recordedMultiplier)
}

func TestSendingDelayUnbufferedChannel(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Now()}
	c := newSendingDelayController(nlog.Discard(), clock.Now)

	clock.advance(time.Hour)
	c.adjust(0, 0)
	require.Equal(t, minDelayMultiplier, c.currentMultiplier())
}
