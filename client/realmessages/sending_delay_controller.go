// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/nymtech/nym-go/internal/instrument"
)

const (
	minDelayMultiplier uint32 = 1
	maxDelayMultiplier uint32 = 6

	// delayIncreaseInterval is the minimum time between two increases of
	// the multiplier.
	delayIncreaseInterval = 30 * time.Second

	// delayDecreaseInterval is how long the outbound channel must be free
	// of backpressure before the multiplier is decreased.
	delayDecreaseInterval = 30 * time.Second
)

// sendingDelayController scales the average sending delay when the mix
// sender channel fills up faster than it drains.
type sendingDelayController struct {
	log *log.Logger
	now func() time.Time

	multiplier         uint32
	recordedMultiplier uint32

	lastIncrease     time.Time
	lastDecrease     time.Time
	lastBackpressure time.Time
}

func newSendingDelayController(logger *log.Logger, now func() time.Time) *sendingDelayController {
	t := now()
	return &sendingDelayController{
		log:                logger,
		now:                now,
		multiplier:         minDelayMultiplier,
		recordedMultiplier: minDelayMultiplier,
		lastIncrease:       t,
		lastDecrease:       t,
		lastBackpressure:   t,
	}
}

func (c *sendingDelayController) currentMultiplier() uint32 {
	return c.multiplier
}

// isBackpressureCurrentlyDetected returns true once at least half of the
// channel is in use.
func (c *sendingDelayController) isBackpressureCurrentlyDetected(usedSlots, capacity int) bool {
	return capacity > 0 && usedSlots*2 >= capacity
}

func (c *sendingDelayController) recordBackpressureDetected() {
	c.lastBackpressure = c.now()
}

func (c *sendingDelayController) wasBackpressureDetectedRecently() bool {
	return c.now().Sub(c.lastBackpressure) < delayDecreaseInterval
}

func (c *sendingDelayController) notIncreasedDelayRecently() bool {
	return c.now().Sub(c.lastIncrease) >= delayIncreaseInterval
}

func (c *sendingDelayController) notDecreasedDelayRecently() bool {
	return c.now().Sub(c.lastDecrease) >= delayDecreaseInterval
}

func (c *sendingDelayController) increaseDelayMultiplier() {
	if c.multiplier < maxDelayMultiplier {
		c.multiplier++
		c.lastIncrease = c.now()
		c.log.Debugf("Increasing sending delay multiplier to %d", c.multiplier)
	}
}

func (c *sendingDelayController) decreaseDelayMultiplier() {
	if c.multiplier > minDelayMultiplier {
		c.multiplier--
		c.lastDecrease = c.now()
		c.log.Debugf("Decreasing sending delay multiplier to %d", c.multiplier)
	}
}

// adjust updates the multiplier given the number of used and total slots
// of the outbound channel.
func (c *sendingDelayController) adjust(usedSlots, capacity int) {
	if c.isBackpressureCurrentlyDetected(usedSlots, capacity) {
		c.recordBackpressureDetected()
	}
	if capacity > 0 && usedSlots >= capacity && c.notIncreasedDelayRecently() {
		c.increaseDelayMultiplier()
	}
	if !c.wasBackpressureDetectedRecently() && c.notDecreasedDelayRecently() {
		c.decreaseDelayMultiplier()
	}
	c.recordDelayMultiplier()
}

func (c *sendingDelayController) recordDelayMultiplier() {
	if c.multiplier == c.recordedMultiplier {
		return
	}
	if c.multiplier > c.recordedMultiplier {
		c.log.Warnf("Mix sender is congested, sending delay multiplier raised to %d", c.multiplier)
	} else {
		c.log.Infof("Sending delay multiplier lowered to %d", c.multiplier)
	}
	c.recordedMultiplier = c.multiplier
	instrument.SendingDelayMultiplier(c.multiplier)
}
