// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package epochtime implements network epoch and key rotation timekeeping.
package epochtime

import (
	"errors"
	"time"
)

// DefaultEpochDuration is the nominal length of a network epoch.
const DefaultEpochDuration = time.Hour

// DefaultEpochsInRotation is the number of epochs a sphinx key stays current.
const DefaultEpochsInRotation = 24

var errPredatesStart = errors.New("epochtime: time predates the initial epoch")

// KeyRotationConfig describes the global epoch and key rotation schedule.
type KeyRotationConfig struct {
	// EpochDuration is the length of a single epoch.
	EpochDuration time.Duration

	// EpochsInRotation is the number of epochs per key rotation.
	EpochsInRotation uint32

	// InitialEpochID is the absolute id of the epoch starting at InitialEpochStart.
	InitialEpochID uint32

	// InitialEpochStart is the start of the reference epoch.
	InitialEpochStart time.Time
}

// DefaultKeyRotationConfig returns the mainnet-like schedule anchored at start.
func DefaultKeyRotationConfig(start time.Time) KeyRotationConfig {
	return KeyRotationConfig{
		EpochDuration:     DefaultEpochDuration,
		EpochsInRotation:  DefaultEpochsInRotation,
		InitialEpochStart: start,
	}
}

// Validate checks the schedule for nonsensical values.
func (c KeyRotationConfig) Validate() error {
	if c.EpochDuration <= 0 {
		return errors.New("epochtime: EpochDuration must be positive")
	}
	if c.EpochsInRotation == 0 {
		return errors.New("epochtime: EpochsInRotation must be positive")
	}
	return nil
}

// RotationLifetime is the time a key rotation stays usable: its own epochs
// plus the overlap epoch before the next key takes over completely.
func (c KeyRotationConfig) RotationLifetime() time.Duration {
	return time.Duration(c.EpochsInRotation+1) * c.EpochDuration
}

// ExpectedCurrentEpochID returns the epoch the wall clock says we are in,
// with the time elapsed in it and the time till the next one.
func (c KeyRotationConfig) ExpectedCurrentEpochID(now time.Time) (current uint32, elapsed, till time.Duration, err error) {
	fromStart := now.Sub(c.InitialEpochStart)
	if fromStart < 0 {
		return 0, 0, 0, errPredatesStart
	}

	passed := uint32(fromStart / c.EpochDuration)
	current = c.InitialEpochID + passed

	base := c.InitialEpochStart.Add(time.Duration(passed) * c.EpochDuration)
	elapsed = now.Sub(base)
	till = base.Add(c.EpochDuration).Sub(now)
	return
}

// KeyRotationID returns the rotation an absolute epoch id belongs to.
func (c KeyRotationConfig) KeyRotationID(epoch uint32) uint32 {
	return epoch / c.EpochsInRotation
}

// ExpectedCurrentKeyRotationID returns the rotation the wall clock says is current.
func (c KeyRotationConfig) ExpectedCurrentKeyRotationID(now time.Time) (uint32, error) {
	epoch, _, _, err := c.ExpectedCurrentEpochID(now)
	if err != nil {
		return 0, err
	}
	return c.KeyRotationID(epoch), nil
}

// KeyRotationStart returns the start time of the given rotation.
func (c KeyRotationConfig) KeyRotationStart(rotation uint32) time.Time {
	firstEpoch := int64(rotation)*int64(c.EpochsInRotation) - int64(c.InitialEpochID)
	return c.InitialEpochStart.Add(time.Duration(firstEpoch) * c.EpochDuration)
}

// ExpectedCurrentKeyRotationStart returns the start of the current rotation.
func (c KeyRotationConfig) ExpectedCurrentKeyRotationStart(now time.Time) (time.Time, error) {
	rotation, err := c.ExpectedCurrentKeyRotationID(now)
	if err != nil {
		return time.Time{}, err
	}
	return c.KeyRotationStart(rotation), nil
}

// EpochStuck reports whether the network's advertised epoch lags the wall
// clock by more than one epoch, i.e. epoch transitions are not happening.
func (c KeyRotationConfig) EpochStuck(networkEpoch uint32, now time.Time) bool {
	expected, _, _, err := c.ExpectedCurrentEpochID(now)
	if err != nil {
		return false
	}
	return expected > networkEpoch+1
}
