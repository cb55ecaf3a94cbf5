// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package epochtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() KeyRotationConfig {
	return KeyRotationConfig{
		EpochDuration:     time.Hour,
		EpochsInRotation:  24,
		InitialEpochID:    0,
		InitialEpochStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestExpectedCurrentEpochID(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	now := cfg.InitialEpochStart.Add(25*time.Hour + 10*time.Minute)
	current, elapsed, till, err := cfg.ExpectedCurrentEpochID(now)
	require.NoError(t, err)
	require.Equal(t, uint32(25), current)
	require.Equal(t, 10*time.Minute, elapsed)
	require.Equal(t, 50*time.Minute, till)

	_, _, _, err = cfg.ExpectedCurrentEpochID(cfg.InitialEpochStart.Add(-time.Second))
	require.Error(t, err)
}

func TestKeyRotation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	now := cfg.InitialEpochStart.Add(49 * time.Hour)
	rotation, err := cfg.ExpectedCurrentKeyRotationID(now)
	require.NoError(t, err)
	require.Equal(t, uint32(2), rotation)

	start, err := cfg.ExpectedCurrentKeyRotationStart(now)
	require.NoError(t, err)
	require.Equal(t, cfg.InitialEpochStart.Add(48*time.Hour), start)

	require.Equal(t, 25*time.Hour, cfg.RotationLifetime())
}

func TestEpochStuck(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	now := cfg.InitialEpochStart.Add(10*time.Hour + time.Minute)

	require.False(t, cfg.EpochStuck(10, now))
	require.False(t, cfg.EpochStuck(9, now))
	require.True(t, cfg.EpochStuck(8, now))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	require.Error(t, KeyRotationConfig{}.Validate())
	require.Error(t, KeyRotationConfig{EpochDuration: time.Hour}.Validate())
}
