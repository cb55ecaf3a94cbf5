// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package topology

import (
	"context"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
)

func TestRandomRoute(t *testing.T) {
	t.Parallel()
	gw := addressing.NodeIdentity{1}
	top, err := NewRandom(rand.Reader, Metadata{KeyRotationID: 3}, 3, 4, gw)
	require.NoError(t, err)

	rng := rand.NewMath()
	route, err := top.RandomRoute(rng, 3, gw)
	require.NoError(t, err)
	require.Len(t, route, 4)
	for i := 0; i < 3; i++ {
		require.Equal(t, i+1, route[i].Layer)
	}
	require.Equal(t, gw, route[3].Identity)

	route, err = top.RandomRoute(rng, 0, gw)
	require.NoError(t, err)
	require.Len(t, route, 1)

	_, err = top.RandomRoute(rng, 3, addressing.NodeIdentity{2})
	require.ErrorIs(t, err, ErrGatewayNotFound)

	_, err = top.RandomRoute(rng, 4, gw)
	require.ErrorIs(t, err, ErrEmptyLayer)
}

func TestAccessorWait(t *testing.T) {
	t.Parallel()
	a := NewAccessor()
	_, err := a.Current()
	require.ErrorIs(t, err, ErrNotPopulated)
	_, ok := a.CurrentKeyRotationID()
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.WaitForTopology(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	gw := addressing.NodeIdentity{9}
	top, err := NewRandom(rand.Reader, Metadata{KeyRotationID: 7}, 3, 1, gw)
	require.NoError(t, err)

	go a.Update(top)
	got, err := a.WaitForTopology(context.Background())
	require.NoError(t, err)
	require.Equal(t, top, got)

	id, ok := a.CurrentKeyRotationID()
	require.True(t, ok)
	require.Equal(t, uint32(7), id)
}
