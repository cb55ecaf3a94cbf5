// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package topology

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
)

// Accessor hands out the current topology snapshot. Readers never block
// each other or the updater; Update swaps the snapshot atomically.
type Accessor struct {
	current atomic.Pointer[Topology]

	readyOnce sync.Once
	readyCh   chan struct{}
}

// NewAccessor returns an empty Accessor.
func NewAccessor() *Accessor {
	return &Accessor{readyCh: make(chan struct{})}
}

// NewStaticAccessor returns an Accessor already populated with t.
func NewStaticAccessor(t *Topology) *Accessor {
	a := NewAccessor()
	a.Update(t)
	return a
}

// Update replaces the current snapshot.
func (a *Accessor) Update(t *Topology) {
	if t == nil {
		return
	}
	a.current.Store(t)
	a.readyOnce.Do(func() { close(a.readyCh) })
}

// Current returns the current snapshot, or ErrNotPopulated.
func (a *Accessor) Current() (*Topology, error) {
	t := a.current.Load()
	if t == nil {
		return nil, ErrNotPopulated
	}
	return t, nil
}

// WaitForTopology blocks until the first snapshot is available.
func (a *Accessor) WaitForTopology(ctx context.Context) (*Topology, error) {
	select {
	case <-a.readyCh:
		return a.Current()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CurrentRoute waits for a topology and picks a route to destination.
func (a *Accessor) CurrentRoute(ctx context.Context, rng *rand.Rand, hops int, destination addressing.NodeIdentity) ([]*Node, error) {
	t, err := a.WaitForTopology(ctx)
	if err != nil {
		return nil, err
	}
	return t.RandomRoute(rng, hops, destination)
}

// CurrentMetadata returns the metadata of the current snapshot.
func (a *Accessor) CurrentMetadata() (Metadata, bool) {
	t := a.current.Load()
	if t == nil {
		return Metadata{}, false
	}
	return t.Metadata, true
}

// CurrentKeyRotationID returns the key rotation of the current snapshot.
func (a *Accessor) CurrentKeyRotationID() (uint32, bool) {
	meta, ok := a.CurrentMetadata()
	return meta.KeyRotationID, ok
}
