// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package topology describes the mix network as seen by a client.
package topology

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
)

var (
	// ErrNotPopulated is returned before the first topology arrives.
	ErrNotPopulated = errors.New("topology: not yet populated")

	// ErrGatewayNotFound is returned when a route's destination gateway is unknown.
	ErrGatewayNotFound = errors.New("topology: gateway not found")

	// ErrEmptyLayer is returned when a mix layer has no usable nodes.
	ErrEmptyLayer = errors.New("topology: empty mix layer")
)

// Node is a mix node or gateway.
type Node struct {
	Identity addressing.NodeIdentity
	Layer    int
	Address  string
}

// Metadata identifies the network state a topology was built from.
type Metadata struct {
	KeyRotationID   uint32
	AbsoluteEpochID uint32
	RefreshedAt     time.Time
}

// Topology is an immutable snapshot of the network.
type Topology struct {
	Metadata Metadata

	// Layers holds the mix nodes of each layer, index 0 being layer 1.
	Layers [][]*Node

	Gateways map[addressing.NodeIdentity]*Node
}

// New returns a Topology over the given layers and gateways.
func New(meta Metadata, layers [][]*Node, gateways []*Node) *Topology {
	t := &Topology{
		Metadata: meta,
		Layers:   layers,
		Gateways: make(map[addressing.NodeIdentity]*Node, len(gateways)),
	}
	for _, g := range gateways {
		t.Gateways[g.Identity] = g
	}
	return t
}

// Gateway returns the gateway with the given identity.
func (t *Topology) Gateway(id addressing.NodeIdentity) (*Node, error) {
	g, ok := t.Gateways[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, id)
	}
	return g, nil
}

// RandomRoute picks one node per mix layer, for the first hops layers, and
// terminates the route at the destination gateway.
func (t *Topology) RandomRoute(rng *rand.Rand, hops int, destination addressing.NodeIdentity) ([]*Node, error) {
	gw, err := t.Gateway(destination)
	if err != nil {
		return nil, err
	}
	if hops > len(t.Layers) {
		return nil, fmt.Errorf("%w: requested %d hops, have %d layers", ErrEmptyLayer, hops, len(t.Layers))
	}

	route := make([]*Node, 0, hops+1)
	for i := 0; i < hops; i++ {
		layer := t.Layers[i]
		if len(layer) == 0 {
			return nil, fmt.Errorf("%w: layer %d", ErrEmptyLayer, i+1)
		}
		route = append(route, layer[rng.Intn(len(layer))])
	}
	return append(route, gw), nil
}
