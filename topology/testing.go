// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package topology

import (
	"fmt"
	"io"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
)

// NewRandom builds a topology with layers mix layers of perLayer nodes and
// the given gateways, with random identities. It backs the simulator and tests.
func NewRandom(rng io.Reader, meta Metadata, layers, perLayer int, gateways ...addressing.NodeIdentity) (*Topology, error) {
	mixes := make([][]*Node, layers)
	for l := 0; l < layers; l++ {
		for i := 0; i < perLayer; i++ {
			n := &Node{Layer: l + 1, Address: fmt.Sprintf("mix-%d-%d", l+1, i)}
			if _, err := io.ReadFull(rng, n.Identity[:]); err != nil {
				return nil, err
			}
			mixes[l] = append(mixes[l], n)
		}
	}
	gws := make([]*Node, 0, len(gateways))
	for i, id := range gateways {
		gws = append(gws, &Node{Identity: id, Address: fmt.Sprintf("gateway-%d", i)})
	}
	return New(meta, mixes, gws), nil
}
