// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package preparer turns fragments into mix packets ready to be forwarded.
package preparer

import (
	"time"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/topology"
)

// MixPacket is an opaque packet plus the node it must be handed to.
type MixPacket struct {
	NextHop    addressing.NodeIdentity
	Packet     []byte
	PacketType params.PacketType
}

// PreparedFragment is a fragment wrapped into a MixPacket.
type PreparedFragment struct {
	// FragmentIdentifier of the wrapped fragment.
	FragmentIdentifier chunking.FragmentIdentifier

	// TotalDelay is the expected time from sending the packet until its
	// ack comes back: forward hop delays plus ack hop delays.
	TotalDelay time.Duration

	MixPacket *MixPacket
}

// Codec builds the layered packets themselves. The message handler never
// looks inside the bytes it returns.
type Codec interface {
	// Prepare wraps payload for route with the given per hop delays. The
	// final hop of route is the destination gateway of recipient.
	Prepare(payload []byte, route []*topology.Node, delays []time.Duration, recipient addressing.Recipient, size params.PacketSize, packetType params.PacketType) ([]byte, error)

	// PrepareReply wraps payload using a reply SURB.
	PrepareReply(payload []byte, surb *anonymous.ReplySurb, size params.PacketSize, packetType params.PacketType) ([]byte, error)

	// NewSurb builds a reply block routing back to recipient over route.
	NewSurb(route []*topology.Node, delays []time.Duration, recipient addressing.Recipient, key anonymous.SurbEncryptionKey, rotation anonymous.KeyRotation) (*anonymous.ReplySurb, error)
}
