// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package preparer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/topology"
)

// SurbAckOverhead is the room a SURB-ack takes inside every data packet.
var SurbAckOverhead = params.NodeAddressLength + 2 + params.AckPacket.Size()

// LoopCoverPayload is the content of every loop cover message.
var LoopCoverPayload = []byte("The cover message")

// DropCoverPayload is the content of every drop cover message.
var DropCoverPayload = []byte("The drop cover message")

var errTruncatedSurbAck = errors.New("preparer: truncated surb-ack")

// AvailablePlaintextPerPacket returns how many fragment bytes fit into a
// packet of the given size once the SURB-ack is accounted for.
func AvailablePlaintextPerPacket(size params.PacketSize) int {
	return size.PlaintextSize() - SurbAckOverhead
}

// Config parameterises a Preparer.
type Config struct {
	SenderAddress      addressing.Recipient
	AveragePacketDelay time.Duration
	AverageAckDelay    time.Duration
	NumMixHops         int
}

// Preparer wraps fragments, cover messages and reply SURBs into packets.
// A Preparer owns its random sources and must not be shared between
// goroutines; use Clone to hand one to another task.
type Preparer struct {
	cfg   Config
	codec Codec
	rng   *rand.Rand
	entr  io.Reader
}

// New returns a Preparer. rng drives delay and route sampling, entropy
// provides key material.
func New(cfg Config, codec Codec, rng *rand.Rand, entropy io.Reader) *Preparer {
	return &Preparer{
		cfg:   cfg,
		codec: codec,
		rng:   rng,
		entr:  entropy,
	}
}

// Clone returns a Preparer sharing configuration and codec but using the
// given random sources.
func (p *Preparer) Clone(rng *rand.Rand, entropy io.Reader) *Preparer {
	return New(p.cfg, p.codec, rng, entropy)
}

// NumMixHops returns the number of mix hops used for every route.
func (p *Preparer) NumMixHops() int {
	return p.cfg.NumMixHops
}

// SetAverageAckDelay updates the per hop ack delay.
func (p *Preparer) SetAverageAckDelay(d time.Duration) {
	p.cfg.AverageAckDelay = d
}

// SenderAddress returns the address acks and SURBs route back to.
func (p *Preparer) SenderAddress() addressing.Recipient {
	return p.cfg.SenderAddress
}

// generateSurbAck builds the ack packet for id, routed back to ourselves,
// and returns it encoded together with its expected delay.
func (p *Preparer) generateSurbAck(top *topology.Topology, ackKey *acknowledgements.AckKey, id chunking.FragmentIdentifier, packetType params.PacketType) ([]byte, time.Duration, error) {
	route, err := top.RandomRoute(p.rng, p.cfg.NumMixHops, p.cfg.SenderAddress.Gateway)
	if err != nil {
		return nil, 0, err
	}
	delays := GenerateDelays(p.rng, len(route), p.cfg.AverageAckDelay)

	ackPayload, err := acknowledgements.PrepareIdentifier(p.entr, ackKey, id)
	if err != nil {
		return nil, 0, err
	}
	packet, err := p.codec.Prepare(ackPayload, route, delays, p.cfg.SenderAddress, params.AckPacket, packetType)
	if err != nil {
		return nil, 0, err
	}
	if len(packet) > 0xffff {
		return nil, 0, fmt.Errorf("preparer: ack packet too large: %d", len(packet))
	}

	out := make([]byte, 0, params.NodeAddressLength+2+len(packet))
	out = append(out, route[0].Identity[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(packet)))
	out = append(out, packet...)
	return out, SumDelays(delays), nil
}

// SplitSurbAck splits a received data payload into the embedded SURB-ack's
// first hop, the ack packet and the remaining fragment bytes.
func SplitSurbAck(payload []byte) (addressing.NodeIdentity, []byte, []byte, error) {
	var firstHop addressing.NodeIdentity
	if len(payload) < params.NodeAddressLength+2 {
		return firstHop, nil, nil, errTruncatedSurbAck
	}
	copy(firstHop[:], payload)
	rest := payload[params.NodeAddressLength:]
	n := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if n > len(rest) {
		return firstHop, nil, nil, errTruncatedSurbAck
	}
	return firstHop, rest[:n], rest[n:], nil
}

// PrepareChunkForSending wraps fragment into a packet destined for recipient.
func (p *Preparer) PrepareChunkForSending(fragment *chunking.Fragment, top *topology.Topology, ackKey *acknowledgements.AckKey, recipient addressing.Recipient, size params.PacketSize, packetType params.PacketType) (*PreparedFragment, error) {
	id := fragment.FragmentIdentifier()
	surbAck, ackDelay, err := p.generateSurbAck(top, ackKey, id, packetType)
	if err != nil {
		return nil, err
	}

	route, err := top.RandomRoute(p.rng, p.cfg.NumMixHops, recipient.Gateway)
	if err != nil {
		return nil, err
	}
	delays := GenerateDelays(p.rng, len(route), p.cfg.AveragePacketDelay)

	payload := append(surbAck, fragment.Bytes()...)
	packet, err := p.codec.Prepare(payload, route, delays, recipient, size, packetType)
	if err != nil {
		return nil, err
	}
	return &PreparedFragment{
		FragmentIdentifier: id,
		TotalDelay:         SumDelays(delays) + ackDelay,
		MixPacket: &MixPacket{
			NextHop:    route[0].Identity,
			Packet:     packet,
			PacketType: packetType,
		},
	}, nil
}

// PrepareReplyChunkForSending wraps fragment into a packet using surb.
func (p *Preparer) PrepareReplyChunkForSending(fragment *chunking.Fragment, top *topology.Topology, ackKey *acknowledgements.AckKey, surb *anonymous.ReplySurb, size params.PacketSize, packetType params.PacketType) (*PreparedFragment, error) {
	id := fragment.FragmentIdentifier()
	surbAck, ackDelay, err := p.generateSurbAck(top, ackKey, id, packetType)
	if err != nil {
		return nil, err
	}

	payload := append(surbAck, fragment.Bytes()...)
	packet, err := p.codec.PrepareReply(payload, surb, size, packetType)
	if err != nil {
		return nil, err
	}

	// the reply route delays are unknown to us, assume the average
	expectedForward := p.cfg.AveragePacketDelay * time.Duration(p.cfg.NumMixHops+1)
	return &PreparedFragment{
		FragmentIdentifier: id,
		TotalDelay:         expectedForward + ackDelay,
		MixPacket: &MixPacket{
			NextHop:    surb.FirstHop,
			Packet:     packet,
			PacketType: packetType,
		},
	}, nil
}

// GenerateReplySurbs builds amount SURBs routing back to ourselves.
func (p *Preparer) GenerateReplySurbs(top *topology.Topology, amount int, rotation anonymous.KeyRotation) ([]*anonymous.ReplySurb, error) {
	surbs := make([]*anonymous.ReplySurb, 0, amount)
	for i := 0; i < amount; i++ {
		route, err := top.RandomRoute(p.rng, p.cfg.NumMixHops, p.cfg.SenderAddress.Gateway)
		if err != nil {
			return nil, err
		}
		key, err := anonymous.NewSurbEncryptionKey(p.entr)
		if err != nil {
			return nil, err
		}
		delays := GenerateDelays(p.rng, len(route), p.cfg.AveragePacketDelay)
		surb, err := p.codec.NewSurb(route, delays, p.cfg.SenderAddress, key, rotation)
		if err != nil {
			return nil, err
		}
		surbs = append(surbs, surb)
	}
	return surbs, nil
}

// PrepareLoopCover builds a cover packet looping back to ourselves. Its ack
// carries the cover identifier so it is never tracked.
func (p *Preparer) PrepareLoopCover(top *topology.Topology, ackKey *acknowledgements.AckKey, size params.PacketSize, packetType params.PacketType) (*MixPacket, error) {
	surbAck, _, err := p.generateSurbAck(top, ackKey, chunking.CoverFragmentIdentifier, packetType)
	if err != nil {
		return nil, err
	}
	route, err := top.RandomRoute(p.rng, p.cfg.NumMixHops, p.cfg.SenderAddress.Gateway)
	if err != nil {
		return nil, err
	}
	delays := GenerateDelays(p.rng, len(route), p.cfg.AveragePacketDelay)

	payload := make([]byte, 0, len(surbAck)+len(LoopCoverPayload))
	payload = append(payload, surbAck...)
	payload = append(payload, LoopCoverPayload...)
	packet, err := p.codec.Prepare(payload, route, delays, p.cfg.SenderAddress, size, packetType)
	if err != nil {
		return nil, err
	}
	return &MixPacket{
		NextHop:    route[0].Identity,
		Packet:     packet,
		PacketType: packetType,
	}, nil
}

// PrepareDropCover builds a cover packet addressed to a random client
// behind our own gateway. It carries no SURB-ack and the gateway discards
// it on delivery.
func (p *Preparer) PrepareDropCover(top *topology.Topology, size params.PacketSize, packetType params.PacketType) (*MixPacket, error) {
	recipient, err := addressing.NewRandomRecipient(p.entr, p.cfg.SenderAddress.Gateway)
	if err != nil {
		return nil, err
	}
	route, err := top.RandomRoute(p.rng, p.cfg.NumMixHops, recipient.Gateway)
	if err != nil {
		return nil, err
	}
	delays := GenerateDelays(p.rng, len(route), p.cfg.AveragePacketDelay)

	packet, err := p.codec.Prepare(DropCoverPayload, route, delays, *recipient, size, packetType)
	if err != nil {
		return nil, err
	}
	return &MixPacket{
		NextHop:    route[0].Identity,
		Packet:     packet,
		PacketType: packetType,
	}, nil
}
