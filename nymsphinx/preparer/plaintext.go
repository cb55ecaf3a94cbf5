// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package preparer

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/topology"
)

var errShortPacket = errors.New("preparer: short plaintext packet")

// PlaintextPacket is the decoded form of a PlaintextCodec packet.
type PlaintextPacket struct {
	Hops      []addressing.NodeIdentity `cbor:"1,keyasint"`
	Delays    []time.Duration           `cbor:"2,keyasint"`
	Recipient addressing.Recipient      `cbor:"3,keyasint"`
	Payload   []byte                    `cbor:"4,keyasint"`

	// ReplyKeyDigest is set for packets built from a reply SURB.
	ReplyKeyDigest *anonymous.SurbEncryptionKeyDigest `cbor:"5,keyasint,omitempty"`
}

// TotalDelay returns the sum of the hop delays.
func (p *PlaintextPacket) TotalDelay() time.Duration {
	return SumDelays(p.Delays)
}

type plaintextHeader struct {
	Hops      []addressing.NodeIdentity `cbor:"1,keyasint"`
	Delays    []time.Duration           `cbor:"2,keyasint"`
	Recipient addressing.Recipient      `cbor:"3,keyasint"`
}

// PlaintextCodec frames routing information and payload with CBOR and no
// layered encryption. It stands in for the sphinx codec in the loopback
// simulator and in tests.
type PlaintextCodec struct{}

// Prepare implements Codec.
func (PlaintextCodec) Prepare(payload []byte, route []*topology.Node, delays []time.Duration, recipient addressing.Recipient, size params.PacketSize, _ params.PacketType) ([]byte, error) {
	hops := make([]addressing.NodeIdentity, 0, len(route))
	for _, n := range route {
		hops = append(hops, n.Identity)
	}
	return seal(&PlaintextPacket{
		Hops:      hops,
		Delays:    delays,
		Recipient: recipient,
		Payload:   payload,
	}, size)
}

// PrepareReply implements Codec.
func (PlaintextCodec) PrepareReply(payload []byte, surb *anonymous.ReplySurb, size params.PacketSize, _ params.PacketType) ([]byte, error) {
	h := new(plaintextHeader)
	if err := cbor.Unmarshal(surb.Header, h); err != nil {
		return nil, err
	}
	digest := surb.EncryptionKey.Digest()
	return seal(&PlaintextPacket{
		Hops:           h.Hops,
		Delays:         h.Delays,
		Recipient:      h.Recipient,
		Payload:        payload,
		ReplyKeyDigest: &digest,
	}, size)
}

// NewSurb implements Codec.
func (PlaintextCodec) NewSurb(route []*topology.Node, delays []time.Duration, recipient addressing.Recipient, key anonymous.SurbEncryptionKey, rotation anonymous.KeyRotation) (*anonymous.ReplySurb, error) {
	if len(route) == 0 {
		return nil, errors.New("preparer: empty surb route")
	}
	hops := make([]addressing.NodeIdentity, 0, len(route))
	for _, n := range route {
		hops = append(hops, n.Identity)
	}
	header, err := cbor.Marshal(&plaintextHeader{
		Hops:      hops,
		Delays:    delays,
		Recipient: recipient,
	})
	if err != nil {
		return nil, err
	}
	return &anonymous.ReplySurb{
		Header:        header,
		FirstHop:      route[0].Identity,
		EncryptionKey: key,
		KeyRotation:   rotation,
	}, nil
}

func seal(p *PlaintextPacket, size params.PacketSize) ([]byte, error) {
	body, err := cbor.Marshal(p)
	if err != nil {
		return nil, err
	}
	n := 4 + len(body)
	if n < size.Size() {
		n = size.Size()
	}
	out := make([]byte, n)
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// OpenPlaintext decodes a packet built by PlaintextCodec.
func OpenPlaintext(b []byte) (*PlaintextPacket, error) {
	if len(b) < 4 {
		return nil, errShortPacket
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(n) > uint64(len(b)-4) {
		return nil, errShortPacket
	}
	p := new(PlaintextPacket)
	if err := cbor.Unmarshal(b[4:4+n], p); err != nil {
		return nil, err
	}
	return p, nil
}
