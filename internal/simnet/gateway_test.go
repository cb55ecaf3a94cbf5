// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package simnet

import (
	"context"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	nlog "github.com/nymtech/nym-go/core/log"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
	"github.com/nymtech/nym-go/topology"
)

type fixture struct {
	preparer   *preparer.Preparer
	top        *topology.Topology
	ackKey     *acknowledgements.AckKey
	recipient  *addressing.Recipient
	in         chan *preparer.MixPacket
	acks       chan []byte
	deliveries chan *Delivery
	gw         *Gateway
}

func newFixture(t *testing.T, cfg Config) *fixture {
	ownGateway := addressing.NodeIdentity{1}
	otherGateway := addressing.NodeIdentity{2}
	top, err := topology.NewRandom(rand.Reader, topology.Metadata{}, params.DefaultNumMixHops, 3, ownGateway, otherGateway)
	require.NoError(t, err)
	self, err := addressing.NewRandomRecipient(rand.Reader, ownGateway)
	require.NoError(t, err)
	recipient, err := addressing.NewRandomRecipient(rand.Reader, otherGateway)
	require.NoError(t, err)
	ackKey, err := acknowledgements.NewAckKey(rand.Reader)
	require.NoError(t, err)

	f := &fixture{
		preparer: preparer.New(preparer.Config{
			SenderAddress:      *self,
			AveragePacketDelay: time.Millisecond,
			AverageAckDelay:    time.Millisecond,
			NumMixHops:         params.DefaultNumMixHops,
		}, preparer.PlaintextCodec{}, rand.NewMath(), rand.Reader),
		top:        top,
		ackKey:     ackKey,
		recipient:  recipient,
		in:         make(chan *preparer.MixPacket),
		acks:       make(chan []byte, 8),
		deliveries: make(chan *Delivery, 8),
	}
	f.gw, err = New(cfg, nlog.Discard(), f.in, f.acks, f.deliveries)
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.gw.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func (f *fixture) dataPacket(t *testing.T, setID int32) (*chunking.Fragment, *preparer.MixPacket) {
	frag, err := chunking.NewFragment(setID, 1, 1, []byte("hello world"))
	require.NoError(t, err)
	prepared, err := f.preparer.PrepareChunkForSending(frag, f.top, f.ackKey, *f.recipient, params.RegularPacket, params.MixPacket)
	require.NoError(t, err)
	return frag, prepared.MixPacket
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{
		{PacketLoss: -0.1},
		{PacketLoss: 1.5},
		{AckLoss: 2},
		{TimeScale: -1},
	} {
		_, err := New(cfg, nlog.Discard(), nil, nil, nil)
		require.Error(t, err, "%+v", cfg)
	}
}

func TestGatewayReturnsAck(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.run(t)

	frag, packet := f.dataPacket(t, 42)
	f.in <- packet

	select {
	case d := <-f.deliveries:
		require.Equal(t, *f.recipient, d.Recipient)
		require.Equal(t, frag.Bytes(), d.Payload)
		require.Nil(t, d.ReplyKeyDigest)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}

	select {
	case ack := <-f.acks:
		id, err := acknowledgements.RecoverIdentifier(f.ackKey, ack)
		require.NoError(t, err)
		require.Equal(t, frag.FragmentIdentifier(), id)
	case <-time.After(5 * time.Second):
		t.Fatal("no ack")
	}

	require.Eventually(t, func() bool {
		s := f.gw.Stats()
		return s.Received == 1 && s.Delivered == 1 && s.AcksSent == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGatewayAcksInDelayOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	// queue directly so both packets are scheduled before any dispatch
	now := time.Now()
	_, first := f.dataPacket(t, 1)
	_, second := f.dataPacket(t, 2)
	f.gw.onPacket(second, now.Add(time.Hour))
	f.gw.onPacket(first, now)

	require.True(t, f.gw.dispatch(context.Background(), now.Add(30*time.Minute)))
	ack := <-f.acks
	id, err := acknowledgements.RecoverIdentifier(f.ackKey, ack)
	require.NoError(t, err)
	require.Equal(t, int32(1), id.SetID)
	require.Empty(t, f.acks)
	require.Equal(t, 2, f.gw.q.Len())
}

func TestGatewayCover(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.run(t)

	loop, err := f.preparer.PrepareLoopCover(f.top, f.ackKey, params.RegularPacket, params.MixPacket)
	require.NoError(t, err)
	f.in <- loop

	select {
	case ack := <-f.acks:
		id, err := acknowledgements.RecoverIdentifier(f.ackKey, ack)
		require.NoError(t, err)
		require.True(t, id.IsCover())
	case <-time.After(5 * time.Second):
		t.Fatal("no cover ack")
	}

	drop, err := f.preparer.PrepareDropCover(f.top, params.RegularPacket, params.MixPacket)
	require.NoError(t, err)
	f.in <- drop

	require.Eventually(t, func() bool {
		s := f.gw.Stats()
		return s.LoopCover == 1 && s.DropCover == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, f.deliveries)
	require.Empty(t, f.acks)
}

func TestGatewayLoss(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PacketLoss: 1})
	_, packet := f.dataPacket(t, 1)
	f.gw.onPacket(packet, time.Now())
	require.Zero(t, f.gw.q.Len())
	require.Equal(t, uint64(1), f.gw.Stats().Lost)

	f = newFixture(t, Config{AckLoss: 1})
	_, packet = f.dataPacket(t, 1)
	f.gw.onPacket(packet, time.Now())
	require.Equal(t, 1, f.gw.q.Len())
	require.Equal(t, uint64(1), f.gw.Stats().AcksLost)
}

func TestGatewayMalformed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.gw.onPacket(&preparer.MixPacket{Packet: []byte{0, 0}}, time.Now())
	f.gw.onPacket(&preparer.MixPacket{Packet: []byte{0, 0, 0, 200, 1}}, time.Now())
	require.Equal(t, uint64(2), f.gw.Stats().Malformed)
	require.Zero(t, f.gw.q.Len())
}

func TestGatewayStopsOnClosedInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	done := make(chan error, 1)
	go func() { done <- f.gw.Run(context.Background()) }()
	close(f.in)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
