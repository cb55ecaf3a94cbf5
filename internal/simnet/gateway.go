// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package simnet implements a loopback gateway that stands in for the mix
// network. It accepts packets built by preparer.PlaintextCodec, delivers
// their payloads and returns their SURB-acks after the delays encoded in
// the packets.
package simnet

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	hrand "github.com/katzenpost/hpqc/rand"

	"github.com/nymtech/nym-go/core/queue"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
)

// Config configures a Gateway.
type Config struct {
	// PacketLoss is the probability that a packet never reaches its
	// destination.
	PacketLoss float64

	// AckLoss is the probability that a delivered packet's ack never makes
	// it back.
	AckLoss float64

	// TimeScale multiplies every encoded delay. Zero means 1.
	TimeScale float64
}

func (c *Config) validate() error {
	if c.PacketLoss < 0 || c.PacketLoss > 1 || c.AckLoss < 0 || c.AckLoss > 1 {
		return errors.New("simnet: loss probabilities must be in [0, 1]")
	}
	if c.TimeScale < 0 {
		return errors.New("simnet: negative time scale")
	}
	return nil
}

// Delivery is a data packet reaching its recipient.
type Delivery struct {
	Recipient addressing.Recipient

	// Payload is the fragment carried by the packet, without its SURB-ack.
	Payload []byte

	// ReplyKeyDigest is set when the packet was built from a reply SURB.
	ReplyKeyDigest *anonymous.SurbEncryptionKeyDigest
}

// Stats are the packet counters of a Gateway.
type Stats struct {
	Received    uint64
	Malformed   uint64
	Lost        uint64
	DropCover   uint64
	LoopCover   uint64
	Delivered   uint64
	AcksLost    uint64
	AcksSent    uint64
	Undelivered uint64
}

type counters struct {
	received    atomic.Uint64
	malformed   atomic.Uint64
	lost        atomic.Uint64
	dropCover   atomic.Uint64
	loopCover   atomic.Uint64
	delivered   atomic.Uint64
	acksLost    atomic.Uint64
	acksSent    atomic.Uint64
	undelivered atomic.Uint64
}

type scheduled struct {
	ack      []byte
	delivery *Delivery
}

// Gateway is the loopback gateway. A single goroutine owns the dispatch
// queue, so Run must not be called more than once.
type Gateway struct {
	log *log.Logger
	cfg Config
	rng *rand.Rand

	in         <-chan *preparer.MixPacket
	acks       chan<- []byte
	deliveries chan<- *Delivery

	q     *queue.PriorityQueue[scheduled]
	stats counters
}

// New returns a Gateway reading packets from in and writing acks to acks.
// Deliveries are offered to deliveries, which may be nil; a full channel
// drops the delivery.
func New(cfg Config, logger *log.Logger, in <-chan *preparer.MixPacket, acks chan<- []byte, deliveries chan<- *Delivery) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TimeScale == 0 {
		cfg.TimeScale = 1
	}
	return &Gateway{
		log:        logger.WithPrefix("simnet"),
		cfg:        cfg,
		rng:        hrand.NewMath(),
		in:         in,
		acks:       acks,
		deliveries: deliveries,
		q:          queue.New[scheduled](),
	}, nil
}

// Stats returns the current counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Received:    g.stats.received.Load(),
		Malformed:   g.stats.malformed.Load(),
		Lost:        g.stats.lost.Load(),
		DropCover:   g.stats.dropCover.Load(),
		LoopCover:   g.stats.loopCover.Load(),
		Delivered:   g.stats.delivered.Load(),
		AcksLost:    g.stats.acksLost.Load(),
		AcksSent:    g.stats.acksSent.Load(),
		Undelivered: g.stats.undelivered.Load(),
	}
}

func (g *Gateway) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) * g.cfg.TimeScale)
}

func (g *Gateway) schedule(at time.Time, s scheduled) {
	g.q.Enqueue(at.UnixNano(), s)
}

func (g *Gateway) onPacket(mp *preparer.MixPacket, now time.Time) {
	g.stats.received.Add(1)

	pkt, err := preparer.OpenPlaintext(mp.Packet)
	if err != nil {
		g.stats.malformed.Add(1)
		g.log.Debugf("Dropping malformed packet: %v", err)
		return
	}
	if g.rng.Float64() < g.cfg.PacketLoss {
		g.stats.lost.Add(1)
		return
	}
	if bytes.Equal(pkt.Payload, preparer.DropCoverPayload) {
		g.stats.dropCover.Add(1)
		return
	}

	_, ackPacket, rest, err := preparer.SplitSurbAck(pkt.Payload)
	if err != nil {
		g.stats.malformed.Add(1)
		g.log.Debugf("Dropping packet without a SURB-ack: %v", err)
		return
	}
	deliverAt := now.Add(g.scale(pkt.TotalDelay()))
	if bytes.Equal(rest, preparer.LoopCoverPayload) {
		g.stats.loopCover.Add(1)
	} else {
		g.schedule(deliverAt, scheduled{delivery: &Delivery{
			Recipient:      pkt.Recipient,
			Payload:        rest,
			ReplyKeyDigest: pkt.ReplyKeyDigest,
		}})
	}

	ack, err := preparer.OpenPlaintext(ackPacket)
	if err != nil {
		g.stats.malformed.Add(1)
		g.log.Debugf("Dropping malformed SURB-ack: %v", err)
		return
	}
	if g.rng.Float64() < g.cfg.AckLoss {
		g.stats.acksLost.Add(1)
		return
	}
	g.schedule(deliverAt.Add(g.scale(ack.TotalDelay())), scheduled{ack: ack.Payload})
}

func (g *Gateway) dispatch(ctx context.Context, now time.Time) bool {
	for _, e := range g.q.PopUntil(now.UnixNano()) {
		s := e.Value
		if s.delivery != nil {
			select {
			case g.deliveries <- s.delivery:
				g.stats.delivered.Add(1)
			default:
				g.stats.undelivered.Add(1)
			}
			continue
		}
		select {
		case g.acks <- s.ack:
			g.stats.acksSent.Add(1)
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Run processes packets until ctx is done or the packet channel is closed.
func (g *Gateway) Run(ctx context.Context) error {
	g.log.Debug("Started loopback gateway")
	defer g.log.Debug("Loopback gateway: Exiting")

	timer := time.NewTimer(math.MaxInt64)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case mp, ok := <-g.in:
			if !ok {
				return nil
			}
			g.onPacket(mp, time.Now())
		case <-timer.C:
		}

		now := time.Now()
		if !g.dispatch(ctx, now) {
			return nil
		}
		next := g.q.Peek()
		if next == nil {
			timer.Reset(math.MaxInt64)
			continue
		}
		timer.Reset(time.Unix(0, next.Priority).Sub(now))
	}
}
