// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package stats

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nymtech/nym-go/internal/instrument"
)

// Snapshot is a point in time copy of the aggregated counters.
type Snapshot struct {
	counts         [numEventKinds]uint64
	realBytesSent  uint64
	coverBytesSent uint64
}

// Count returns the aggregated value of kind. For sized events this is the
// number of events, except for SurbsIssued and ReplyKeysPurged which sum
// their amounts.
func (s Snapshot) Count(kind EventKind) uint64 {
	if kind >= numEventKinds {
		return 0
	}
	return s.counts[kind]
}

// RealBytesSent returns the bytes of real packets handed to the gateway.
func (s Snapshot) RealBytesSent() uint64 {
	return s.realBytesSent
}

// CoverBytesSent returns the bytes of cover packets handed to the gateway.
func (s Snapshot) CoverBytesSent() uint64 {
	return s.coverBytesSent
}

// RetransmissionRatio returns the share of queued real packets that were
// retransmissions.
func (s Snapshot) RetransmissionRatio() float64 {
	queued := s.counts[RealPacketQueued]
	if queued == 0 {
		return 0
	}
	return float64(s.counts[RetransmissionQueued]) / float64(queued)
}

// Control aggregates the events of a Reporter.
type Control struct {
	sync.Mutex

	log      *log.Logger
	reporter *Reporter
	interval time.Duration

	snap Snapshot
}

// NewControl returns a Control consuming reporter. A summary is logged every
// interval; a zero interval disables it.
func NewControl(reporter *Reporter, logger *log.Logger, interval time.Duration) *Control {
	return &Control{
		log:      logger.WithPrefix("PacketStatistics"),
		reporter: reporter,
		interval: interval,
	}
}

// Snapshot returns the current counters.
func (c *Control) Snapshot() Snapshot {
	c.Lock()
	defer c.Unlock()
	return c.snap
}

func (c *Control) handle(e Event) {
	c.Lock()
	switch e.Kind {
	case SurbsIssued, ReplyKeysPurged:
		c.snap.counts[e.Kind] += uint64(e.Value)
	case RealPacketSent:
		c.snap.counts[e.Kind]++
		c.snap.realBytesSent += uint64(e.Value)
	case CoverPacketSent:
		c.snap.counts[e.Kind]++
		c.snap.coverBytesSent += uint64(e.Value)
	default:
		if e.Kind < numEventKinds {
			c.snap.counts[e.Kind]++
		}
	}
	c.Unlock()

	switch e.Kind {
	case RealPacketSent:
		instrument.PacketSent("real", e.Value)
	case CoverPacketSent:
		instrument.PacketSent("cover", e.Value)
	case RealAckReceived:
		instrument.AckReceived("real")
	case CoverAckReceived:
		instrument.AckReceived("cover")
	case DuplicateAck:
		instrument.IgnoredAck("duplicate")
	case StrayAck:
		instrument.IgnoredAck("stray")
	case RetransmissionQueued:
		instrument.PacketQueued("retransmission")
	case ReplySurbRequestQueued:
		instrument.PacketQueued("reply_surb_request")
	case AdditionalReplySurbRequestQueued:
		instrument.PacketQueued("additional_reply_surbs")
	case RetransmissionSent:
		instrument.RetransmissionSent()
	case FragmentLost:
		instrument.FragmentLost()
	case SurbsIssued:
		instrument.SurbsIssued(e.Value)
	case SurbRequestRejected:
		instrument.SurbRequest("rejected")
	case SurbRequestClamped:
		instrument.SurbRequest("clamped")
	case ReplyKeysPurged:
		instrument.ReplyKeysPurged(e.Value)
	}
}

func (c *Control) logSummary() {
	s := c.Snapshot()
	c.log.Infof("sent %d real (%d B) / %d cover (%d B) packets, acked %d real / %d cover, retransmitted %d (%.2f%%), lost %d",
		s.Count(RealPacketSent), s.RealBytesSent(),
		s.Count(CoverPacketSent), s.CoverBytesSent(),
		s.Count(RealAckReceived), s.Count(CoverAckReceived),
		s.Count(RetransmissionSent), s.RetransmissionRatio()*100,
		s.Count(FragmentLost))
}

// Run consumes events until ctx is done or the Reporter is closed and
// drained.
func (c *Control) Run(ctx context.Context) error {
	c.log.Debug("Started PacketStatisticsControl")
	defer c.log.Debug("PacketStatisticsControl: Exiting")

	var summaryCh <-chan time.Time
	if c.interval > 0 {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		summaryCh = ticker.C
	}

	out := c.reporter.out()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-summaryCh:
			c.logSummary()
		case raw, ok := <-out:
			if !ok {
				c.logSummary()
				return nil
			}
			e, ok := raw.(Event)
			if !ok {
				c.log.Errorf("BUG: unexpected statistics event type %T", raw)
				continue
			}
			c.handle(e)
		}
	}
}
