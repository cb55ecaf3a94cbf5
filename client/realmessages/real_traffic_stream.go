// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
	hrand "github.com/katzenpost/hpqc/rand"

	"github.com/nymtech/nym-go/client/stats"
	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/internal/instrument"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
	"github.com/nymtech/nym-go/topology"
)

const (
	defaultStatusInterval = 5 * time.Second

	// backlogWarnThreshold is the queued packet count above which the
	// status line is logged as a warning.
	backlogWarnThreshold = 1000
)

// SampleSendDelay draws the time until the next send slot of a Poisson
// process with the given mean.
func SampleSendDelay(rng *rand.Rand, average time.Duration) time.Duration {
	if average <= 0 {
		return 0
	}
	return time.Duration(hrand.Exp(rng, 1/float64(average)))
}

// OutQueueConfig parameterises OutQueueControl.
type OutQueueConfig struct {
	AckKey *acknowledgements.AckKey

	// MessageSendingAverageDelay is the mean time between two send slots.
	MessageSendingAverageDelay time.Duration

	// DisableMainPoissonPacketDistribution sends real packets as soon as
	// they arrive and disables cover traffic.
	DisableMainPoissonPacketDistribution bool

	PrimaryPacketSize   params.PacketSize
	SecondaryPacketSize params.PacketSize
	PacketType          params.PacketType

	// CoverTrafficPrimarySizeRatio is the probability of a cover packet
	// using the primary size when a secondary size is configured.
	CoverTrafficPrimarySizeRatio float64

	StatusInterval time.Duration
}

// streamMessage is what fills a send slot: a real message or cover.
type streamMessage struct {
	real *RealMessage
	drop bool
}

// OutQueueControl releases packets into the mix sender channel according to
// a Poisson process, substituting cover traffic whenever no real packet is
// waiting.
type OutQueueControl struct {
	cfg OutQueueConfig
	log *log.Logger
	rng *rand.Rand

	preparer *preparer.Preparer
	topology *topology.Accessor

	sentNotifier    actionSender
	delayController *sendingDelayController

	mixSender    chan<- *preparer.MixPacket
	realReceiver <-chan *RealMessageBatch
	connCommands <-chan transmission.ConnectionCommand
	dropCover    <-chan struct{}
	loopCover    <-chan struct{}

	buffer           *transmission.Buffer[*RealMessage]
	laneQueueLengths *transmission.LaneQueueLengths
	stats            *stats.Reporter

	now func() time.Time
}

func newOutQueueControl(cfg OutQueueConfig, logger *log.Logger, p *preparer.Preparer, rng *rand.Rand, sentNotifier actionSender, mixSender chan<- *preparer.MixPacket, realReceiver <-chan *RealMessageBatch, top *topology.Accessor, laneQueueLengths *transmission.LaneQueueLengths, connCommands <-chan transmission.ConnectionCommand, reporter *stats.Reporter, dropCover <-chan struct{}) *OutQueueControl {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	return &OutQueueControl{
		cfg:              cfg,
		log:              logger,
		rng:              rng,
		preparer:         p,
		topology:         top,
		sentNotifier:     sentNotifier,
		delayController:  newSendingDelayController(logger, time.Now),
		mixSender:        mixSender,
		realReceiver:     realReceiver,
		connCommands:     connCommands,
		dropCover:        dropCover,
		buffer:           transmission.NewBuffer[*RealMessage](),
		laneQueueLengths: laneQueueLengths,
		stats:            reporter,
		now:              time.Now,
	}
}

func (q *OutQueueControl) sentNotify(id chunking.FragmentIdentifier) {
	q.log.Debugf("%s is about to get sent to the mixnet", id)
	if !q.sentNotifier.send(newStartTimerAction(id)) {
		q.log.Debug("Failed to notify the ack controller, shutting down?")
	}
}

func (q *OutQueueControl) loopCoverMessageSize() params.PacketSize {
	if !q.cfg.SecondaryPacketSize.IsValid() {
		return q.cfg.PrimaryPacketSize
	}
	if q.rng.Float64() < q.cfg.CoverTrafficPrimarySizeRatio {
		return q.cfg.PrimaryPacketSize
	}
	return q.cfg.SecondaryPacketSize
}

func (q *OutQueueControl) coverPacket(drop bool) (*preparer.MixPacket, int, error) {
	size := q.loopCoverMessageSize()
	top, err := q.topology.Current()
	if err != nil {
		return nil, 0, err
	}
	var packet *preparer.MixPacket
	if drop {
		q.log.Debug("Sending a drop cover message")
		packet, err = q.preparer.PrepareDropCover(top, size, q.cfg.PacketType)
	} else {
		packet, err = q.preparer.PrepareLoopCover(top, q.cfg.AckKey, size, q.cfg.PacketType)
	}
	if err != nil {
		return nil, 0, err
	}
	return packet, len(packet.Packet), nil
}

func (q *OutQueueControl) onMessage(ctx context.Context, next streamMessage) {
	var (
		packet *preparer.MixPacket
		fragID *chunking.FragmentIdentifier
		size   int
	)
	if next.real != nil {
		packet, fragID, size = next.real.MixPacket, next.real.FragmentID, next.real.Size()
	} else {
		var err error
		if packet, size, err = q.coverPacket(next.drop); err != nil {
			q.log.Warnf("We're not going to send any cover message this time: %v", err)
			return
		}
	}

	select {
	case q.mixSender <- packet:
	case <-ctx.Done():
		return
	}

	if fragID != nil {
		q.stats.Report(stats.NewSizedEvent(stats.RealPacketSent, size))
		q.sentNotify(*fragID)
	} else {
		q.stats.Report(stats.NewSizedEvent(stats.CoverPacketSent, size))
	}

	if dropped := q.buffer.PruneStaleConnections(); len(dropped) > 0 {
		msgs := make([]*RealMessage, 0, len(dropped))
		lanes := make(map[transmission.Lane]struct{})
		for _, d := range dropped {
			msgs = append(msgs, d.Item)
			lanes[d.Lane] = struct{}{}
		}
		for lane := range lanes {
			q.log.Debugf("Pruned stale lane %s", lane)
			q.laneQueueLengths.Remove(lane)
		}
		q.releasePending(msgs)
	}
}

// releasePending tells the ack controller that msgs will never be sent.
func (q *OutQueueControl) releasePending(msgs []*RealMessage) {
	var ids []chunking.FragmentIdentifier
	for _, m := range msgs {
		if m.FragmentID != nil {
			ids = append(ids, *m.FragmentID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if !q.sentNotifier.send(newDropAction(ids)) {
		q.log.Debug("Failed to notify the ack controller, shutting down?")
	}
}

func (q *OutQueueControl) onConnectionCommand(cmd transmission.ConnectionCommand, ok bool) {
	if !ok {
		q.connCommands = nil
		return
	}
	switch cmd.Kind {
	case transmission.CloseConnection:
		lane := transmission.ConnectionLane(cmd.ID)
		q.log.Debugf("Removing lane for connection: %d", cmd.ID)
		q.releasePending(q.buffer.Remove(lane))
		q.laneQueueLengths.Remove(lane)
	default:
		q.log.Errorf("Unknown connection command: %d", cmd.Kind)
	}
}

func (q *OutQueueControl) currentAverageSendingDelay() time.Duration {
	return q.cfg.MessageSendingAverageDelay * time.Duration(q.delayController.currentMultiplier())
}

func (q *OutQueueControl) adjustCurrentAverageSendingDelay() {
	q.delayController.adjust(len(q.mixSender), cap(q.mixSender))
}

func (q *OutQueueControl) popNextMessage() *RealMessage {
	lane, next, ok := q.buffer.PopNextAtRandom(q.rng)
	if !ok {
		return nil
	}

	n, _ := q.buffer.LaneLength(lane)
	q.laneQueueLengths.Set(lane, n)

	switch lane.Kind {
	case transmission.ReplySurbRequest:
		q.stats.Report(stats.NewEvent(stats.ReplySurbRequestQueued))
	case transmission.AdditionalReplySurbs:
		q.stats.Report(stats.NewEvent(stats.AdditionalReplySurbRequestQueued))
	case transmission.Retransmission:
		q.stats.Report(stats.NewEvent(stats.RetransmissionQueued))
	}
	q.stats.Report(stats.NewEvent(stats.RealPacketQueued))
	return next
}

func (q *OutQueueControl) storeBatch(batch *RealMessageBatch) {
	q.log.Debugf("handling real messages: size: %d", len(batch.Messages))
	q.buffer.Store(batch.Lane, batch.Messages...)
}

// nextPoissonMessage decides what fills the current send slot.
func (q *OutQueueControl) nextPoissonMessage() (streamMessage, bool) {
	needDrop := false
	select {
	case <-q.dropCover:
		needDrop = true
	default:
	}

	select {
	case batch, ok := <-q.realReceiver:
		if !ok {
			return streamMessage{}, false
		}
		q.storeBatch(batch)
	default:
	}

	if next := q.popNextMessage(); next != nil {
		return streamMessage{real: next}, true
	}
	return streamMessage{drop: needDrop}, true
}

func (q *OutQueueControl) logStatus() {
	packets := q.buffer.TotalSize()
	backlog := float64(q.buffer.TotalSizeInBytes()) / 1024.0
	lanes := q.buffer.NumLanes()
	mult := q.delayController.currentMultiplier()
	instrument.OutboundBacklog(packets)

	var status string
	if q.cfg.DisableMainPoissonPacketDistribution {
		status = fmt.Sprintf("Packet backlog: %.2f kiB (%d), %d lanes, no delay", backlog, packets, lanes)
	} else {
		delay := q.currentAverageSendingDelay().Milliseconds()
		status = fmt.Sprintf("Packet backlog: %.2f kiB (%d), %d lanes, avg delay: %dms (%d)", backlog, packets, lanes, delay, mult)
	}
	switch {
	case packets > backlogWarnThreshold:
		q.log.Warn(status)
	case packets > 0:
		q.log.Info(status)
	default:
		q.log.Debug(status)
	}

	switch {
	case mult == maxDelayMultiplier:
		q.log.Warn("The gateway is very slow to accept our packets")
	case mult > minDelayMultiplier:
		q.log.Info("The gateway is slow to accept our packets")
	}
}

// Run drives the send slots until ctx is cancelled. It returns
// ErrChannelClosed if the real message channel is closed first.
func (q *OutQueueControl) Run(ctx context.Context) error {
	q.log.Debug("Started OutQueueControl")
	defer q.log.Debug("OutQueueControl: Exiting")

	statusTicker := time.NewTicker(q.cfg.StatusInterval)
	defer statusTicker.Stop()

	var err error
	if q.cfg.DisableMainPoissonPacketDistribution {
		err = q.runImmediate(ctx, statusTicker.C)
	} else {
		err = q.runPoisson(ctx, statusTicker.C)
	}
	if errors.Is(err, ErrChannelClosed) {
		return channelClosed(ctx)
	}
	return err
}

func (q *OutQueueControl) runPoisson(ctx context.Context, status <-chan time.Time) error {
	deadline := q.now().Add(SampleSendDelay(q.rng, q.cfg.MessageSendingAverageDelay))
	timer := time.NewTimer(deadline.Sub(q.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			q.log.Debug("OutQueueControl: Received shutdown")
			return nil
		case <-status:
			q.logStatus()
		case cmd, ok := <-q.connCommands:
			q.onConnectionCommand(cmd, ok)
		case <-q.loopCover:
			q.onMessage(ctx, streamMessage{})
		case <-timer.C:
			q.adjustCurrentAverageSendingDelay()

			// the next slot is scheduled relative to the slot that just
			// fired, not to the time we got around to handling it
			deadline = deadline.Add(SampleSendDelay(q.rng, q.currentAverageSendingDelay()))
			timer.Reset(deadline.Sub(q.now()))

			next, ok := q.nextPoissonMessage()
			if !ok {
				q.log.Debug("OutQueueControl: Stopping since channel closed")
				return ErrChannelClosed
			}
			q.onMessage(ctx, next)
		}
	}
}

func (q *OutQueueControl) runImmediate(ctx context.Context, status <-chan time.Time) error {
	for {
		if !q.buffer.IsEmpty() {
			select {
			case <-ctx.Done():
				return nil
			case <-status:
				q.logStatus()
			case cmd, ok := <-q.connCommands:
				q.onConnectionCommand(cmd, ok)
			case batch, ok := <-q.realReceiver:
				if !ok {
					return ErrChannelClosed
				}
				q.storeBatch(batch)
			default:
				if next := q.popNextMessage(); next != nil {
					q.onMessage(ctx, streamMessage{real: next})
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			q.log.Debug("OutQueueControl: Received shutdown")
			return nil
		case <-status:
			q.logStatus()
		case cmd, ok := <-q.connCommands:
			q.onConnectionCommand(cmd, ok)
		case batch, ok := <-q.realReceiver:
			if !ok {
				q.log.Debug("OutQueueControl: Stopping since channel closed")
				return ErrChannelClosed
			}
			q.storeBatch(batch)
		}
	}
}
