// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	hrand "github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
	"gitlab.com/yawning/avl.git"

	"github.com/nymtech/nym-go/client/stats"
	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/core/worker"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
)

const (
	defaultSweepInterval = 100 * time.Millisecond

	// 2^20 bits, roughly 73k entries at the configured false positive rate.
	ackedFilterSizeLn2 = 20
	ackedFilterFPRate  = 0.001
)

// AcknowledgementConfig parameterises the AcknowledgementController.
type AcknowledgementConfig struct {
	AckWaitMultiplier              float64
	AckWaitAddition                time.Duration
	MaximumNumberOfRetransmissions uint32
	SweepInterval                  time.Duration
}

// AcknowledgementController tracks every real fragment from creation until
// its ack arrives or it is given up on, and schedules retransmissions.
// The pending state is only ever touched by the Run goroutine; every other
// task talks to it through actions.
type AcknowledgementController struct {
	worker.Worker

	cfg    AcknowledgementConfig
	log    *log.Logger
	ackKey *acknowledgements.AckKey

	pending  map[chunking.FragmentIdentifier]*PendingAcknowledgement
	timers   *avl.Tree
	seq      uint64
	ackedIDs *bloom.Filter

	actions         *unboundedQueue
	retransmissions *unboundedQueue
	ackReceiver     <-chan []byte
	inputReceiver   <-chan *InputMessage

	// handler serves retransmissions, inputHandler application input.
	handler      *MessageHandler
	inputHandler *MessageHandler
	replySender  ReplyControllerSender
	stats        *stats.Reporter

	now func() time.Time
}

func newAcknowledgementController(cfg AcknowledgementConfig, logger *log.Logger, ackKey *acknowledgements.AckKey, actions *unboundedQueue, ackReceiver <-chan []byte, inputReceiver <-chan *InputMessage, handler *MessageHandler, replySender ReplyControllerSender, reporter *stats.Reporter) (*AcknowledgementController, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	filter, err := bloom.New(hrand.Reader, ackedFilterSizeLn2, ackedFilterFPRate)
	if err != nil {
		return nil, err
	}
	c := &AcknowledgementController{
		cfg:             cfg,
		log:             logger,
		ackKey:          ackKey,
		pending:         make(map[chunking.FragmentIdentifier]*PendingAcknowledgement),
		ackedIDs:        filter,
		actions:         actions,
		retransmissions: newUnboundedQueue(),
		ackReceiver:     ackReceiver,
		inputReceiver:   inputReceiver,
		handler:         handler,
		inputHandler:    handler.Clone(logger),
		replySender:     replySender,
		stats:           reporter,
		now:             time.Now,
	}
	c.timers = avl.New(func(a, b interface{}) int {
		pa, pb := a.(*PendingAcknowledgement), b.(*PendingAcknowledgement)
		switch {
		case pa.deadline.Before(pb.deadline):
			return -1
		case pa.deadline.After(pb.deadline):
			return 1
		case pa.seq < pb.seq:
			return -1
		case pa.seq > pb.seq:
			return 1
		default:
			return 0
		}
	})
	return c, nil
}

// Len returns the number of fragments awaiting their ack.
func (c *AcknowledgementController) Len() int {
	return len(c.pending)
}

func (c *AcknowledgementController) ackTimeout(p *PendingAcknowledgement) time.Duration {
	scaled := time.Duration(float64(p.delay) * c.cfg.AckWaitMultiplier)
	return scaled + c.cfg.AckWaitAddition
}

func (c *AcknowledgementController) maxRetransmissions(p *PendingAcknowledgement) uint32 {
	if p.maxRetransmissions != nil {
		return *p.maxRetransmissions
	}
	return c.cfg.MaximumNumberOfRetransmissions
}

func (c *AcknowledgementController) stopTimer(p *PendingAcknowledgement) {
	if p.node != nil {
		c.timers.Remove(p.node)
		p.node = nil
	}
	p.timerStarted = false
}

func (c *AcknowledgementController) handleInsert(pending []*PendingAcknowledgement) {
	for _, p := range pending {
		id := p.FragmentIdentifier()
		if _, ok := c.pending[id]; ok {
			c.log.Errorf("Tried to insert duplicate pending ack %s", id)
			continue
		}
		c.log.Debugf("%s is inserted", id)
		c.pending[id] = p
	}
}

func (c *AcknowledgementController) handleRemove(id chunking.FragmentIdentifier) (*PendingAcknowledgement, bool) {
	p, ok := c.pending[id]
	if !ok {
		c.log.Debugf("Tried to REMOVE pending ack that is already gone! - %s", id)
		return nil, false
	}
	c.stopTimer(p)
	delete(c.pending, id)
	p.acked.Store(true)
	return p, true
}

func (c *AcknowledgementController) handleUpdateDelay(id chunking.FragmentIdentifier, delay time.Duration) {
	p, ok := c.pending[id]
	if !ok {
		c.log.Debugf("Tried to UPDATE TIMER on pending ack that is already gone! - %s", id)
		return
	}
	p.delay = delay
}

func (c *AcknowledgementController) handleDrop(ids []chunking.FragmentIdentifier) {
	for _, id := range ids {
		if _, ok := c.handleRemove(id); ok {
			c.log.Debugf("%s was dropped before being sent", id)
			c.stats.Report(stats.NewEvent(stats.FragmentLost))
		}
	}
}

func (c *AcknowledgementController) processAction(a action) {
	switch a.kind {
	case actionInsertPending:
		c.handleInsert(a.pending)
	case actionRemovePending:
		for _, id := range a.ids {
			c.handleRemove(id)
		}
	case actionStartTimer:
		now := c.now()
		for _, id := range a.ids {
			c.OnSent(id, now)
		}
	case actionUpdateDelay:
		for _, id := range a.ids {
			c.handleUpdateDelay(id, a.delay)
		}
	case actionDropPending:
		c.handleDrop(a.ids)
	default:
		c.log.Errorf("Unknown ack action: %d", a.kind)
	}
}

// OnSent starts the ack timer of id, which was handed to the network at
// now. The deadline is the expected round trip scaled by the configured
// multiplier, plus the configured addition.
func (c *AcknowledgementController) OnSent(id chunking.FragmentIdentifier, now time.Time) {
	p, ok := c.pending[id]
	if !ok {
		c.log.Debugf("Tried to START TIMER on pending ack that is already gone! - %s", id)
		return
	}
	c.stopTimer(p)
	c.seq++
	p.seq = c.seq
	p.deadline = now.Add(c.ackTimeout(p))
	p.timerStarted = true
	p.node = c.timers.Insert(p)
	c.log.Debugf("%s is starting its timer, expires at %s", id, p.deadline)
}

// OnAckReceived resolves the fragment an ack belongs to. Malformed acks and
// acks of fragments that are no longer pending are ignored.
func (c *AcknowledgementController) OnAckReceived(ack []byte) {
	id, err := acknowledgements.RecoverIdentifier(c.ackKey, ack)
	if err != nil {
		c.log.Debugf("Received malformed ack: %v", err)
		return
	}
	if id.IsCover() {
		c.stats.Report(stats.NewEvent(stats.CoverAckReceived))
		return
	}

	if _, ok := c.handleRemove(id); !ok {
		if c.ackedIDs.Test(id.Bytes()) {
			c.stats.Report(stats.NewEvent(stats.DuplicateAck))
		} else {
			c.stats.Report(stats.NewEvent(stats.StrayAck))
		}
		return
	}

	if c.ackedIDs.Entries() >= c.ackedIDs.MaxEntries() {
		if f, err := bloom.New(hrand.Reader, ackedFilterSizeLn2, ackedFilterFPRate); err == nil {
			c.ackedIDs = f
		}
	}
	c.ackedIDs.TestAndSet(id.Bytes())
	c.log.Debugf("Received ack for %s", id)
	c.stats.Report(stats.NewEvent(stats.RealAckReceived))
}

// OnTimerTick handles every ack timer that expired by now. Fragments with
// retransmissions left are handed to the retransmission listener, the rest
// are abandoned.
func (c *AcknowledgementController) OnTimerTick(now time.Time) {
	var expired []*PendingAcknowledgement
	iter := c.timers.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		p := node.Value.(*PendingAcknowledgement)
		if p.deadline.After(now) {
			break
		}
		expired = append(expired, p)
	}

	for _, p := range expired {
		id := p.FragmentIdentifier()
		c.stopTimer(p)

		if p.retransmissions >= c.maxRetransmissions(p) {
			c.log.Warnf("%s was not acknowledged after %d retransmissions, giving up", id, p.retransmissions)
			delete(c.pending, id)
			p.acked.Store(true)
			c.stats.Report(stats.NewEvent(stats.FragmentLost))
			continue
		}

		p.retransmissions++
		c.log.Debugf("%s has expired, retransmitting (%d)", id, p.retransmissions)
		if !c.retransmissions.push(p) {
			c.log.Debug("Failed to send pending ack for retransmission, shutting down?")
		}
	}
}

func (c *AcknowledgementController) onRetransmissionRequest(ctx context.Context, p *PendingAcknowledgement) {
	if p.Acked() {
		return
	}
	id := p.FragmentIdentifier()

	if p.IsAnonymous() {
		c.replySender.sendRetransmission(*p.senderTag, p, p.extraSurbRequest)
		return
	}

	prepared, err := c.handler.TryPrepareSingleChunkForSending(*p.recipient, p.fragment, p.packetType)
	if err != nil {
		c.log.Warnf("Could not retransmit the packet %s: %v", id, err)
		// restart the timer so that we try again later
		c.actions.push(newStartTimerAction(id))
		return
	}

	c.handler.UpdateAckDelay(id, prepared.TotalDelay)
	if err := c.handler.ForwardMessages(ctx, []*RealMessage{NewRealMessage(prepared)}, transmission.RetransmissionLane); err != nil {
		return
	}
	c.stats.Report(stats.NewEvent(stats.RetransmissionSent))
}

func (c *AcknowledgementController) retransmissionListener() {
	ctx := c.Context()
	for {
		select {
		case <-c.HaltCh():
			return
		case v, ok := <-c.retransmissions.out():
			if !ok {
				return
			}
			c.onRetransmissionRequest(ctx, v.(*PendingAcknowledgement))
		}
	}
}

func (c *AcknowledgementController) onInputMessage(ctx context.Context, msg *InputMessage) {
	var err error
	switch msg.Kind {
	case RegularInput:
		err = c.inputHandler.TrySendPlainMessage(ctx, msg.Recipient, msg.Data, msg.Lane, msg.PacketType, msg.MaxRetransmissions)
	case AnonymousInput:
		err = c.inputHandler.TrySendMessageWithReplySurbs(ctx, msg.Recipient, msg.Data, msg.ReplySurbs, msg.Lane, msg.PacketType, msg.MaxRetransmissions)
	case ReplyInput:
		c.replySender.SendReply(msg.SenderTag, msg.Data, msg.Lane, msg.MaxRetransmissions)
	case PremadeInput:
		err = c.inputHandler.SendPremadeMixPackets(ctx, msg.Premade, msg.Lane)
	default:
		c.log.Errorf("Unknown input message kind: %d", msg.Kind)
	}
	if err != nil && ctx.Err() == nil {
		c.log.Warnf("Failed to send message: %v", err)
	}
}

func (c *AcknowledgementController) inputListener() {
	ctx := c.Context()
	for {
		select {
		case <-c.HaltCh():
			return
		case msg, ok := <-c.inputReceiver:
			if !ok {
				c.log.Debug("InputMessageListener: Stopping since channel closed")
				return
			}
			c.onInputMessage(ctx, msg)
		}
	}
}

// Run processes actions, acks and timer expiries until ctx is cancelled.
// The input and retransmission listeners run alongside it and are stopped
// before Run returns.
func (c *AcknowledgementController) Run(ctx context.Context) error {
	c.log.Debug("Started AcknowledgementController")
	defer c.log.Debug("AcknowledgementController: Exiting")

	c.HaltOn(ctx)
	c.Go(c.inputListener)
	c.Go(c.retransmissionListener)
	defer func() {
		c.Halt()
		c.actions.close()
		c.retransmissions.close()
	}()

	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-c.actions.out():
			if !ok {
				return channelClosed(ctx)
			}
			c.processAction(v.(action))
		case ack, ok := <-c.ackReceiver:
			if !ok {
				c.log.Debug("AcknowledgementController: Stopping since ack channel closed")
				return channelClosed(ctx)
			}
			c.OnAckReceived(ack)
		case now := <-sweep.C:
			c.OnTimerTick(now)
		}
	}
}
