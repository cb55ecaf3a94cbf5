// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"context"
	"testing"
	"time"

	hrand "github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/nymtech/nym-go/client/stats"
	"github.com/nymtech/nym-go/client/transmission"
	nlog "github.com/nymtech/nym-go/core/log"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
)

func (f *fixture) knownPending(t *testing.T, setID int32, delay time.Duration) *PendingAcknowledgement {
	return newKnownPendingAck(newTestFragment(t, setID), delay, f.remote, params.MixPacket, nil)
}

func (f *fixture) ack(t *testing.T, id chunking.FragmentIdentifier) []byte {
	b, err := acknowledgements.PrepareIdentifier(hrand.Reader, f.ackKey, id)
	require.NoError(t, err)
	return b
}

func nextRetransmission(t *testing.T, c *AcknowledgementController) *PendingAcknowledgement {
	t.Helper()
	select {
	case v := <-c.retransmissions.out():
		return v.(*PendingAcknowledgement)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a retransmission")
	}
	return nil
}

func TestAckDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	p := f.knownPending(t, 1, 2*time.Second)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p}))
	require.Equal(t, 1, c.Len())
	require.False(t, p.timerStarted)

	now := time.Now()
	c.OnSent(p.FragmentIdentifier(), now)
	require.True(t, p.timerStarted)
	// 2s * 1.5 + 1s
	require.Equal(t, now.Add(4*time.Second), p.deadline)

	// an updated delay applies to the next timer
	c.processAction(newUpdateDelayAction(p.FragmentIdentifier(), 4*time.Second))
	c.OnSent(p.FragmentIdentifier(), now)
	require.Equal(t, now.Add(7*time.Second), p.deadline)

	// timers that did not expire are left alone
	c.OnTimerTick(now.Add(6 * time.Second))
	require.Equal(t, 0, c.retransmissions.len())
	require.True(t, p.timerStarted)
}

func TestAckRetransmissionBound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	reporter := stats.NewReporter()
	c.stats = reporter
	statsControl := stats.NewControl(reporter, nlog.Discard(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go statsControl.Run(ctx)

	p := f.knownPending(t, 1, time.Second)
	id := p.FragmentIdentifier()
	c.processAction(newInsertAction([]*PendingAcknowledgement{p}))

	now := time.Now()
	for i := 1; i <= 3; i++ {
		c.OnSent(id, now)
		now = p.deadline
		c.OnTimerTick(now)
		require.Same(t, p, nextRetransmission(t, c))
		require.Equal(t, uint32(i), p.retransmissions)
		require.False(t, p.Acked())
		require.Equal(t, 1, c.Len())
	}

	// the fourth expiry abandons the fragment
	c.OnSent(id, now)
	c.OnTimerTick(p.deadline)
	require.Equal(t, 0, c.Len())
	require.True(t, p.Acked())
	require.Equal(t, 0, c.timers.Len())

	select {
	case <-c.retransmissions.out():
		t.Fatal("fragment retransmitted beyond its bound")
	case <-time.After(50 * time.Millisecond):
	}

	// the loss is reported exactly once, even if the timer fires again
	require.Eventually(t, func() bool {
		return statsControl.Snapshot().Count(stats.FragmentLost) == 1
	}, 5*time.Second, 10*time.Millisecond)
	c.OnTimerTick(p.deadline.Add(time.Hour))
	c.OnSent(id, now)
	c.OnTimerTick(p.deadline.Add(2 * time.Hour))
	require.Never(t, func() bool {
		return statsControl.Snapshot().Count(stats.FragmentLost) != 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestAckRetransmissionBoundOverride(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	zero := uint32(0)
	p := newKnownPendingAck(newTestFragment(t, 1), time.Second, f.remote, params.MixPacket, &zero)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p}))

	now := time.Now()
	c.OnSent(p.FragmentIdentifier(), now)
	c.OnTimerTick(p.deadline)
	require.Equal(t, 0, c.Len())
	require.True(t, p.Acked())
}

func TestAckReceived(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	p1 := f.knownPending(t, 1, time.Second)
	p2 := f.knownPending(t, 2, time.Second)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p1, p2}))
	c.OnSent(p1.FragmentIdentifier(), time.Now())
	require.Equal(t, 2, c.Len())

	// garbage, cover and unknown acks are ignored
	c.OnAckReceived([]byte("definitely not an ack"))
	c.OnAckReceived(f.ack(t, chunking.CoverFragmentIdentifier))
	c.OnAckReceived(f.ack(t, chunking.FragmentIdentifier{SetID: 42, Position: 1}))
	require.Equal(t, 2, c.Len())

	otherKey, err := acknowledgements.NewAckKey(hrand.Reader)
	require.NoError(t, err)
	foreign, err := acknowledgements.PrepareIdentifier(hrand.Reader, otherKey, p1.FragmentIdentifier())
	require.NoError(t, err)
	c.OnAckReceived(foreign)
	require.Equal(t, 2, c.Len())

	ack := f.ack(t, p1.FragmentIdentifier())
	c.OnAckReceived(ack)
	require.Equal(t, 1, c.Len())
	require.True(t, p1.Acked())
	require.False(t, p2.Acked())
	require.Equal(t, 0, c.timers.Len())

	// a duplicate ack is a no-op
	c.OnAckReceived(ack)
	require.Equal(t, 1, c.Len())
	require.True(t, c.ackedIDs.Test(p1.FragmentIdentifier().Bytes()))
}

func TestAckDuplicateInsert(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	p := f.knownPending(t, 1, time.Second)
	dup := f.knownPending(t, 1, 5*time.Second)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p}))
	c.processAction(newInsertAction([]*PendingAcknowledgement{dup}))

	require.Equal(t, 1, c.Len())
	require.Same(t, p, c.pending[p.FragmentIdentifier()])
}

func TestAckDropAndRemove(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	p1 := f.knownPending(t, 1, time.Second)
	p2 := f.knownPending(t, 2, time.Second)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p1, p2}))
	c.OnSent(p2.FragmentIdentifier(), time.Now())

	c.processAction(newDropAction([]chunking.FragmentIdentifier{p1.FragmentIdentifier()}))
	require.Equal(t, 1, c.Len())
	require.True(t, p1.Acked())

	c.processAction(newRemoveAction(p2.FragmentIdentifier()))
	require.Equal(t, 0, c.Len())
	require.True(t, p2.Acked())
	require.Equal(t, 0, c.timers.Len())

	// unknown ids are ignored
	c.processAction(newStartTimerAction(p1.FragmentIdentifier()))
	c.processAction(newRemoveAction(p1.FragmentIdentifier()))
	require.Equal(t, 0, c.Len())
}

func TestAckStartTimerAction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	now := time.Now()
	c.now = func() time.Time { return now }

	p := f.knownPending(t, 1, time.Second)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p}))
	c.processAction(newStartTimerAction(p.FragmentIdentifier()))
	require.True(t, p.timerStarted)
	require.Equal(t, now.Add(2500*time.Millisecond), p.deadline)
}

func TestAckKnownRetransmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	p := f.knownPending(t, 1, time.Second)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p}))

	c.onRetransmissionRequest(context.Background(), p)

	b := nextBatch(t, f.realMessages)
	require.Equal(t, transmission.RetransmissionLane, b.Lane)
	require.Len(t, b.Messages, 1)
	require.Equal(t, p.FragmentIdentifier(), *b.Messages[0].FragmentID)

	pkt, err := preparer.OpenPlaintext(b.Messages[0].MixPacket.Packet)
	require.NoError(t, err)
	require.Equal(t, f.remote, pkt.Recipient)

	a := nextAction(t, f.actions)
	require.Equal(t, actionUpdateDelay, a.kind)
	require.Equal(t, []chunking.FragmentIdentifier{p.FragmentIdentifier()}, a.ids)
	require.Equal(t, pkt.TotalDelay(), a.delay-ackRoundTrip(t, pkt))

	// fragments acked while queued are not resent
	c.handleRemove(p.FragmentIdentifier())
	c.onRetransmissionRequest(context.Background(), p)
	requireNoBatch(t, f.realMessages)
}

// ackRoundTrip returns the delay the SURB-ack embedded in pkt adds.
func ackRoundTrip(t *testing.T, pkt *preparer.PlaintextPacket) time.Duration {
	_, ackPacket, _, err := preparer.SplitSurbAck(pkt.Payload)
	require.NoError(t, err)
	ack, err := preparer.OpenPlaintext(ackPacket)
	require.NoError(t, err)
	return ack.TotalDelay()
}

func TestAckAnonymousRetransmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sender, receiver := NewReplyControllerChannels()
	t.Cleanup(receiver.q.close)
	c := f.newAckController(t, 3, sender)

	tag, err := anonymous.NewAnonymousSenderTag(hrand.Reader)
	require.NoError(t, err)
	p := newAnonymousPendingAck(newTestFragment(t, 1), time.Second, tag, true, nil)
	c.processAction(newInsertAction([]*PendingAcknowledgement{p}))

	c.onRetransmissionRequest(context.Background(), p)

	select {
	case v := <-receiver.q.out():
		req := v.(*ReplyControllerMessage)
		require.Equal(t, requestRetransmitReply, req.kind)
		require.Equal(t, tag, req.tag)
		require.Same(t, p, req.timedOut)
		require.True(t, req.extraSurbRequest)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reply controller request")
	}
	requireNoBatch(t, f.realMessages)
}

func TestAckInputMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.newAckController(t, 3, ReplyControllerSender{})

	lane := transmission.ConnectionLane(7)
	c.onInputMessage(context.Background(), NewRegularInput(f.remote, []byte("hello"), lane, params.MixPacket).WithMaxRetransmissions(1))

	// the pending acks are registered before the packets are forwarded
	a := nextAction(t, f.actions)
	require.Equal(t, actionInsertPending, a.kind)
	require.Len(t, a.pending, 1)
	require.NotNil(t, a.pending[0].maxRetransmissions)
	require.Equal(t, uint32(1), *a.pending[0].maxRetransmissions)

	b := nextBatch(t, f.realMessages)
	require.Equal(t, lane, b.Lane)
	require.Len(t, b.Messages, 1)
	require.Equal(t, a.pending[0].FragmentIdentifier(), *b.Messages[0].FragmentID)
}

func TestAckControllerRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	acks := make(chan []byte)
	c, err := newAcknowledgementController(AcknowledgementConfig{
		AckWaitMultiplier:              1,
		AckWaitAddition:                time.Hour,
		MaximumNumberOfRetransmissions: 3,
		SweepInterval:                  10 * time.Millisecond,
	}, f.handler.log, f.ackKey, f.actions, acks, make(chan *InputMessage), f.handler, ReplyControllerSender{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	p := f.knownPending(t, 1, time.Second)
	f.handler.InsertPendingAcks([]*PendingAcknowledgement{p})

	// the ack may race the insert, so keep offering it
	ack := f.ack(t, p.FragmentIdentifier())
	require.Eventually(t, func() bool {
		select {
		case acks <- ack:
		default:
		}
		return p.Acked()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func TestAckControllerChannelClose(t *testing.T) {
	t.Parallel()

	newController := func(t *testing.T) (*AcknowledgementController, chan []byte) {
		f := newFixture(t)
		acks := make(chan []byte)
		c, err := newAcknowledgementController(AcknowledgementConfig{
			AckWaitMultiplier:              1,
			AckWaitAddition:                time.Second,
			MaximumNumberOfRetransmissions: 3,
			SweepInterval:                  time.Hour,
		}, nlog.Discard(), f.ackKey, f.actions, acks, make(chan *InputMessage), f.handler, ReplyControllerSender{}, nil)
		require.NoError(t, err)
		return c, acks
	}

	// shutting down while the ack channel closes is not an error
	for i := 0; i < 50; i++ {
		c, acks := newController(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		close(acks)
		require.NoError(t, c.Run(ctx))
	}

	c, acks := newController(t)
	close(acks)
	require.ErrorIs(t, c.Run(context.Background()), ErrChannelClosed)
}
