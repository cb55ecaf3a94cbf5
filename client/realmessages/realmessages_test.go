// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"testing"
	"time"

	hrand "github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/nymtech/nym-go/client/replystorage"
	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/core/epochtime"
	nlog "github.com/nymtech/nym-go/core/log"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
	"github.com/nymtech/nym-go/topology"
)

const (
	testMinSurbThreshold = 10
	testMaxSurbThreshold = 200
)

var (
	ownGateway   = addressing.NodeIdentity{1}
	otherGateway = addressing.NodeIdentity{2}
)

type fixture struct {
	top          *topology.Accessor
	ackKey       *acknowledgements.AckKey
	self         addressing.Recipient
	remote       addressing.Recipient
	storage      *replystorage.CombinedReplyStorage
	actions      *unboundedQueue
	realMessages chan *RealMessageBatch
	handler      *MessageHandler
	keyRotation  epochtime.KeyRotationConfig
}

func newTopology(t *testing.T, meta topology.Metadata) *topology.Topology {
	top, err := topology.NewRandom(hrand.Reader, meta, params.DefaultNumMixHops, 3, ownGateway, otherGateway)
	require.NoError(t, err)
	return top
}

func newFixture(t *testing.T) *fixture {
	// two days worth of epochs in, in the middle of rotation 2
	now := time.Now()
	krc := epochtime.KeyRotationConfig{
		EpochDuration:     time.Hour,
		EpochsInRotation:  24,
		InitialEpochStart: now.Add(-60*time.Hour - 30*time.Minute),
	}
	top := newTopology(t, topology.Metadata{KeyRotationID: 2, AbsoluteEpochID: 60})

	self, err := addressing.NewRandomRecipient(hrand.Reader, ownGateway)
	require.NoError(t, err)
	remote, err := addressing.NewRandomRecipient(hrand.Reader, otherGateway)
	require.NoError(t, err)
	ackKey, err := acknowledgements.NewAckKey(hrand.Reader)
	require.NoError(t, err)

	f := &fixture{
		top:          topology.NewStaticAccessor(top),
		ackKey:       ackKey,
		self:         *self,
		remote:       *remote,
		storage:      replystorage.NewCombinedReplyStorage(testMinSurbThreshold, testMaxSurbThreshold),
		actions:      newUnboundedQueue(),
		realMessages: make(chan *RealMessageBatch, 64),
		keyRotation:  krc,
	}
	t.Cleanup(f.actions.close)

	f.handler = newMessageHandler(MessageHandlerConfig{
		AckKey:             ackKey,
		SenderAddress:      *self,
		AveragePacketDelay: 10 * time.Millisecond,
		AverageAckDelay:    10 * time.Millisecond,
		PrimaryPacketSize:  params.RegularPacket,
		NumMixHops:         params.DefaultNumMixHops,
	}, preparer.PlaintextCodec{}, actionSender{q: f.actions}, f.realMessages, f.top, f.storage, nil, nlog.Discard())
	return f
}

func (f *fixture) newAckController(t *testing.T, maxRetransmissions uint32, replySender ReplyControllerSender) *AcknowledgementController {
	c, err := newAcknowledgementController(AcknowledgementConfig{
		AckWaitMultiplier:              1.5,
		AckWaitAddition:                time.Second,
		MaximumNumberOfRetransmissions: maxRetransmissions,
	}, nlog.Discard(), f.ackKey, f.actions, make(chan []byte), make(chan *InputMessage), f.handler, replySender, nil)
	require.NoError(t, err)
	t.Cleanup(c.retransmissions.close)
	return c
}

func (f *fixture) newReplyController(t *testing.T) (*ReplyController, ReplyControllerSender) {
	sender, receiver := NewReplyControllerChannels()
	t.Cleanup(receiver.q.close)
	c := newReplyController(ReplyControllerConfig{
		MinimumReplySurbRequestSize:            10,
		MaximumReplySurbRequestSize:            100,
		MaximumAllowedReplySurbRequestSize:     500,
		MaximumReplySurbRerequestWaitingPeriod: 10 * time.Second,
		MaximumReplySurbDropWaitingPeriod:      5 * time.Minute,
		MaximumReplySurbRerequests:             3,
		MaximumReplyKeyAge:                     24 * time.Hour,
		KeyRotation:                            f.keyRotation,
	}, nlog.Discard(), f.handler.Clone(nlog.Discard()), f.storage, f.top, receiver.q, nil)
	return c, sender
}

// surbsFromSelf returns n SURBs leading back to us, as if another client
// had handed them to us.
func (f *fixture) surbsFromSelf(t *testing.T, n int, rotation anonymous.KeyRotation) []*anonymous.ReplySurb {
	top, err := f.top.Current()
	require.NoError(t, err)
	surbs, err := f.handler.preparer.GenerateReplySurbs(top, n, rotation)
	require.NoError(t, err)
	return surbs
}

func newTestFragment(t *testing.T, setID int32) *chunking.Fragment {
	frag, err := chunking.NewFragment(setID, 1, 1, []byte("hello world"))
	require.NoError(t, err)
	return frag
}

func nextAction(t *testing.T, q *unboundedQueue) action {
	t.Helper()
	select {
	case v := <-q.out():
		return v.(action)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an ack action")
	}
	return action{}
}

// nextActionOfKind skips actions until one of the given kind arrives.
func nextActionOfKind(t *testing.T, q *unboundedQueue, kind actionKind) action {
	t.Helper()
	for {
		if a := nextAction(t, q); a.kind == kind {
			return a
		}
	}
}

func nextBatch(t *testing.T, ch <-chan *RealMessageBatch) *RealMessageBatch {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a real message batch")
	}
	return nil
}

func requireNoBatch(t *testing.T, ch <-chan *RealMessageBatch) {
	t.Helper()
	select {
	case b := <-ch:
		t.Fatalf("unexpected batch of %d messages on %s", len(b.Messages), b.Lane)
	default:
	}
}

// drainBatches returns every batch currently queued on ch.
func drainBatches(ch <-chan *RealMessageBatch) []*RealMessageBatch {
	var out []*RealMessageBatch
	for {
		select {
		case b := <-ch:
			out = append(out, b)
		default:
			return out
		}
	}
}

func countOnLane(batches []*RealMessageBatch, lane transmission.Lane) int {
	n := 0
	for _, b := range batches {
		if b.Lane == lane {
			n += len(b.Messages)
		}
	}
	return n
}
