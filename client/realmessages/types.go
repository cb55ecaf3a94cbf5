// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"sync/atomic"
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
)

// RealMessage is a packet carrying real data, waiting for a send slot.
type RealMessage struct {
	MixPacket *preparer.MixPacket

	// FragmentID is nil for packets that are not ack tracked.
	FragmentID *chunking.FragmentIdentifier
}

// NewRealMessage returns a RealMessage for a prepared fragment.
func NewRealMessage(prepared *preparer.PreparedFragment) *RealMessage {
	id := prepared.FragmentIdentifier
	return &RealMessage{
		MixPacket:  prepared.MixPacket,
		FragmentID: &id,
	}
}

// Size returns the size of the packet on the wire.
func (m *RealMessage) Size() int {
	return len(m.MixPacket.Packet)
}

// RealMessageBatch is the unit the message handler hands to the outbound
// scheduler.
type RealMessageBatch struct {
	Messages []*RealMessage
	Lane     transmission.Lane
}

// InputMessageKind enumerates the application send requests.
type InputMessageKind uint8

const (
	// RegularInput is a plain message to a known recipient.
	RegularInput InputMessageKind = iota

	// AnonymousInput is a message to a known recipient carrying reply SURBs.
	AnonymousInput

	// ReplyInput is a reply sent with SURBs received from SenderTag.
	ReplyInput

	// PremadeInput carries packets that were already prepared.
	PremadeInput
)

// InputMessage is a send request of the application.
type InputMessage struct {
	Kind InputMessageKind

	Recipient addressing.Recipient
	SenderTag anonymous.AnonymousSenderTag
	Data      []byte

	// ReplySurbs is the number of SURBs attached to an AnonymousInput.
	ReplySurbs uint32

	Lane       transmission.Lane
	PacketType params.PacketType

	// MaxRetransmissions overrides the configured retransmission bound
	// when set.
	MaxRetransmissions *uint32

	Premade []*RealMessage
}

// NewRegularInput returns a plain send request.
func NewRegularInput(recipient addressing.Recipient, data []byte, lane transmission.Lane, packetType params.PacketType) *InputMessage {
	return &InputMessage{
		Kind:       RegularInput,
		Recipient:  recipient,
		Data:       data,
		Lane:       lane,
		PacketType: packetType,
	}
}

// NewAnonymousInput returns a send request carrying replySurbs SURBs.
func NewAnonymousInput(recipient addressing.Recipient, data []byte, replySurbs uint32, lane transmission.Lane, packetType params.PacketType) *InputMessage {
	return &InputMessage{
		Kind:       AnonymousInput,
		Recipient:  recipient,
		Data:       data,
		ReplySurbs: replySurbs,
		Lane:       lane,
		PacketType: packetType,
	}
}

// NewReplyInput returns a reply to the sender of tag.
func NewReplyInput(tag anonymous.AnonymousSenderTag, data []byte, lane transmission.Lane) *InputMessage {
	return &InputMessage{
		Kind:      ReplyInput,
		SenderTag: tag,
		Data:      data,
		Lane:      lane,
	}
}

// NewPremadeInput returns a request to forward already prepared packets.
func NewPremadeInput(msgs []*RealMessage, lane transmission.Lane) *InputMessage {
	return &InputMessage{
		Kind:    PremadeInput,
		Premade: msgs,
		Lane:    lane,
	}
}

// WithMaxRetransmissions overrides the retransmission bound of m.
func (m *InputMessage) WithMaxRetransmissions(n uint32) *InputMessage {
	m.MaxRetransmissions = &n
	return m
}

// PendingAcknowledgement is a fragment we sent and have not yet seen the
// ack of. Its fragment and destination never change after creation; the
// remaining state belongs to the acknowledgement controller.
type PendingAcknowledgement struct {
	fragment *chunking.Fragment

	recipient        *addressing.Recipient
	senderTag        *anonymous.AnonymousSenderTag
	extraSurbRequest bool
	packetType       params.PacketType

	maxRetransmissions *uint32

	delay           time.Duration
	retransmissions uint32
	timerStarted    bool
	deadline        time.Time
	seq             uint64
	node            *avl.Node

	acked atomic.Bool
}

func newKnownPendingAck(fragment *chunking.Fragment, delay time.Duration, recipient addressing.Recipient, packetType params.PacketType, maxRetransmissions *uint32) *PendingAcknowledgement {
	return &PendingAcknowledgement{
		fragment:           fragment,
		recipient:          &recipient,
		packetType:         packetType,
		maxRetransmissions: maxRetransmissions,
		delay:              delay,
	}
}

func newAnonymousPendingAck(fragment *chunking.Fragment, delay time.Duration, tag anonymous.AnonymousSenderTag, extraSurbRequest bool, maxRetransmissions *uint32) *PendingAcknowledgement {
	return &PendingAcknowledgement{
		fragment:           fragment,
		senderTag:          &tag,
		extraSurbRequest:   extraSurbRequest,
		packetType:         params.MixPacket,
		maxRetransmissions: maxRetransmissions,
		delay:              delay,
	}
}

// FragmentIdentifier returns the id of the wrapped fragment.
func (p *PendingAcknowledgement) FragmentIdentifier() chunking.FragmentIdentifier {
	return p.fragment.FragmentIdentifier()
}

// Fragment returns the wrapped fragment.
func (p *PendingAcknowledgement) Fragment() *chunking.Fragment {
	return p.fragment
}

// IsAnonymous returns true iff the fragment was sent with a reply SURB.
func (p *PendingAcknowledgement) IsAnonymous() bool {
	return p.senderTag != nil
}

// Acked returns true once the entry left the controller, either because its
// ack arrived or because it was abandoned.
func (p *PendingAcknowledgement) Acked() bool {
	return p.acked.Load()
}

type actionKind uint8

const (
	actionInsertPending actionKind = iota
	actionRemovePending
	actionStartTimer
	actionUpdateDelay
	actionDropPending
)

// action is a request to mutate the pending ack state, which is owned by
// the acknowledgement controller.
type action struct {
	kind    actionKind
	pending []*PendingAcknowledgement
	ids     []chunking.FragmentIdentifier
	delay   time.Duration
}

func newInsertAction(pending []*PendingAcknowledgement) action {
	return action{kind: actionInsertPending, pending: pending}
}

func newRemoveAction(id chunking.FragmentIdentifier) action {
	return action{kind: actionRemovePending, ids: []chunking.FragmentIdentifier{id}}
}

func newStartTimerAction(id chunking.FragmentIdentifier) action {
	return action{kind: actionStartTimer, ids: []chunking.FragmentIdentifier{id}}
}

func newUpdateDelayAction(id chunking.FragmentIdentifier, delay time.Duration) action {
	return action{kind: actionUpdateDelay, ids: []chunking.FragmentIdentifier{id}, delay: delay}
}

func newDropAction(ids []chunking.FragmentIdentifier) action {
	return action{kind: actionDropPending, ids: ids}
}

// actionSender is the handle other tasks use to reach the acknowledgement
// controller.
type actionSender struct {
	q *unboundedQueue
}

func (s actionSender) send(a action) bool {
	return s.q.push(a)
}
