// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"context"

	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
)

type replyRequestKind uint8

const (
	requestSendReply replyRequestKind = iota
	requestRetransmitReply
	requestAdditionalSurbs
	requestAdditionalSurbsRequest
	requestLaneQueueLength
)

// ReplyControllerMessage is a request handled by the ReplyController.
type ReplyControllerMessage struct {
	kind replyRequestKind

	tag                anonymous.AnonymousSenderTag
	data               []byte
	lane               transmission.Lane
	maxRetransmissions *uint32

	timedOut         *PendingAcknowledgement
	extraSurbRequest bool

	surbs           []*anonymous.ReplySurb
	fromSurbRequest bool

	recipient addressing.Recipient
	amount    uint32

	connection transmission.ConnectionID
	response   chan<- int
}

// ReplyControllerSender is the handle other tasks use to reach the
// ReplyController. Requests are queued without bound and never block.
type ReplyControllerSender struct {
	q *unboundedQueue
}

func (s ReplyControllerSender) send(m *ReplyControllerMessage) bool {
	if s.q == nil {
		return false
	}
	return s.q.push(m)
}

// SendReply asks for data to be sent to the owner of tag using their
// reply SURBs.
func (s ReplyControllerSender) SendReply(tag anonymous.AnonymousSenderTag, data []byte, lane transmission.Lane, maxRetransmissions *uint32) bool {
	return s.send(&ReplyControllerMessage{
		kind:               requestSendReply,
		tag:                tag,
		data:               data,
		lane:               lane,
		maxRetransmissions: maxRetransmissions,
	})
}

func (s ReplyControllerSender) sendRetransmission(tag anonymous.AnonymousSenderTag, timedOut *PendingAcknowledgement, extraSurbRequest bool) bool {
	return s.send(&ReplyControllerMessage{
		kind:             requestRetransmitReply,
		tag:              tag,
		timedOut:         timedOut,
		extraSurbRequest: extraSurbRequest,
	})
}

// SendAdditionalSurbs hands over reply SURBs received from tag.
// fromSurbRequest is set when they answer a request of ours.
func (s ReplyControllerSender) SendAdditionalSurbs(tag anonymous.AnonymousSenderTag, surbs []*anonymous.ReplySurb, fromSurbRequest bool) bool {
	return s.send(&ReplyControllerMessage{
		kind:            requestAdditionalSurbs,
		tag:             tag,
		surbs:           surbs,
		fromSurbRequest: fromSurbRequest,
	})
}

// SendAdditionalSurbsRequest relays a request of recipient for amount
// more of our reply SURBs.
func (s ReplyControllerSender) SendAdditionalSurbsRequest(recipient addressing.Recipient, amount uint32) bool {
	return s.send(&ReplyControllerMessage{
		kind:      requestAdditionalSurbsRequest,
		recipient: recipient,
		amount:    amount,
	})
}

// GetLaneQueueLength returns the number of replies buffered on the lane
// of connection.
func (s ReplyControllerSender) GetLaneQueueLength(ctx context.Context, connection transmission.ConnectionID) (int, error) {
	ch := make(chan int, 1)
	if !s.send(&ReplyControllerMessage{
		kind:       requestLaneQueueLength,
		connection: connection,
		response:   ch,
	}) {
		return 0, ErrChannelClosed
	}
	select {
	case n := <-ch:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReplyControllerReceiver is the ReplyController end of the request queue.
type ReplyControllerReceiver struct {
	q *unboundedQueue
}

// NewReplyControllerChannels returns both ends of a reply controller
// request queue.
func NewReplyControllerChannels() (ReplyControllerSender, ReplyControllerReceiver) {
	q := newUnboundedQueue()
	return ReplyControllerSender{q: q}, ReplyControllerReceiver{q: q}
}
