// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package stats collects the packet statistics emitted by the real traffic
// control tasks.
package stats

import (
	"fmt"
)

// EventKind enumerates the statistics events.
type EventKind uint8

const (
	// RealPacketSent is a real packet handed to the gateway. Value is the
	// packet size.
	RealPacketSent EventKind = iota

	// CoverPacketSent is a cover packet handed to the gateway. Value is the
	// packet size.
	CoverPacketSent

	// RealAckReceived is an ack for one of our fragments.
	RealAckReceived

	// CoverAckReceived is an ack for a cover packet.
	CoverAckReceived

	// DuplicateAck is an ack for a fragment that was already acknowledged.
	DuplicateAck

	// StrayAck is an ack matching nothing we know about.
	StrayAck

	// RealPacketQueued is counted for every real packet popped off a lane.
	RealPacketQueued

	// RetransmissionQueued is a packet popped off the retransmission lane.
	RetransmissionQueued

	// ReplySurbRequestQueued is a packet popped off the SURB request lane.
	ReplySurbRequestQueued

	// AdditionalReplySurbRequestQueued is a packet popped off the additional
	// SURBs lane.
	AdditionalReplySurbRequestQueued

	// RetransmissionSent is a fragment handed back for retransmission.
	RetransmissionSent

	// FragmentLost is a fragment that exhausted its retransmissions.
	FragmentLost

	// SurbsIssued is a batch of reply SURBs sent away. Value is the amount.
	SurbsIssued

	// SurbRequestRejected is a SURB request from an unknown recipient.
	SurbRequestRejected

	// SurbRequestClamped is a SURB request that asked for too many SURBs.
	SurbRequestClamped

	// ReplyKeysPurged is a stale reply key purge. Value is the amount.
	ReplyKeysPurged

	numEventKinds
)

var eventKindNames = [numEventKinds]string{
	RealPacketSent:                   "real_packet_sent",
	CoverPacketSent:                  "cover_packet_sent",
	RealAckReceived:                  "real_ack_received",
	CoverAckReceived:                 "cover_ack_received",
	DuplicateAck:                     "duplicate_ack",
	StrayAck:                         "stray_ack",
	RealPacketQueued:                 "real_packet_queued",
	RetransmissionQueued:             "retransmission_queued",
	ReplySurbRequestQueued:           "reply_surb_request_queued",
	AdditionalReplySurbRequestQueued: "additional_reply_surb_request_queued",
	RetransmissionSent:               "retransmission_sent",
	FragmentLost:                     "fragment_lost",
	SurbsIssued:                      "surbs_issued",
	SurbRequestRejected:              "surb_request_rejected",
	SurbRequestClamped:               "surb_request_clamped",
	ReplyKeysPurged:                  "reply_keys_purged",
}

func (k EventKind) String() string {
	if k < numEventKinds {
		return eventKindNames[k]
	}
	return fmt.Sprintf("[unknown event: %d]", uint8(k))
}

// Event is a single statistics event.
type Event struct {
	Kind  EventKind
	Value int
}

// NewEvent returns an event with a value of one.
func NewEvent(kind EventKind) Event {
	return Event{Kind: kind, Value: 1}
}

// NewSizedEvent returns an event carrying a size or an amount.
func NewSizedEvent(kind EventKind, value int) Event {
	return Event{Kind: kind, Value: value}
}
