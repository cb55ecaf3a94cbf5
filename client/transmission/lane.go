// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transmission provides the per lane queues shared by the outbound
// scheduler and the reply controller.
package transmission

import (
	"fmt"
)

// ConnectionID identifies one application level connection multiplexed
// over the mixnet.
type ConnectionID uint64

// LaneKind enumerates the lane classes.
type LaneKind uint8

const (
	// General is used by messages not tied to any connection.
	General LaneKind = iota

	// ReplySurbRequest carries our requests for more reply SURBs.
	ReplySurbRequest

	// AdditionalReplySurbs carries SURBs we send to other clients.
	AdditionalReplySurbs

	// Retransmission carries fragments whose ack timed out.
	Retransmission

	// Connection is a per connection lane, see Lane.Connection.
	Connection
)

// Lane is a single logical queue of outbound packets. Lanes are comparable
// and may be used as map keys.
type Lane struct {
	Kind       LaneKind
	Connection ConnectionID
}

var (
	// GeneralLane is the lane of General kind.
	GeneralLane = Lane{Kind: General}

	// ReplySurbRequestLane is the lane of ReplySurbRequest kind.
	ReplySurbRequestLane = Lane{Kind: ReplySurbRequest}

	// AdditionalReplySurbsLane is the lane of AdditionalReplySurbs kind.
	AdditionalReplySurbsLane = Lane{Kind: AdditionalReplySurbs}

	// RetransmissionLane is the lane of Retransmission kind.
	RetransmissionLane = Lane{Kind: Retransmission}
)

// ConnectionLane returns the lane of connection id.
func ConnectionLane(id ConnectionID) Lane {
	return Lane{Kind: Connection, Connection: id}
}

// IsConnection returns true iff l belongs to an application connection.
func (l Lane) IsConnection() bool {
	return l.Kind == Connection
}

func (l Lane) String() string {
	switch l.Kind {
	case General:
		return "general"
	case ReplySurbRequest:
		return "reply-surb-request"
	case AdditionalReplySurbs:
		return "additional-reply-surbs"
	case Retransmission:
		return "retransmission"
	case Connection:
		return fmt.Sprintf("connection(%d)", l.Connection)
	default:
		return fmt.Sprintf("[unknown lane: %d]", l.Kind)
	}
}

// ConnectionCommandKind enumerates the connection commands.
type ConnectionCommandKind uint8

const (
	// CloseConnection asks for the lane of a connection to be dropped.
	CloseConnection ConnectionCommandKind = iota
)

// ConnectionCommand is sent by the connection layer to the outbound
// scheduler.
type ConnectionCommand struct {
	Kind ConnectionCommandKind
	ID   ConnectionID
}

// NewCloseCommand returns the command closing id.
func NewCloseCommand(id ConnectionID) ConnectionCommand {
	return ConnectionCommand{Kind: CloseConnection, ID: id}
}
