// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build noprometheus

package instrument

import (
	"net/http"
)

// Init does nothing
func Init() {}

// Handler returns a handler answering 404
func Handler() http.Handler {
	return http.NotFoundHandler()
}

// PacketSent does nothing
func PacketSent(kind string, size int) {}

// AckReceived does nothing
func AckReceived(kind string) {}

// PacketQueued does nothing
func PacketQueued(lane string) {}

// RetransmissionSent does nothing
func RetransmissionSent() {}

// FragmentLost does nothing
func FragmentLost() {}

// IgnoredAck does nothing
func IgnoredAck(reason string) {}

// SurbsIssued does nothing
func SurbsIssued(n int) {}

// SurbRequest does nothing
func SurbRequest(outcome string) {}

// ReplyKeysPurged does nothing
func ReplyKeysPurged(n int) {}

// OutboundBacklog does nothing
func OutboundBacklog(n int) {}

// SendingDelayMultiplier does nothing
func SendingDelayMultiplier(m uint32) {}
