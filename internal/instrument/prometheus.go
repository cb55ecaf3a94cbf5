// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !noprometheus

// Package instrument exports the client packet statistics as prometheus
// metrics.
package instrument

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nym_client_packets_sent_total",
			Help: "Number of packets handed to the gateway",
		},
		[]string{"kind"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nym_client_bytes_sent_total",
			Help: "Number of packet bytes handed to the gateway",
		},
		[]string{"kind"},
	)
	acksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nym_client_acks_received_total",
			Help: "Number of acknowledgements received",
		},
		[]string{"kind"},
	)
	packetsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nym_client_packets_queued_total",
			Help: "Number of real packets taken off the transmission lanes",
		},
		[]string{"lane"},
	)
	retransmissionsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nym_client_retransmissions_total",
			Help: "Number of fragments retransmitted after an ack timeout",
		},
	)
	fragmentsLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nym_client_fragments_lost_total",
			Help: "Number of fragments abandoned after exhausting their retransmissions",
		},
	)
	ignoredAcks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nym_client_ignored_acks_total",
			Help: "Number of acks that matched no pending fragment",
		},
		[]string{"reason"},
	)
	surbsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nym_client_reply_surbs_issued_total",
			Help: "Number of reply SURBs sent to other clients",
		},
	)
	surbRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nym_client_reply_surb_requests_total",
			Help: "Number of reply SURB requests by outcome",
		},
		[]string{"outcome"},
	)
	replyKeysPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nym_client_reply_keys_purged_total",
			Help: "Number of stale reply keys removed",
		},
	)
	outboundBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nym_client_outbound_backlog_packets",
			Help: "Number of real packets waiting for a send slot",
		},
	)
	sendingDelayMultiplier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nym_client_sending_delay_multiplier",
			Help: "Current backpressure multiplier of the average sending delay",
		},
	)

	initOnce sync.Once
)

// Init registers the metrics with the default registry. It is safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(packetsSent)
		prometheus.MustRegister(bytesSent)
		prometheus.MustRegister(acksReceived)
		prometheus.MustRegister(packetsQueued)
		prometheus.MustRegister(retransmissionsSent)
		prometheus.MustRegister(fragmentsLost)
		prometheus.MustRegister(ignoredAcks)
		prometheus.MustRegister(surbsIssued)
		prometheus.MustRegister(surbRequests)
		prometheus.MustRegister(replyKeysPurged)
		prometheus.MustRegister(outboundBacklog)
		prometheus.MustRegister(sendingDelayMultiplier)
	})
}

// Handler returns the HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PacketSent counts a packet of size bytes; kind is "real" or "cover".
func PacketSent(kind string, size int) {
	packetsSent.With(prometheus.Labels{"kind": kind}).Inc()
	bytesSent.With(prometheus.Labels{"kind": kind}).Add(float64(size))
}

// AckReceived counts an ack; kind is "real" or "cover".
func AckReceived(kind string) {
	acksReceived.With(prometheus.Labels{"kind": kind}).Inc()
}

// PacketQueued counts a packet popped off lane.
func PacketQueued(lane string) {
	packetsQueued.With(prometheus.Labels{"lane": lane}).Inc()
}

// RetransmissionSent counts a retransmitted fragment.
func RetransmissionSent() {
	retransmissionsSent.Inc()
}

// FragmentLost counts an abandoned fragment.
func FragmentLost() {
	fragmentsLost.Inc()
}

// IgnoredAck counts an ack that did not match a pending fragment.
func IgnoredAck(reason string) {
	ignoredAcks.With(prometheus.Labels{"reason": reason}).Inc()
}

// SurbsIssued counts reply SURBs sent away.
func SurbsIssued(n int) {
	surbsIssued.Add(float64(n))
}

// SurbRequest counts a reply SURB request by outcome.
func SurbRequest(outcome string) {
	surbRequests.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// ReplyKeysPurged counts removed reply keys.
func ReplyKeysPurged(n int) {
	replyKeysPurged.Add(float64(n))
}

// OutboundBacklog observes the size of the transmission buffer.
func OutboundBacklog(n int) {
	outboundBacklog.Set(float64(n))
}

// SendingDelayMultiplier observes the backpressure multiplier.
func SendingDelayMultiplier(m uint32) {
	sendingDelayMultiplier.Set(float64(m))
}
