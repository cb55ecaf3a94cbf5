// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nlog "github.com/nymtech/nym-go/core/log"
)

func TestNilReporter(t *testing.T) {
	var r *Reporter
	require.NotPanics(t, func() {
		r.Report(NewEvent(FragmentLost))
	})
}

func TestReportAfterClose(t *testing.T) {
	r := NewReporter()
	r.Close()
	require.NotPanics(t, func() {
		r.Report(NewEvent(FragmentLost))
		r.Close()
	})
}

func TestControlAggregates(t *testing.T) {
	r := NewReporter()
	c := NewControl(r, nlog.Discard(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	r.Report(NewSizedEvent(RealPacketSent, 2048))
	r.Report(NewSizedEvent(RealPacketSent, 2048))
	r.Report(NewSizedEvent(CoverPacketSent, 2048))
	r.Report(NewSizedEvent(SurbsIssued, 100))
	r.Report(NewSizedEvent(SurbsIssued, 50))
	r.Report(NewEvent(RealPacketQueued))
	r.Report(NewEvent(RealPacketQueued))
	r.Report(NewEvent(RetransmissionQueued))
	r.Report(NewEvent(FragmentLost))
	r.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the reporter was closed")
	}

	s := c.Snapshot()
	require.Equal(t, uint64(2), s.Count(RealPacketSent))
	require.Equal(t, uint64(4096), s.RealBytesSent())
	require.Equal(t, uint64(1), s.Count(CoverPacketSent))
	require.Equal(t, uint64(2048), s.CoverBytesSent())
	require.Equal(t, uint64(150), s.Count(SurbsIssued))
	require.Equal(t, uint64(1), s.Count(FragmentLost))
	require.InDelta(t, 0.5, s.RetransmissionRatio(), 1e-9)
	require.Equal(t, uint64(0), s.Count(numEventKinds))
}

func TestControlStopsOnCancel(t *testing.T) {
	r := NewReporter()
	defer r.Close()
	c := NewControl(r, nlog.Discard(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))
}

func TestEventKindString(t *testing.T) {
	require.Equal(t, "fragment_lost", FragmentLost.String())
	require.Equal(t, "[unknown event: 200]", EventKind(200).String())
}
