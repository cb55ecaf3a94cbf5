// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	t.Parallel()
	w := new(Worker)
	stopped := make(chan struct{})
	w.Go(func() {
		<-w.HaltCh()
		close(stopped)
	})
	w.Halt()
	<-stopped
	require.Error(t, w.Context().Err())

	// second halt is a no-op
	w.Halt()
}

func TestWorkerHaltOn(t *testing.T) {
	t.Parallel()
	w := new(Worker)
	ctx, cancel := context.WithCancel(context.Background())
	w.HaltOn(ctx)

	done := make(chan struct{})
	w.Go(func() {
		<-w.Context().Done()
		close(done)
	})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker was not halted by parent context")
	}
	w.Wait()
}
