// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"context"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
)

// LoopCoverTrafficStream is an independent Poisson process of loop cover
// packets, in addition to the cover that fills empty send slots. It only
// schedules: each tick is handed to OutQueueControl, which builds and sends
// the packet.
type LoopCoverTrafficStream struct {
	log *log.Logger
	rng *rand.Rand

	averageDelay time.Duration
	requests     chan<- struct{}
}

// requestCover asks OutQueueControl for one loop cover packet. A tick is
// skipped while a previous request is still pending.
func (s *LoopCoverTrafficStream) requestCover() bool {
	select {
	case s.requests <- struct{}{}:
		return true
	default:
		s.log.Debug("Previous loop cover request still pending, skipping")
		return false
	}
}

// Run requests loop cover packets until ctx is cancelled.
func (s *LoopCoverTrafficStream) Run(ctx context.Context) error {
	s.log.Debug("Started LoopCoverTrafficStream")
	defer s.log.Debug("LoopCoverTrafficStream: Exiting")

	timer := time.NewTimer(SampleSendDelay(s.rng, s.averageDelay))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.requestCover()
			timer.Reset(SampleSendDelay(s.rng, s.averageDelay))
		}
	}
}
