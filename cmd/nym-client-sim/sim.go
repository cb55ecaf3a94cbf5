// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/log"
	hrand "github.com/katzenpost/hpqc/rand"
	"golang.org/x/sync/errgroup"

	"github.com/nymtech/nym-go/client/config"
	"github.com/nymtech/nym-go/client/realmessages"
	"github.com/nymtech/nym-go/client/replystorage"
	"github.com/nymtech/nym-go/client/stats"
	"github.com/nymtech/nym-go/client/transmission"
	nlog "github.com/nymtech/nym-go/core/log"
	"github.com/nymtech/nym-go/internal/instrument"
	"github.com/nymtech/nym-go/internal/simnet"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/message"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
	"github.com/nymtech/nym-go/topology"
)

const (
	nodesPerLayer     = 3
	progressInterval  = 50 * time.Millisecond
	deliveryCapacity  = 256
	metricsReadHeader = 5 * time.Second
)

var (
	ownGateway    = addressing.NodeIdentity{1}
	remoteGateway = addressing.NodeIdentity{2}

	errTimedOut = errors.New("simulation timed out")
)

type report struct {
	Sent      int
	Received  int
	Corrupted int
	Elapsed   time.Duration
	Stats     stats.Snapshot
	Network   simnet.Stats
}

var titleStyle = lipgloss.NewStyle().Bold(true)

func (r *report) print(w io.Writer) {
	s := r.Stats
	_, _ = fmt.Fprintln(w, titleStyle.Render("Simulation finished in "+r.Elapsed.Round(time.Millisecond).String()))
	_, _ = fmt.Fprintf(w, "  messages:        %d sent, %d received, %d corrupted\n", r.Sent, r.Received, r.Corrupted)
	_, _ = fmt.Fprintf(w, "  real packets:    %d sent (%d B), %d acked, %d retransmitted, %d lost\n",
		s.Count(stats.RealPacketSent), s.RealBytesSent(), s.Count(stats.RealAckReceived),
		s.Count(stats.RetransmissionSent), s.Count(stats.FragmentLost))
	_, _ = fmt.Fprintf(w, "  cover packets:   %d sent (%d B), %d acked\n",
		s.Count(stats.CoverPacketSent), s.CoverBytesSent(), s.Count(stats.CoverAckReceived))
	_, _ = fmt.Fprintf(w, "  ignored acks:    %d duplicate, %d stray\n",
		s.Count(stats.DuplicateAck), s.Count(stats.StrayAck))
	_, _ = fmt.Fprintf(w, "  network:         %d received, %d lost, %d acks lost, %d malformed\n",
		r.Network.Received, r.Network.Lost, r.Network.AcksLost, r.Network.Malformed)
}

type simulation struct {
	log  *log.Logger
	opts options
	cfg  *config.Config

	remote     addressing.Recipient
	controller *realmessages.Controller
	gateway    *simnet.Gateway
	stats      *stats.Control
	reporter   *stats.Reporter

	inputs     chan *realmessages.InputMessage
	deliveries chan *simnet.Delivery
}

func newSimulation(cfg *config.Config, opts options, backend *nlog.Backend) (*simulation, error) {
	if opts.Messages <= 0 || opts.MessageSize <= 0 {
		return nil, errors.New("invalid argument: messages and size must be positive")
	}

	now := time.Now()
	keyRotation := cfg.KeyRotation.ToKeyRotationConfig()
	if keyRotation.InitialEpochStart.IsZero() {
		keyRotation.InitialEpochStart = now.Truncate(keyRotation.EpochDuration)
	}
	epoch, _, _, err := keyRotation.ExpectedCurrentEpochID(now)
	if err != nil {
		return nil, err
	}
	top, err := topology.NewRandom(hrand.Reader, topology.Metadata{
		KeyRotationID:   keyRotation.KeyRotationID(epoch),
		AbsoluteEpochID: epoch,
		RefreshedAt:     now,
	}, params.DefaultNumMixHops, nodesPerLayer, ownGateway, remoteGateway)
	if err != nil {
		return nil, err
	}

	self, err := addressing.NewRandomRecipient(hrand.Reader, ownGateway)
	if err != nil {
		return nil, err
	}
	remote, err := addressing.NewRandomRecipient(hrand.Reader, remoteGateway)
	if err != nil {
		return nil, err
	}
	ackKey, err := acknowledgements.NewAckKey(hrand.Reader)
	if err != nil {
		return nil, err
	}

	s := &simulation{
		log:        backend.GetLogger("nym-client-sim"),
		opts:       opts,
		cfg:        cfg,
		remote:     *remote,
		reporter:   stats.NewReporter(),
		inputs:     make(chan *realmessages.InputMessage),
		deliveries: make(chan *simnet.Delivery, deliveryCapacity),
	}
	s.stats = stats.NewControl(s.reporter, backend.GetLogger("stats"), cfg.Debug.StatusInterval)

	acks := make(chan []byte)
	mixSender := make(chan *preparer.MixPacket, cfg.Debug.OutboundChannelCapacity)
	replySender, replyReceiver := realmessages.NewReplyControllerChannels()
	storage := replystorage.NewCombinedReplyStorage(cfg.ReplySurbs.MinimumReplySurbStorageThreshold, cfg.ReplySurbs.MaximumReplySurbStorageThreshold)

	s.controller, err = realmessages.New(
		realmessages.NewConfig(cfg, ackKey, *self),
		keyRotation,
		acks,
		s.inputs,
		mixSender,
		topology.NewStaticAccessor(top),
		storage,
		replySender,
		replyReceiver,
		nil,
		nil,
		s.reporter,
		backend.GetLogger("client"),
		preparer.PlaintextCodec{},
	)
	if err != nil {
		return nil, err
	}

	s.gateway, err = simnet.New(simnet.Config{
		PacketLoss: opts.PacketLoss,
		AckLoss:    opts.AckLoss,
		TimeScale:  opts.TimeScale,
	}, backend.GetLogger("gateway"), mixSender, acks, s.deliveries)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: %w", err)
	}
	return s, nil
}

func (s *simulation) run(ctx context.Context) (*report, error) {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error { return s.controller.Run(runCtx) })
	g.Go(func() error { return s.gateway.Run(runCtx) })
	g.Go(func() error { return s.stats.Run(runCtx) })
	if s.cfg.Metrics.Enable {
		s.serveMetrics(runCtx, g)
	}

	var rep *report
	g.Go(func() error {
		defer cancel()
		var err error
		rep, err = s.drive(runCtx)
		return err
	})

	err := g.Wait()
	s.reporter.Close()
	return rep, err
}

func (s *simulation) serveMetrics(ctx context.Context, g *errgroup.Group) {
	instrument.Init()
	srv := &http.Server{
		Addr:              s.cfg.Metrics.Address,
		Handler:           instrument.Handler(),
		ReadHeaderTimeout: metricsReadHeader,
	}
	g.Go(func() error {
		s.log.Infof("Serving metrics on http://%s/metrics", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
}

func (s *simulation) newInput(i int) (*realmessages.InputMessage, []byte, error) {
	data := make([]byte, s.opts.MessageSize)
	if _, err := hrand.Reader.Read(data); err != nil {
		return nil, nil, err
	}
	copy(data, fmt.Sprintf("message %d ", i))
	if s.opts.ReplySurbs > 0 {
		return realmessages.NewAnonymousInput(s.remote, data, s.opts.ReplySurbs, transmission.GeneralLane, s.cfg.Traffic.PacketType), data, nil
	}
	return realmessages.NewRegularInput(s.remote, data, transmission.GeneralLane, s.cfg.Traffic.PacketType), data, nil
}

func (s *simulation) messageData(m *message.NymMessage) []byte {
	switch m.Kind {
	case message.Plain:
		return m.Plain
	case message.Repliable:
		return m.Repliable.Data
	}
	return nil
}

// drive sends every message and waits until each one arrived and each of
// its fragments was resolved.
func (s *simulation) drive(ctx context.Context) (*report, error) {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	rep := new(report)
	expected := make(map[string]struct{}, s.opts.Messages)
	reassembler := simnet.NewReassembler()

	finish := func(err error) (*report, error) {
		rep.Elapsed = time.Since(start)
		rep.Stats = s.stats.Snapshot()
		rep.Network = s.gateway.Stats()
		return rep, err
	}

	onDelivery := func(d *simnet.Delivery) {
		if d.Recipient != s.remote {
			return
		}
		m, err := reassembler.Add(d)
		if err != nil {
			s.log.Warnf("Failed to reassemble fragment: %v", err)
			return
		}
		if m == nil {
			return
		}
		rep.Received++
		if _, ok := expected[string(s.messageData(m))]; !ok {
			rep.Corrupted++
			s.log.Errorf("Received a message that was never sent")
		}
	}

	pending := make([]*realmessages.InputMessage, 0, s.opts.Messages)
	for i := 0; i < s.opts.Messages; i++ {
		in, data, err := s.newInput(i)
		if err != nil {
			return nil, err
		}
		expected[string(data)] = struct{}{}
		pending = append(pending, in)
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		var inputs chan *realmessages.InputMessage
		var next *realmessages.InputMessage
		if len(pending) > 0 {
			inputs = s.inputs
			next = pending[0]
		}

		select {
		case <-tctx.Done():
			if ctx.Err() != nil {
				s.log.Info("Simulation interrupted")
				return finish(nil)
			}
			return finish(fmt.Errorf("%w with %d of %d messages received", errTimedOut, rep.Received, rep.Sent))
		case inputs <- next:
			pending = pending[1:]
			rep.Sent++
		case d := <-s.deliveries:
			onDelivery(d)
		case <-ticker.C:
			if len(pending) > 0 || rep.Received < rep.Sent {
				continue
			}
			snap := s.stats.Snapshot()
			resolved := snap.Count(stats.RealAckReceived) + snap.Count(stats.FragmentLost)
			if resolved >= uint64(reassembler.Fragments()) {
				return finish(nil)
			}
		}
	}
}
