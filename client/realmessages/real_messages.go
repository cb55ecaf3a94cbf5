// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package realmessages implements the real traffic control of a client:
// turning application messages into packets, releasing them into the
// network under a Poisson process, tracking their acks and managing the
// reply SURBs we hand out and receive.
package realmessages

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	hrand "github.com/katzenpost/hpqc/rand"
	"golang.org/x/sync/errgroup"

	"github.com/nymtech/nym-go/client/config"
	"github.com/nymtech/nym-go/client/replystorage"
	"github.com/nymtech/nym-go/client/stats"
	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/core/epochtime"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
	"github.com/nymtech/nym-go/topology"
)

const (
	defaultRealMessageChannelCapacity = 32
	dropCoverChannelCapacity          = 16
)

// Config is the configuration of the real traffic control tasks.
type Config struct {
	AckKey        *acknowledgements.AckKey
	SelfRecipient addressing.Recipient

	AveragePacketDelay time.Duration
	AverageAckDelay    time.Duration

	AckWaitMultiplier              float64
	AckWaitAddition                time.Duration
	MaximumNumberOfRetransmissions uint32
	AckSweepInterval               time.Duration

	MessageSendingAverageDelay           time.Duration
	DisableMainPoissonPacketDistribution bool
	PrimaryPacketSize                    params.PacketSize
	SecondaryPacketSize                  params.PacketSize
	PacketType                           params.PacketType
	CoverTrafficPrimarySizeRatio         float64
	DisableMixHops                       bool
	StatusInterval                       time.Duration

	LoopCoverTrafficAverageDelay  time.Duration
	DisableLoopCoverTrafficStream bool

	// ReplySurbs configures the ReplyController. Its KeyRotation is
	// replaced by the schedule passed to New.
	ReplySurbs ReplyControllerConfig

	RealMessageChannelCapacity int
}

// NewConfig maps the client configuration onto a Config.
func NewConfig(cfg *config.Config, ackKey *acknowledgements.AckKey, self addressing.Recipient) Config {
	rs := cfg.ReplySurbs
	return Config{
		AckKey:        ackKey,
		SelfRecipient: self,

		AveragePacketDelay: cfg.Traffic.AveragePacketDelay,
		AverageAckDelay:    cfg.Acknowledgements.AverageAckDelay,

		AckWaitMultiplier:              cfg.Acknowledgements.AckWaitMultiplier,
		AckWaitAddition:                cfg.Acknowledgements.AckWaitAddition,
		MaximumNumberOfRetransmissions: cfg.Acknowledgements.MaximumNumberOfRetransmissions,
		AckSweepInterval:               cfg.Acknowledgements.SweepInterval,

		MessageSendingAverageDelay:           cfg.Traffic.MessageSendingAverageDelay,
		DisableMainPoissonPacketDistribution: cfg.Traffic.DisableMainPoissonPacketDistribution,
		PrimaryPacketSize:                    cfg.Traffic.PrimaryPacketSize,
		SecondaryPacketSize:                  cfg.Traffic.SecondaryPacketSize,
		PacketType:                           cfg.Traffic.PacketType,
		CoverTrafficPrimarySizeRatio:         cfg.CoverTraffic.CoverTrafficPrimarySizeRatio,
		DisableMixHops:                       cfg.Traffic.DisableMixHops,
		StatusInterval:                       cfg.Debug.StatusInterval,

		LoopCoverTrafficAverageDelay:  cfg.CoverTraffic.LoopCoverTrafficAverageDelay,
		DisableLoopCoverTrafficStream: cfg.CoverTraffic.DisableLoopCoverTrafficStream,

		ReplySurbs: ReplyControllerConfig{
			MinimumReplySurbRequestSize:            rs.MinimumReplySurbRequestSize,
			MaximumReplySurbRequestSize:            rs.MaximumReplySurbRequestSize,
			MaximumAllowedReplySurbRequestSize:     rs.MaximumAllowedReplySurbRequestSize,
			MinimumReplySurbThresholdBuffer:        rs.MinimumReplySurbThresholdBuffer,
			MaximumReplySurbRerequestWaitingPeriod: rs.MaximumReplySurbRerequestWaitingPeriod,
			MaximumReplySurbDropWaitingPeriod:      rs.MaximumReplySurbDropWaitingPeriod,
			MaximumReplySurbRerequests:             rs.MaximumReplySurbRerequests,
			MaximumReplySurbAge:                    rs.MaximumReplySurbAge,
			MaximumReplyKeyAge:                     rs.MaximumReplyKeyAge,
			StaleInspectionInterval:                rs.StaleInspectionInterval,
		},

		RealMessageChannelCapacity: cfg.Debug.RealMessageChannelCapacity,
	}
}

func (c *Config) validate() error {
	if c.AckKey == nil {
		return errors.New("realmessages: no ack key")
	}
	if !c.PrimaryPacketSize.IsValid() {
		return errors.New("realmessages: invalid primary packet size")
	}
	if c.AckWaitMultiplier < 1 {
		return errors.New("realmessages: ack wait multiplier must be at least 1")
	}
	return nil
}

func (c *Config) numMixHops() int {
	if c.DisableMixHops {
		return 0
	}
	return params.DefaultNumMixHops
}

// Controller wires the real traffic control tasks together.
type Controller struct {
	outQueue  *OutQueueControl
	replies   *ReplyController
	acks      *AcknowledgementController
	loopCover *LoopCoverTrafficStream

	dropCover chan struct{}
	log       *log.Logger
}

// New builds every real traffic control task. mixSender is the channel
// toward the gateway; acks received from it must be fed to ackReceiver.
func New(
	cfg Config,
	keyRotation epochtime.KeyRotationConfig,
	ackReceiver <-chan []byte,
	inputReceiver <-chan *InputMessage,
	mixSender chan<- *preparer.MixPacket,
	top *topology.Accessor,
	storage *replystorage.CombinedReplyStorage,
	replySender ReplyControllerSender,
	replyReceiver ReplyControllerReceiver,
	laneQueueLengths *transmission.LaneQueueLengths,
	connCommands <-chan transmission.ConnectionCommand,
	reporter *stats.Reporter,
	logger *log.Logger,
	codec preparer.Codec,
) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := keyRotation.Validate(); err != nil {
		return nil, err
	}
	switch {
	case top == nil:
		return nil, ErrNoTopology
	case storage == nil:
		return nil, errors.New("realmessages: no reply storage")
	case codec == nil:
		return nil, errors.New("realmessages: no packet codec")
	case mixSender == nil || ackReceiver == nil || inputReceiver == nil:
		return nil, errors.New("realmessages: missing channel")
	case replySender.q == nil || replyReceiver.q == nil:
		return nil, errors.New("realmessages: missing reply controller channels")
	}
	if logger == nil {
		logger = log.Default()
	}
	if laneQueueLengths == nil {
		laneQueueLengths = transmission.NewLaneQueueLengths()
	}
	if cfg.RealMessageChannelCapacity <= 0 {
		cfg.RealMessageChannelCapacity = defaultRealMessageChannelCapacity
	}

	actions := newUnboundedQueue()
	realMessages := make(chan *RealMessageBatch, cfg.RealMessageChannelCapacity)

	handler := newMessageHandler(MessageHandlerConfig{
		AckKey:              cfg.AckKey,
		SenderAddress:       cfg.SelfRecipient,
		AveragePacketDelay:  cfg.AveragePacketDelay,
		AverageAckDelay:     cfg.AverageAckDelay,
		PrimaryPacketSize:   cfg.PrimaryPacketSize,
		SecondaryPacketSize: cfg.SecondaryPacketSize,
		NumMixHops:          cfg.numMixHops(),
	}, codec, actionSender{q: actions}, realMessages, top, storage, reporter, logger.WithPrefix("MessageHandler"))

	acks, err := newAcknowledgementController(AcknowledgementConfig{
		AckWaitMultiplier:              cfg.AckWaitMultiplier,
		AckWaitAddition:                cfg.AckWaitAddition,
		MaximumNumberOfRetransmissions: cfg.MaximumNumberOfRetransmissions,
		SweepInterval:                  cfg.AckSweepInterval,
	}, logger.WithPrefix("AckController"), cfg.AckKey, actions, ackReceiver, inputReceiver, handler, replySender, reporter)
	if err != nil {
		return nil, err
	}

	replyCfg := cfg.ReplySurbs
	replyCfg.KeyRotation = keyRotation
	replies := newReplyController(replyCfg, logger.WithPrefix("ReplyController"), handler.Clone(logger.WithPrefix("MessageHandler")), storage, top, replyReceiver.q, reporter)

	dropCover := make(chan struct{}, dropCoverChannelCapacity)
	outRng := hrand.NewMath()
	outQueue := newOutQueueControl(OutQueueConfig{
		AckKey:                               cfg.AckKey,
		MessageSendingAverageDelay:           cfg.MessageSendingAverageDelay,
		DisableMainPoissonPacketDistribution: cfg.DisableMainPoissonPacketDistribution,
		PrimaryPacketSize:                    cfg.PrimaryPacketSize,
		SecondaryPacketSize:                  cfg.SecondaryPacketSize,
		PacketType:                           cfg.PacketType,
		CoverTrafficPrimarySizeRatio:         cfg.CoverTrafficPrimarySizeRatio,
		StatusInterval:                       cfg.StatusInterval,
	}, logger.WithPrefix("OutQueueControl"), handler.preparer.Clone(outRng, hrand.Reader), outRng, actionSender{q: actions}, mixSender, realMessages, top, laneQueueLengths, connCommands, reporter, dropCover)

	c := &Controller{
		outQueue:  outQueue,
		replies:   replies,
		acks:      acks,
		dropCover: dropCover,
		log:       logger,
	}

	if !cfg.DisableLoopCoverTrafficStream && !cfg.DisableMainPoissonPacketDistribution {
		loopCover := make(chan struct{}, 1)
		outQueue.loopCover = loopCover
		c.loopCover = &LoopCoverTrafficStream{
			log:          logger.WithPrefix("LoopCoverTrafficStream"),
			rng:          hrand.NewMath(),
			averageDelay: cfg.LoopCoverTrafficAverageDelay,
			requests:     loopCover,
		}
	}
	return c, nil
}

// IntoTasks returns the three tasks the caller must run.
func (c *Controller) IntoTasks() (*OutQueueControl, *ReplyController, *AcknowledgementController) {
	return c.outQueue, c.replies, c.acks
}

// LoopCoverStream returns the independent loop cover stream, or nil if it
// is disabled.
func (c *Controller) LoopCoverStream() *LoopCoverTrafficStream {
	return c.loopCover
}

// RequestDropCover asks for the next empty send slot to be filled with a
// drop cover packet instead of a loop cover packet.
func (c *Controller) RequestDropCover() {
	select {
	case c.dropCover <- struct{}{}:
	default:
	}
}

// Run runs every task until ctx is cancelled or one of them fails.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.outQueue.Run(gctx) })
	g.Go(func() error { return c.replies.Run(gctx) })
	g.Go(func() error { return c.acks.Run(gctx) })
	if c.loopCover != nil {
		g.Go(func() error { return c.loopCover.Run(gctx) })
	}
	return g.Wait()
}
