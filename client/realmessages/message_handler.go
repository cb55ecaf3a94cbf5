// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
	hrand "github.com/katzenpost/hpqc/rand"

	"github.com/nymtech/nym-go/client/replystorage"
	"github.com/nymtech/nym-go/client/stats"
	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/nymsphinx/acknowledgements"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/message"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/nymsphinx/preparer"
	"github.com/nymtech/nym-go/topology"
)

// FragmentWithMaxRetransmissions is a fragment waiting to be sent together
// with its retransmission bound override.
type FragmentWithMaxRetransmissions struct {
	Fragment           *chunking.Fragment
	MaxRetransmissions *uint32
}

// MessageHandlerConfig parameterises a MessageHandler.
type MessageHandlerConfig struct {
	// AckKey decrypts the SURB-acks of our fragments.
	AckKey *acknowledgements.AckKey

	// SenderAddress is where acks and reply SURBs route back to.
	SenderAddress addressing.Recipient

	AveragePacketDelay time.Duration
	AverageAckDelay    time.Duration

	PrimaryPacketSize params.PacketSize

	// SecondaryPacketSize is unset when not valid.
	SecondaryPacketSize params.PacketSize

	NumMixHops int
}

// MessageHandler turns send requests into prepared fragments, registers
// them with the acknowledgement controller and forwards them to the
// outbound scheduler. Every task owns its own MessageHandler, see Clone.
type MessageHandler struct {
	cfg MessageHandlerConfig
	log *log.Logger

	rng      *rand.Rand
	entropy  io.Reader
	preparer *preparer.Preparer

	actions      actionSender
	realMessages chan<- *RealMessageBatch
	topology     *topology.Accessor
	storage      *replystorage.CombinedReplyStorage
	stats        *stats.Reporter

	now func() time.Time
}

func newMessageHandler(cfg MessageHandlerConfig, codec preparer.Codec, actions actionSender, realMessages chan<- *RealMessageBatch, top *topology.Accessor, storage *replystorage.CombinedReplyStorage, reporter *stats.Reporter, logger *log.Logger) *MessageHandler {
	rng := hrand.NewMath()
	p := preparer.New(preparer.Config{
		SenderAddress:      cfg.SenderAddress,
		AveragePacketDelay: cfg.AveragePacketDelay,
		AverageAckDelay:    cfg.AverageAckDelay,
		NumMixHops:         cfg.NumMixHops,
	}, codec, rng, hrand.Reader)
	return &MessageHandler{
		cfg:          cfg,
		log:          logger,
		rng:          rng,
		entropy:      hrand.Reader,
		preparer:     p,
		actions:      actions,
		realMessages: realMessages,
		topology:     top,
		storage:      storage,
		stats:        reporter,
		now:          time.Now,
	}
}

// Clone returns a handler sharing every collaborator but with its own
// random number generator, for use by another task.
func (h *MessageHandler) Clone(logger *log.Logger) *MessageHandler {
	c := *h
	c.log = logger
	c.rng = hrand.NewMath()
	c.preparer = h.preparer.Clone(c.rng, c.entropy)
	return &c
}

func (h *MessageHandler) getOrCreateSenderTag(recipient addressing.Recipient) (anonymous.AnonymousSenderTag, error) {
	tags := h.storage.TagsStorage()
	if existing, ok := tags.TryGetExisting(recipient); ok {
		return existing, nil
	}
	h.log.Debugf("creating new sender tag for %s", recipient)
	tag, err := anonymous.NewAnonymousSenderTag(h.entropy)
	if err != nil {
		return tag, err
	}
	tags.InsertNew(recipient, tag)
	h.log.Infof("using %s for all anonymous messages sent to %s", tag, recipient)
	return tag, nil
}

func (h *MessageHandler) currentTopology() (*topology.Topology, error) {
	t, err := h.topology.Current()
	if err != nil {
		h.log.Warnf("Could not process the packet - the network topology is invalid - %v", err)
		return nil, topologyError(err)
	}
	return t, nil
}

func (h *MessageHandler) plaintextSize(size params.PacketSize) int {
	return preparer.AvailablePlaintextPerPacket(size)
}

// OptimalPacketSize returns the packet size msg should be sent with: the
// secondary size if it needs fewer packets, the primary one otherwise.
func (h *MessageHandler) OptimalPacketSize(msg *message.NymMessage) params.PacketSize {
	if !h.cfg.SecondaryPacketSize.IsValid() {
		return h.cfg.PrimaryPacketSize
	}
	primary, err := msg.RequiredPackets(h.plaintextSize(h.cfg.PrimaryPacketSize))
	if err != nil {
		return h.cfg.PrimaryPacketSize
	}
	secondary, err := msg.RequiredPackets(h.plaintextSize(h.cfg.SecondaryPacketSize))
	if err != nil {
		return h.cfg.PrimaryPacketSize
	}
	if primary <= secondary {
		return h.cfg.PrimaryPacketSize
	}
	return h.cfg.SecondaryPacketSize
}

// SplitMessage pads and fragments msg for the given packet type.
func (h *MessageHandler) SplitMessage(msg *message.NymMessage, packetType params.PacketType) ([]*chunking.Fragment, params.PacketSize, error) {
	size := h.OptimalPacketSize(msg)
	if packetType == params.OutfoxPacket {
		size = params.OutfoxRegularPacket
	}
	fragments, err := msg.PadAndSplit(h.entropy, h.plaintextSize(size))
	if err != nil {
		return nil, size, packetError(err)
	}
	return fragments, size, nil
}

func (h *MessageHandler) generateReplySurbsWithKeys(top *topology.Topology, amount int) ([]*anonymous.ReplySurb, []anonymous.SurbEncryptionKey, error) {
	rotation := anonymous.KeyRotationFromID(top.Metadata.KeyRotationID)
	surbs, err := h.preparer.GenerateReplySurbs(top, amount, rotation)
	if err != nil {
		return nil, nil, topologyError(err)
	}
	keys := make([]anonymous.SurbEncryptionKey, 0, len(surbs))
	for _, s := range surbs {
		keys = append(keys, s.EncryptionKey)
	}
	return surbs, keys, nil
}

// TrySendSingleSurbMessage sends msg to the owner of tag using a single
// reply SURB. On failure the SURB is attached to the returned error.
func (h *MessageHandler) TrySendSingleSurbMessage(ctx context.Context, tag anonymous.AnonymousSenderTag, msg *anonymous.ReplyMessage, surb *anonymous.ReplySurb, isExtraSurbRequest bool) error {
	nymMsg := message.NewReply(msg)
	size := h.OptimalPacketSize(nymMsg)
	h.log.Debugf("Using %s packets for a reply to %s", size, tag)

	fragments, err := nymMsg.PadAndSplit(h.entropy, h.plaintextSize(size))
	if err != nil {
		return packetError(err).withSurbs([]*anonymous.ReplySurb{surb})
	}
	if len(fragments) > 1 {
		return (&PreparationError{
			Kind:      MessageTooLongForSingleSurb,
			Fragments: len(fragments),
		}).withSurbs([]*anonymous.ReplySurb{surb})
	}

	chunk := fragments[0]
	prepared, err := h.TryPrepareSingleReplyChunkForSending(surb, chunk)
	if err != nil {
		return err
	}

	lane := transmission.GeneralLane
	if isExtraSurbRequest {
		lane = transmission.ReplySurbRequestLane
	}
	pending := newAnonymousPendingAck(chunk, prepared.TotalDelay, tag, isExtraSurbRequest, nil)
	h.InsertPendingAcks([]*PendingAcknowledgement{pending})
	return h.ForwardMessages(ctx, []*RealMessage{NewRealMessage(prepared)}, lane)
}

// TryRequestAdditionalReplySurbs asks the owner of from for amount more
// reply SURBs, using surb to reach them.
func (h *MessageHandler) TryRequestAdditionalReplySurbs(ctx context.Context, from anonymous.AnonymousSenderTag, surb *anonymous.ReplySurb, amount uint32) error {
	h.log.Debugf("requesting %d reply SURBs from %s", amount, from)
	req := anonymous.NewSurbRequest(h.cfg.SenderAddress, amount)
	return h.TrySendSingleSurbMessage(ctx, from, req, surb, true)
}

// SplitReplyMessage fragments a reply carrying data.
func (h *MessageHandler) SplitReplyMessage(data []byte) ([]*chunking.Fragment, error) {
	msg := message.NewReply(anonymous.NewReplyData(data))
	size := h.OptimalPacketSize(msg)
	h.log.Debugf("Using %s packets for a reply", size)
	fragments, err := msg.PadAndSplit(h.entropy, h.plaintextSize(size))
	if err != nil {
		return nil, packetError(err)
	}
	return fragments, nil
}

// SendRetransmissionReplyChunks forwards reprepared reply fragments,
// updating their expected delays first.
func (h *MessageHandler) SendRetransmissionReplyChunks(ctx context.Context, prepared []*preparer.PreparedFragment, lane transmission.Lane) error {
	msgs := make([]*RealMessage, 0, len(prepared))
	for _, p := range prepared {
		h.UpdateAckDelay(p.FragmentIdentifier, p.TotalDelay)
		msgs = append(msgs, NewRealMessage(p))
	}
	return h.ForwardMessages(ctx, msgs, lane)
}

// TrySendReplyChunksOnLane sends fragments to the owner of tag, all on lane.
func (h *MessageHandler) TrySendReplyChunksOnLane(ctx context.Context, tag anonymous.AnonymousSenderTag, fragments []FragmentWithMaxRetransmissions, surbs []*anonymous.ReplySurb, lane transmission.Lane) error {
	laned := make([]transmission.LanedItem[FragmentWithMaxRetransmissions], 0, len(fragments))
	for _, f := range fragments {
		laned = append(laned, transmission.LanedItem[FragmentWithMaxRetransmissions]{Lane: lane, Item: f})
	}
	return h.TrySendReplyChunks(ctx, tag, laned, surbs)
}

// TrySendReplyChunks sends fragments to the owner of tag using one SURB per
// fragment. On failure the SURBs are attached to the returned error.
func (h *MessageHandler) TrySendReplyChunks(ctx context.Context, tag anonymous.AnonymousSenderTag, fragments []transmission.LanedItem[FragmentWithMaxRetransmissions], surbs []*anonymous.ReplySurb) error {
	raw := make([]*chunking.Fragment, 0, len(fragments))
	for _, f := range fragments {
		raw = append(raw, f.Item.Fragment)
	}
	prepared, err := h.PrepareReplyChunksForSending(raw, surbs)
	if err != nil {
		return err
	}

	pending := make([]*PendingAcknowledgement, 0, len(fragments))
	toForward := make(map[transmission.Lane][]*RealMessage)
	var lanes []transmission.Lane
	for i, f := range fragments {
		p := prepared[i]
		pending = append(pending, newAnonymousPendingAck(f.Item.Fragment, p.TotalDelay, tag, false, f.Item.MaxRetransmissions))
		if _, ok := toForward[f.Lane]; !ok {
			lanes = append(lanes, f.Lane)
		}
		toForward[f.Lane] = append(toForward[f.Lane], NewRealMessage(p))
	}

	h.InsertPendingAcks(pending)
	for _, lane := range lanes {
		if err := h.ForwardMessages(ctx, toForward[lane], lane); err != nil {
			return err
		}
	}
	return nil
}

// SendPremadeMixPackets forwards packets that were prepared elsewhere.
func (h *MessageHandler) SendPremadeMixPackets(ctx context.Context, msgs []*RealMessage, lane transmission.Lane) error {
	return h.ForwardMessages(ctx, msgs, lane)
}

// TrySendPlainMessage sends data to recipient.
func (h *MessageHandler) TrySendPlainMessage(ctx context.Context, recipient addressing.Recipient, data []byte, lane transmission.Lane, packetType params.PacketType, maxRetransmissions *uint32) error {
	return h.TrySplitAndSendNonReplyMessage(ctx, message.NewPlain(data), recipient, lane, packetType, maxRetransmissions)
}

// TrySplitAndSendNonReplyMessage fragments msg, wraps every fragment for
// recipient, registers the pending acks and forwards the packets.
func (h *MessageHandler) TrySplitAndSendNonReplyMessage(ctx context.Context, msg *message.NymMessage, recipient addressing.Recipient, lane transmission.Lane, packetType params.PacketType, maxRetransmissions *uint32) error {
	h.log.Debugf("Sending non-reply message with packet type %s", packetType)
	top, err := h.currentTopology()
	if err != nil {
		return err
	}

	fragments, size, err := h.SplitMessage(msg, packetType)
	if err != nil {
		return err
	}
	h.log.Debugf("Splitting message into %d %s fragments", len(fragments), size)

	pending := make([]*PendingAcknowledgement, 0, len(fragments))
	msgs := make([]*RealMessage, 0, len(fragments))
	for _, f := range fragments {
		prepared, err := h.preparer.PrepareChunkForSending(f, top, h.cfg.AckKey, recipient, size, packetType)
		if err != nil {
			return topologyError(err)
		}
		msgs = append(msgs, NewRealMessage(prepared))
		pending = append(pending, newKnownPendingAck(f, prepared.TotalDelay, recipient, packetType, maxRetransmissions))
	}

	h.InsertPendingAcks(pending)
	return h.ForwardMessages(ctx, msgs, lane)
}

// TrySendAdditionalReplySurbs sends amount fresh reply SURBs to recipient
// and remembers their keys.
func (h *MessageHandler) TrySendAdditionalReplySurbs(ctx context.Context, recipient addressing.Recipient, amount uint32, packetType params.PacketType) error {
	h.log.Debugf("Sending %d additional reply SURBs with packet type %s", amount, packetType)
	tag, err := h.getOrCreateSenderTag(recipient)
	if err != nil {
		return packetError(err)
	}
	top, err := h.currentTopology()
	if err != nil {
		return err
	}
	surbs, keys, err := h.generateReplySurbsWithKeys(top, int(amount))
	if err != nil {
		return err
	}

	msg := message.NewRepliable(anonymous.NewRepliableAdditionalSurbs(tag, surbs))
	if err := h.TrySplitAndSendNonReplyMessage(ctx, msg, recipient, transmission.AdditionalReplySurbsLane, packetType, nil); err != nil {
		return err
	}

	h.log.Debugf("storing %d reply keys", len(keys))
	h.storage.KeyStorage().InsertMultiple(keys, h.now())
	h.stats.Report(stats.NewSizedEvent(stats.SurbsIssued, len(surbs)))
	return nil
}

// TrySendMessageWithReplySurbs sends data to recipient together with
// numReplySurbs SURBs it can reply with.
func (h *MessageHandler) TrySendMessageWithReplySurbs(ctx context.Context, recipient addressing.Recipient, data []byte, numReplySurbs uint32, lane transmission.Lane, packetType params.PacketType, maxRetransmissions *uint32) error {
	h.log.Debugf("Sending message with %d reply SURBs with packet type %s", numReplySurbs, packetType)
	tag, err := h.getOrCreateSenderTag(recipient)
	if err != nil {
		return packetError(err)
	}
	top, err := h.currentTopology()
	if err != nil {
		return err
	}
	surbs, keys, err := h.generateReplySurbsWithKeys(top, int(numReplySurbs))
	if err != nil {
		return err
	}

	msg := message.NewRepliable(anonymous.NewRepliableData(data, tag, surbs))
	if err := h.TrySplitAndSendNonReplyMessage(ctx, msg, recipient, lane, packetType, maxRetransmissions); err != nil {
		return err
	}

	h.log.Debugf("storing %d reply keys", len(keys))
	h.storage.KeyStorage().InsertMultiple(keys, h.now())
	return nil
}

// TryPrepareSingleChunkForSending rewraps chunk for recipient with a fresh
// route and SURB-ack. It is the resend path of known recipient fragments.
func (h *MessageHandler) TryPrepareSingleChunkForSending(recipient addressing.Recipient, chunk *chunking.Fragment, packetType params.PacketType) (*preparer.PreparedFragment, error) {
	top, err := h.currentTopology()
	if err != nil {
		return nil, err
	}
	size := h.chunkPacketSize(chunk)
	if packetType == params.OutfoxPacket {
		size = params.OutfoxRegularPacket
	}
	prepared, err := h.preparer.PrepareChunkForSending(chunk, top, h.cfg.AckKey, recipient, size, packetType)
	if err != nil {
		return nil, topologyError(err)
	}
	return prepared, nil
}

// chunkPacketSize returns the smallest configured size chunk was split for.
func (h *MessageHandler) chunkPacketSize(chunk *chunking.Fragment) params.PacketSize {
	n := chunking.HeaderLength + len(chunk.Payload)
	if n > h.plaintextSize(h.cfg.PrimaryPacketSize) && h.cfg.SecondaryPacketSize.IsValid() {
		return h.cfg.SecondaryPacketSize
	}
	return h.cfg.PrimaryPacketSize
}

// PrepareReplyChunksForSending wraps fragments with one SURB each. On
// failure every SURB is attached to the returned error.
func (h *MessageHandler) PrepareReplyChunksForSending(fragments []*chunking.Fragment, surbs []*anonymous.ReplySurb) ([]*preparer.PreparedFragment, error) {
	if len(fragments) != len(surbs) {
		h.log.Errorf("attempted to send %d fragments with %d reply surbs", len(fragments), len(surbs))
		return nil, (&PreparationError{
			Kind:      NotEnoughSurbs,
			Available: len(surbs),
			Required:  len(fragments),
		}).withSurbs(surbs)
	}

	top, err := h.currentTopology()
	if err != nil {
		return nil, packetError(err).withSurbs(surbs)
	}

	out := make([]*preparer.PreparedFragment, 0, len(fragments))
	for i, f := range fragments {
		prepared, err := h.preparer.PrepareReplyChunkForSending(f, top, h.cfg.AckKey, surbs[i], h.chunkPacketSize(f), params.MixPacket)
		if err != nil {
			return nil, topologyError(err).withSurbs(surbs)
		}
		out = append(out, prepared)
	}
	return out, nil
}

// TryPrepareSingleReplyChunkForSending wraps chunk with surb. On failure
// the SURB is attached to the returned error.
func (h *MessageHandler) TryPrepareSingleReplyChunkForSending(surb *anonymous.ReplySurb, chunk *chunking.Fragment) (*preparer.PreparedFragment, error) {
	prepared, err := h.PrepareReplyChunksForSending([]*chunking.Fragment{chunk}, []*anonymous.ReplySurb{surb})
	if err != nil {
		return nil, err
	}
	return prepared[0], nil
}

// UpdateAckDelay tells the acknowledgement controller that id was
// reprepared with a new expected delay.
func (h *MessageHandler) UpdateAckDelay(id chunking.FragmentIdentifier, delay time.Duration) {
	if !h.actions.send(newUpdateDelayAction(id, delay)) {
		h.log.Debug("Failed to send update action to the controller, shutting down?")
	}
}

// InsertPendingAcks registers fragments with the acknowledgement controller.
func (h *MessageHandler) InsertPendingAcks(pending []*PendingAcknowledgement) {
	if !h.actions.send(newInsertAction(pending)) {
		h.log.Debug("Failed to send insert action to the controller, shutting down?")
	}
}

// DropPendingAcks tells the acknowledgement controller that ids will never
// be sent again.
func (h *MessageHandler) DropPendingAcks(ids []chunking.FragmentIdentifier) {
	if len(ids) == 0 {
		return
	}
	if !h.actions.send(newDropAction(ids)) {
		h.log.Debug("Failed to send drop action to the controller, shutting down?")
	}
}

// ForwardMessages hands msgs to the outbound scheduler, blocking while its
// input channel is full.
func (h *MessageHandler) ForwardMessages(ctx context.Context, msgs []*RealMessage, lane transmission.Lane) error {
	if len(msgs) == 0 {
		return nil
	}
	select {
	case h.realMessages <- &RealMessageBatch{Messages: msgs, Lane: lane}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
