// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"cmp"
	"context"
	"math/rand"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	hrand "github.com/katzenpost/hpqc/rand"

	"github.com/nymtech/nym-go/client/replystorage"
	"github.com/nymtech/nym-go/client/stats"
	"github.com/nymtech/nym-go/client/transmission"
	"github.com/nymtech/nym-go/core/epochtime"
	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/params"
	"github.com/nymtech/nym-go/topology"
)

const (
	// SurbRequestBatchSize is the largest number of reply SURBs put in a
	// single message.
	SurbRequestBatchSize = 100

	requestFailureLogInterval = 30 * time.Second
	unavailableReportInterval = 30 * time.Second

	defaultStaleInspectionInterval = 5 * time.Second
)

// ReplyControllerConfig parameterises the ReplyController.
type ReplyControllerConfig struct {
	MinimumReplySurbRequestSize        uint32
	MaximumReplySurbRequestSize        uint32
	MaximumAllowedReplySurbRequestSize uint32
	MinimumReplySurbThresholdBuffer    int

	MaximumReplySurbRerequestWaitingPeriod time.Duration
	MaximumReplySurbDropWaitingPeriod      time.Duration
	MaximumReplySurbRerequests             int

	// MaximumReplySurbAge, if set, bounds the age of every stored SURB
	// regardless of key rotation.
	MaximumReplySurbAge time.Duration
	MaximumReplyKeyAge  time.Duration

	StaleInspectionInterval time.Duration

	KeyRotation epochtime.KeyRotationConfig
}

// senderData is the reply state we keep for a single anonymous sender.
type senderData struct {
	rerequests             int
	pendingReplies         *transmission.Buffer[FragmentWithMaxRetransmissions]
	pendingRetransmissions map[chunking.FragmentIdentifier]*PendingAcknowledgement
	lastRequestFailure     time.Time
}

func newSenderData() *senderData {
	return &senderData{
		pendingReplies:         transmission.NewBuffer[FragmentWithMaxRetransmissions](),
		pendingRetransmissions: make(map[chunking.FragmentIdentifier]*PendingAcknowledgement),
	}
}

func (d *senderData) totalPending() int {
	return d.pendingReplies.TotalSize() + len(d.pendingRetransmissions)
}

// popRetransmissions takes up to n queued retransmissions, lowest fragment
// id first. Entries acked while queued are discarded.
func (d *senderData) popRetransmissions(n int) []*PendingAcknowledgement {
	ids := make([]chunking.FragmentIdentifier, 0, len(d.pendingRetransmissions))
	for id := range d.pendingRetransmissions {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b chunking.FragmentIdentifier) int {
		if c := cmp.Compare(a.SetID, b.SetID); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})

	var out []*PendingAcknowledgement
	for _, id := range ids {
		if len(out) >= n {
			break
		}
		p := d.pendingRetransmissions[id]
		delete(d.pendingRetransmissions, id)
		if !p.Acked() {
			out = append(out, p)
		}
	}
	return out
}

func (d *senderData) reinsertRetransmissions(pending []*PendingAcknowledgement) {
	for _, p := range pending {
		if !p.Acked() {
			d.pendingRetransmissions[p.FragmentIdentifier()] = p
		}
	}
}

// surbRefreshState tracks key rotation changes. A change is acted upon one
// invocation after it was noticed so that remote clients get a chance to
// see the new rotation too.
type surbRefreshState struct {
	scheduled bool
	lastKnown uint32
}

// ReplyController owns everything related to reply SURBs. As a sender it
// answers SURB requests and expires the keys of SURBs it handed out; as a
// receiver it sends replies with the SURBs it was given, buffers what it
// cannot send yet and asks for more SURBs when it runs low.
type ReplyController struct {
	cfg ReplyControllerConfig
	log *log.Logger
	rng *rand.Rand

	handler  *MessageHandler
	storage  *replystorage.CombinedReplyStorage
	topology *topology.Accessor
	requests *unboundedQueue
	stats    *stats.Reporter

	senders     map[anonymous.AnonymousSenderTag]*senderData
	unavailable map[anonymous.AnonymousSenderTag]time.Time
	refresh     surbRefreshState

	issueSurbs func(ctx context.Context, recipient addressing.Recipient, amount uint32, packetType params.PacketType) error

	now func() time.Time
}

func newReplyController(cfg ReplyControllerConfig, logger *log.Logger, handler *MessageHandler, storage *replystorage.CombinedReplyStorage, top *topology.Accessor, requests *unboundedQueue, reporter *stats.Reporter) *ReplyController {
	if cfg.StaleInspectionInterval <= 0 {
		cfg.StaleInspectionInterval = defaultStaleInspectionInterval
	}
	c := &ReplyController{
		cfg:         cfg,
		log:         logger,
		rng:         hrand.NewMath(),
		handler:     handler,
		storage:     storage,
		topology:    top,
		requests:    requests,
		stats:       reporter,
		senders:     make(map[anonymous.AnonymousSenderTag]*senderData),
		unavailable: make(map[anonymous.AnonymousSenderTag]time.Time),
		issueSurbs:  handler.TrySendAdditionalReplySurbs,
		now:         time.Now,
	}
	if id, err := cfg.KeyRotation.ExpectedCurrentKeyRotationID(c.now()); err == nil {
		c.refresh.lastKnown = id
	}
	return c
}

func (c *ReplyController) sender(tag anonymous.AnonymousSenderTag) *senderData {
	d, ok := c.senders[tag]
	if !ok {
		d = newSenderData()
		c.senders[tag] = d
	}
	return d
}

func (c *ReplyController) totalPending(tag anonymous.AnonymousSenderTag) int {
	if d, ok := c.senders[tag]; ok {
		return d.totalPending()
	}
	return 0
}

func (c *ReplyController) insertPendingReplies(tag anonymous.AnonymousSenderTag, fragments []FragmentWithMaxRetransmissions, lane transmission.Lane) {
	c.log.Debugf("buffering %d pending replies for %s", len(fragments), tag)
	c.sender(tag).pendingReplies.Store(lane, fragments...)
}

// ShouldRequestMoreSurbs returns true iff the SURBs we hold or expect from
// tag do not cover its queues plus the reserved threshold, and we are still
// below the maximum threshold.
func (c *ReplyController) ShouldRequestMoreSurbs(tag anonymous.AnonymousSenderTag) bool {
	surbs := c.storage.SurbsStorage()

	queued := c.totalPending(tag)
	available := surbs.AvailableSurbs(tag)
	pending := int(surbs.PendingReception(tag))
	minThreshold := surbs.MinSurbThreshold()
	maxThreshold := surbs.MaxSurbThreshold()

	required := queued + minThreshold + c.cfg.MinimumReplySurbThresholdBuffer
	total := available + pending

	c.log.Debugf("queue size: %d, available surbs: %d pending surbs: %d threshold range: %d..+%d..%d",
		queued, available, pending, minThreshold, c.cfg.MinimumReplySurbThresholdBuffer, maxThreshold)

	return total < maxThreshold && total < required
}

// HandleSendReply sends data to the owner of tag with as many SURBs as we
// can spare and buffers the rest of the fragments.
func (c *ReplyController) HandleSendReply(ctx context.Context, tag anonymous.AnonymousSenderTag, data []byte, lane transmission.Lane, maxRetransmissions *uint32) {
	surbs := c.storage.SurbsStorage()
	if !surbs.ContainsSurbsFor(tag) {
		if _, reported := c.unavailable[tag]; !reported {
			c.log.Warnf("received reply request for %s but we don't have any surbs stored for that recipient!", tag)
		} else {
			c.log.Debugf("received reply request for %s but we don't have any surbs stored for that recipient!", tag)
		}
		c.unavailable[tag] = c.now()
		return
	}

	fragments, err := c.handler.SplitReplyMessage(data)
	if err != nil {
		c.log.Warnf("failed to split reply to %s: %v", tag, err)
		return
	}
	c.log.Debugf("This reply requires %d SURBs", len(fragments))

	available := surbs.AvailableSurbs(tag)
	minThreshold := surbs.MinSurbThreshold()
	maxToSend := 0
	if available > minThreshold {
		maxToSend = min(len(fragments), available-minThreshold)
	}

	if maxToSend > 0 {
		taken, left := surbs.GetReplySurbs(tag, maxToSend)
		c.log.Debugf("retrieved %d reply surbs. %d surbs remaining in storage", len(taken), left)
		if taken != nil {
			toSend := withMaxRetransmissions(fragments[:len(taken)], maxRetransmissions)
			fragments = fragments[len(taken):]

			if err := c.handler.TrySendReplyChunksOnLane(ctx, tag, toSend, replystorage.Surbs(taken), lane); err != nil {
				err = returnUnusedSurbs(err, surbs, tag, taken)
				c.log.Warnf("failed to send reply to %s: %v", tag, err)
				c.log.Infof("buffering %d fragments for %s", len(toSend), tag)
				c.insertPendingReplies(tag, toSend, lane)
			}
		}
	}

	if len(fragments) > 0 {
		c.insertPendingReplies(tag, withMaxRetransmissions(fragments, maxRetransmissions), lane)
	}

	if c.ShouldRequestMoreSurbs(tag) {
		c.requestSurbsForQueueClearing(ctx, tag)
	}
}

func withMaxRetransmissions(fragments []*chunking.Fragment, maxRetransmissions *uint32) []FragmentWithMaxRetransmissions {
	out := make([]FragmentWithMaxRetransmissions, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, FragmentWithMaxRetransmissions{Fragment: f, MaxRetransmissions: maxRetransmissions})
	}
	return out
}

func (c *ReplyController) requestAdditionalReplySurbs(ctx context.Context, tag anonymous.AnonymousSenderTag, amount uint32) error {
	c.log.Debugf("requesting %d additional reply surbs for %s", amount, tag)
	surbs := c.storage.SurbsStorage()
	surb, _ := surbs.GetReplySurbIgnoringThreshold(tag)
	if surb == nil {
		return &PreparationError{Kind: NotEnoughSurbs, Available: 0, Required: 1}
	}
	if err := c.handler.TryRequestAdditionalReplySurbs(ctx, tag, surb.Surb, amount); err != nil {
		err = returnUnusedSurbs(err, surbs, tag, []replystorage.ReceivedReplySurb{*surb})
		c.log.Warnf("failed to request additional surbs from %s: %v", tag, err)
		return err
	}
	surbs.IncrementPendingReception(tag, amount)
	return nil
}

func (c *ReplyController) requestSurbsForQueueClearing(ctx context.Context, tag anonymous.AnonymousSenderTag) {
	queued := uint32(c.totalPending(tag))
	wanted := queued + uint32(c.cfg.MinimumReplySurbThresholdBuffer)
	size := min(c.cfg.MaximumReplySurbRequestSize, max(wanted, c.cfg.MinimumReplySurbRequestSize))

	if err := c.requestAdditionalReplySurbs(ctx, tag, size); err != nil {
		now := c.now()
		d := c.sender(tag)
		last := d.lastRequestFailure
		d.lastRequestFailure = now
		if now.Sub(last) > requestFailureLogInterval {
			c.log.Warnf("failed to request more surbs to clear pending queue of size %d (attempted to request: %d): %v", queued, size, err)
		} else {
			c.log.Debugf("failed to request more surbs to clear pending queue of size %d (attempted to request: %d): %v", queued, size, err)
		}
	}
}

func (c *ReplyController) tryClearPendingRetransmission(ctx context.Context, tag anonymous.AnonymousSenderTag) {
	surbs := c.storage.SurbsStorage()
	available := surbs.AvailableSurbs(tag)
	minThreshold := surbs.MinSurbThreshold()
	if available <= minThreshold {
		c.log.Debug("we don't have enough surbs for retransmission queue clearing...")
		return
	}
	d, ok := c.senders[tag]
	if !ok {
		return
	}

	toTake := d.popRetransmissions(available - minThreshold)
	if len(toTake) == 0 {
		return
	}

	taken, _ := surbs.GetReplySurbs(tag, len(toTake))
	if taken == nil {
		c.log.Errorf("reply surbs of %s disappeared while clearing the retransmission queue", tag)
		d.reinsertRetransmissions(toTake)
		return
	}

	fragments := make([]*chunking.Fragment, 0, len(toTake))
	for _, p := range toTake {
		fragments = append(fragments, p.Fragment())
	}
	prepared, err := c.handler.PrepareReplyChunksForSending(fragments, replystorage.Surbs(taken))
	if err != nil {
		err = returnUnusedSurbs(err, surbs, tag, taken)
		d.reinsertRetransmissions(toTake)
		c.log.Warnf("failed to clear pending retransmission queue for %s: %v", tag, err)
		return
	}

	if err := c.handler.SendRetransmissionReplyChunks(ctx, prepared, transmission.RetransmissionLane); err != nil {
		return
	}
	for range prepared {
		c.stats.Report(stats.NewEvent(stats.RetransmissionSent))
	}
}

func (c *ReplyController) tryClearPendingQueue(ctx context.Context, tag anonymous.AnonymousSenderTag) {
	surbs := c.storage.SurbsStorage()
	available := surbs.AvailableSurbs(tag)
	minThreshold := surbs.MinSurbThreshold()
	if available <= minThreshold {
		c.log.Debug("we don't have enough surbs for queue clearing...")
		return
	}
	d, ok := c.senders[tag]
	if !ok || d.pendingReplies.IsEmpty() {
		return
	}

	toSend := d.pendingReplies.PopAtMostN(c.rng, available-minThreshold)
	taken, _ := surbs.GetReplySurbs(tag, len(toSend))
	if taken == nil {
		c.log.Errorf("reply surbs of %s disappeared while clearing the pending queue", tag)
		d.pendingReplies.StoreMultiple(toSend)
		return
	}

	if err := c.handler.TrySendReplyChunks(ctx, tag, toSend, replystorage.Surbs(taken)); err != nil {
		err = returnUnusedSurbs(err, surbs, tag, taken)
		d.pendingReplies.StoreMultiple(toSend)
		c.log.Warnf("failed to clear pending queue for %s: %v", tag, err)
	}
}

// HandleReceivedSurbs stores SURBs sent by tag and uses them to flush the
// queues kept for it.
func (c *ReplyController) HandleReceivedSurbs(ctx context.Context, tag anonymous.AnonymousSenderTag, replySurbs []*anonymous.ReplySurb, fromSurbRequest bool) {
	surbs := c.storage.SurbsStorage()
	if fromSurbRequest {
		surbs.DecrementPendingReception(tag, uint32(len(replySurbs)))
	}
	surbs.InsertFreshSurbs(tag, replySurbs, c.now())

	if d, ok := c.senders[tag]; ok {
		d.rerequests = 0
	}

	c.tryClearPendingRetransmission(ctx, tag)
	c.tryClearPendingQueue(ctx, tag)

	if c.ShouldRequestMoreSurbs(tag) {
		c.requestSurbsForQueueClearing(ctx, tag)
	}
}

// HandleSurbRequest answers a request of recipient for amount more reply
// SURBs. Recipients we never sent an anonymous message to are ignored and
// the amount is capped at MaximumAllowedReplySurbRequestSize.
func (c *ReplyController) HandleSurbRequest(ctx context.Context, recipient addressing.Recipient, amount uint32) {
	if !c.storage.TagsStorage().Exists(recipient) {
		c.log.Warnf("%s asked us for reply SURBs even though we never sent them any anonymous messages before!", recipient)
		c.stats.Report(stats.NewEvent(stats.SurbRequestRejected))
		return
	}

	if limit := c.cfg.MaximumAllowedReplySurbRequestSize; amount > limit {
		c.log.Warnf("The requested reply surb amount is larger than our maximum allowed (%d > %d). Lowering it to a more sane value...", amount, limit)
		c.stats.Report(stats.NewEvent(stats.SurbRequestClamped))
		amount = limit
	}

	for remaining := amount; remaining > 0; {
		n := min(remaining, SurbRequestBatchSize)
		if err := c.issueSurbs(ctx, recipient, n, params.MixPacket); err != nil {
			c.log.Warnf("failed to send additional surbs to %s - %v", recipient, err)
		} else {
			c.log.Debugf("sent %d reply SURBs to %s", n, recipient)
		}
		remaining -= n
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *ReplyController) bufferPendingAck(tag anonymous.AnonymousSenderTag, p *PendingAcknowledgement) {
	id := p.FragmentIdentifier()
	d := c.sender(tag)
	if _, ok := d.pendingRetransmissions[id]; ok {
		c.log.Warnf("we're already trying to retransmit %s. We must be really behind in surbs!", id)
		return
	}
	d.pendingRetransmissions[id] = p
}

// HandleReplyRetransmission resends a reply fragment whose ack timed out.
// Without a spare SURB the fragment waits until more SURBs arrive.
func (c *ReplyController) HandleReplyRetransmission(ctx context.Context, tag anonymous.AnonymousSenderTag, p *PendingAcknowledgement, extraSurbRequest bool) {
	if p.Acked() {
		c.log.Debugf("received the ack for %s while it was queued for retransmission", p.FragmentIdentifier())
		return
	}

	surbs := c.storage.SurbsStorage()
	var surb *replystorage.ReceivedReplySurb
	if extraSurbRequest {
		// SURB requests may dip into the reserve
		surb, _ = surbs.GetReplySurbIgnoringThreshold(tag)
	} else {
		surb, _ = surbs.GetReplySurb(tag)
	}

	if surb != nil {
		prepared, err := c.handler.TryPrepareSingleReplyChunkForSending(surb.Surb, p.Fragment())
		if err == nil {
			c.handler.UpdateAckDelay(prepared.FragmentIdentifier, prepared.TotalDelay)
			if err := c.handler.ForwardMessages(ctx, []*RealMessage{NewRealMessage(prepared)}, transmission.RetransmissionLane); err == nil {
				c.stats.Report(stats.NewEvent(stats.RetransmissionSent))
			}
			return
		}
		err = returnUnusedSurbs(err, surbs, tag, []replystorage.ReceivedReplySurb{*surb})
		c.log.Warnf("failed to prepare message for retransmission - %v", err)
	}

	c.bufferPendingAck(tag, p)
	if c.ShouldRequestMoreSurbs(tag) {
		c.requestSurbsForQueueClearing(ctx, tag)
	}
}

// HandleLaneQueueLength returns the number of buffered replies on the lane
// of connection.
func (c *ReplyController) HandleLaneQueueLength(connection transmission.ConnectionID) int {
	lane := transmission.ConnectionLane(connection)
	for _, d := range c.senders {
		if n, ok := d.pendingReplies.LaneLength(lane); ok {
			return n
		}
	}
	return 0
}

func (c *ReplyController) dropSender(tag anonymous.AnonymousSenderTag) {
	d, ok := c.senders[tag]
	if !ok {
		return
	}
	delete(c.senders, tag)

	ids := make([]chunking.FragmentIdentifier, 0, len(d.pendingRetransmissions))
	for id := range d.pendingRetransmissions {
		ids = append(ids, id)
	}
	c.handler.DropPendingAcks(ids)
	if n := d.pendingReplies.TotalSize(); n > 0 {
		c.log.Infof("dropping %d pending reply fragments for %s", n, tag)
	}
}

// InspectStaleQueues asks senders that went quiet while we still hold data
// for them for more SURBs, and gives up on those silent for too long.
func (c *ReplyController) InspectStaleQueues(ctx context.Context, now time.Time) {
	var toRequest, toRemove []anonymous.AnonymousSenderTag
	surbs := c.storage.SurbsStorage()

	for tag, d := range c.senders {
		if d.totalPending() == 0 {
			continue
		}

		lastReceived, ok := surbs.SurbsLastReceivedAt(tag)
		if !ok {
			c.log.Errorf("we have %d pending replies for %s, but we somehow never received any reply surbs from them!", d.totalPending(), tag)
			toRemove = append(toRemove, tag)
			continue
		}

		if d.rerequests > c.cfg.MaximumReplySurbRerequests {
			c.log.Debugf("we have reached the maximum threshold of attempting to request surbs from %s. dropping the sender", tag)
			toRemove = append(toRemove, tag)
			continue
		}

		diff := now.Sub(lastReceived)
		if diff <= c.cfg.MaximumReplySurbRerequestWaitingPeriod {
			continue
		}
		if diff > c.cfg.MaximumReplySurbDropWaitingPeriod {
			toRemove = append(toRemove, tag)
			continue
		}
		c.log.Debugf("We haven't received any surbs in %s from %s. Going to explicitly ask for more", diff, tag)
		d.rerequests++
		toRequest = append(toRequest, tag)
	}

	for _, tag := range toRequest {
		c.requestSurbsForQueueClearing(ctx, tag)
		surbs.ResetPendingReception(tag)
	}
	for _, tag := range toRemove {
		c.dropSender(tag)
	}
}

// CheckSurbRefresh downgrades every stored SURB once the network moved to
// a new key rotation, and asks their senders for as many fresh ones.
func (c *ReplyController) CheckSurbRefresh(ctx context.Context) {
	current, ok := c.topology.CurrentKeyRotationID()
	if !ok {
		c.log.Warn("failed to retrieve current key rotation id from the network topology")
		return
	}

	if !c.refresh.scheduled {
		if c.refresh.lastKnown != current {
			c.refresh.scheduled = true
		}
		return
	}

	for tag, n := range c.storage.SurbsStorage().DowngradeFreshness() {
		if err := c.requestAdditionalReplySurbs(ctx, tag, uint32(n)); err != nil {
			c.log.Warnf("surb refresh request to %s failed", tag)
		}
	}
	c.refresh = surbRefreshState{lastKnown: current}
}

// InspectAndClearStaleData purges reply SURBs that can no longer be valid
// under the key rotation schedule and forgets the keys of SURBs we sent
// more than MaximumReplyKeyAge ago.
func (c *ReplyController) InspectAndClearStaleData(now time.Time) {
	c.purgeStaleSurbs(now)

	maxAge := c.cfg.MaximumReplyKeyAge
	purged := c.storage.KeyStorage().Retain(func(_ anonymous.SurbEncryptionKeyDigest, k replystorage.SentReplyKey) bool {
		return now.Sub(k.SentAt) <= maxAge
	})
	if purged > 0 {
		c.log.Debugf("purged %d reply keys older than %s", purged, maxAge)
		c.stats.Report(stats.NewSizedEvent(stats.ReplyKeysPurged, purged))
	}

	for tag, reported := range c.unavailable {
		if now.Sub(reported) >= unavailableReportInterval {
			delete(c.unavailable, tag)
		}
	}
}

func (c *ReplyController) purgeStaleSurbs(now time.Time) {
	krc := c.cfg.KeyRotation
	epochStuck := false
	if meta, ok := c.topology.CurrentMetadata(); ok {
		epochStuck = krc.EpochStuck(meta.AbsoluteEpochID, now)
	}

	rotationStart, err := krc.ExpectedCurrentKeyRotationStart(now)
	if err != nil {
		c.log.Debugf("not purging reply surbs: %v", err)
		return
	}
	rotation, _ := krc.ExpectedCurrentKeyRotationID(now)
	priorEpochStart := rotationStart.Add(-krc.EpochDuration)
	followingEpochStart := rotationStart.Add(krc.EpochDuration)
	lifetime := krc.RotationLifetime()
	maxSurbAge := c.cfg.MaximumReplySurbAge
	maxDropWait := c.cfg.MaximumReplySurbDropWaitingPeriod

	keep := func(s replystorage.ReceivedReplySurb) bool {
		if maxSurbAge > 0 && now.Sub(s.ReceivedAt) > maxSurbAge {
			return false
		}
		if epochStuck {
			return now.Sub(s.ReceivedAt) < lifetime
		}
		if s.ReceivedAt.Before(priorEpochStart) {
			return false
		}
		switch s.KeyRotation() {
		case anonymous.EvenKeyRotation:
			return rotation%2 == 0
		case anonymous.OddKeyRotation:
			return rotation%2 == 1
		default:
			return true
		}
	}

	removed := c.storage.SurbsStorage().Retain(func(_ anonymous.AnonymousSenderTag, received *replystorage.ReceivedReplySurbs) bool {
		lastReceived := received.SurbsLastReceivedAt()
		if epochStuck {
			return now.Sub(lastReceived) < lifetime
		}
		if lastReceived.Before(priorEpochStart) {
			return false
		}

		received.RetainFreshSurbs(keep)
		received.RetainPossiblyStaleSurbs(func(s replystorage.ReceivedReplySurb) bool {
			// past the transition epoch only the current keys are valid
			if now.After(followingEpochStart) {
				return false
			}
			return keep(s)
		})

		abandoned := lastReceived.Add(maxDropWait).Before(now)
		return !(received.IsEmpty() && received.PendingReception() == 0 && abandoned)
	})
	if removed > 0 {
		c.log.Debugf("removed reply surbs of %d senders", removed)
	}
}

func (c *ReplyController) handleRequest(ctx context.Context, req *ReplyControllerMessage) {
	switch req.kind {
	case requestSendReply:
		c.HandleSendReply(ctx, req.tag, req.data, req.lane, req.maxRetransmissions)
	case requestRetransmitReply:
		c.HandleReplyRetransmission(ctx, req.tag, req.timedOut, req.extraSurbRequest)
	case requestAdditionalSurbs:
		c.HandleReceivedSurbs(ctx, req.tag, req.surbs, req.fromSurbRequest)
	case requestAdditionalSurbsRequest:
		c.HandleSurbRequest(ctx, req.recipient, req.amount)
	case requestLaneQueueLength:
		n := c.HandleLaneQueueLength(req.connection)
		select {
		case req.response <- n:
		default:
			c.log.Error("the requester for lane queue length has dropped the response channel!")
		}
	default:
		c.log.Errorf("Unknown reply controller request: %d", req.kind)
	}
}

// Run serves reply requests and the periodic inspections until ctx is
// cancelled.
func (c *ReplyController) Run(ctx context.Context) error {
	c.log.Debug("Started ReplyController")
	defer c.log.Debug("ReplyController: Exiting")
	defer c.requests.close()

	staleInspection := time.NewTicker(c.cfg.StaleInspectionInterval)
	defer staleInspection.Stop()

	refreshInterval := c.cfg.KeyRotation.EpochDuration / 8
	if refreshInterval <= 0 {
		refreshInterval = epochtime.DefaultEpochDuration / 8
	}
	invalidationInspection := time.NewTicker(refreshInterval)
	defer invalidationInspection.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-c.requests.out():
			if !ok {
				c.log.Debug("ReplyController: Stopping since channel closed")
				return channelClosed(ctx)
			}
			c.handleRequest(ctx, v.(*ReplyControllerMessage))
		case now := <-staleInspection.C:
			c.InspectStaleQueues(ctx, now)
		case now := <-invalidationInspection.C:
			c.CheckSurbRefresh(ctx)
			c.InspectAndClearStaleData(now)
		}
	}
}
