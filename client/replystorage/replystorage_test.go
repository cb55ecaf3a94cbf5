// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package replystorage

import (
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
)

func newKey(t *testing.T) anonymous.SurbEncryptionKey {
	k, err := anonymous.NewSurbEncryptionKey(rand.Reader)
	require.NoError(t, err)
	return k
}

func newTag(t *testing.T) anonymous.AnonymousSenderTag {
	tag, err := anonymous.NewAnonymousSenderTag(rand.Reader)
	require.NoError(t, err)
	return tag
}

func newSurbs(n int, rotation anonymous.KeyRotation) []*anonymous.ReplySurb {
	out := make([]*anonymous.ReplySurb, n)
	for i := range out {
		out[i] = &anonymous.ReplySurb{Header: []byte{byte(i)}, KeyRotation: rotation}
	}
	return out
}

func TestSentReplyKeys(t *testing.T) {
	keys := NewSentReplyKeys()
	now := time.Unix(1_700_000_000, 0)
	old := newKey(t)
	fresh := newKey(t)
	keys.InsertMultiple([]anonymous.SurbEncryptionKey{old}, now.Add(-2*time.Hour))
	keys.InsertMultiple([]anonymous.SurbEncryptionKey{fresh}, now)
	require.Equal(t, 2, keys.Len())

	removed := keys.Retain(func(_ anonymous.SurbEncryptionKeyDigest, k SentReplyKey) bool {
		return now.Sub(k.SentAt) <= time.Hour
	})
	require.Equal(t, 1, removed)

	_, ok := keys.TryPop(old.Digest())
	require.False(t, ok)
	got, ok := keys.TryPop(fresh.Digest())
	require.True(t, ok)
	require.Equal(t, fresh, got.Key)
	require.Equal(t, 0, keys.Len())
}

func TestUsedSenderTags(t *testing.T) {
	tags := NewUsedSenderTags()
	r, err := addressing.NewRandomRecipient(rand.Reader, addressing.NodeIdentity{1})
	require.NoError(t, err)
	require.False(t, tags.Exists(*r))

	tag := newTag(t)
	tags.InsertNew(*r, tag)
	require.True(t, tags.Exists(*r))
	got, ok := tags.TryGetExisting(*r)
	require.True(t, ok)
	require.Equal(t, tag, got)
	require.Equal(t, 1, tags.Len())
}

func TestReceivedSurbsThreshold(t *testing.T) {
	m := NewReceivedReplySurbsMap(5, 50)
	tag := newTag(t)
	now := time.Unix(1_700_000_000, 0)

	require.False(t, m.ContainsSurbsFor(tag))
	m.InsertFreshSurbs(tag, newSurbs(8, anonymous.EvenKeyRotation), now)
	require.True(t, m.ContainsSurbsFor(tag))
	require.Equal(t, 8, m.AvailableSurbs(tag))

	surbs, left := m.GetReplySurbs(tag, 4)
	require.Nil(t, surbs)
	require.Equal(t, 8, left)

	surbs, left = m.GetReplySurbs(tag, 3)
	require.Len(t, surbs, 3)
	require.Equal(t, 5, left)

	s, left := m.GetReplySurb(tag)
	require.Nil(t, s)
	require.Equal(t, 5, left)

	s, left = m.GetReplySurbIgnoringThreshold(tag)
	require.NotNil(t, s)
	require.Equal(t, 4, left)

	m.ReturnUnusedSurbs(tag, []ReceivedReplySurb{*s})
	require.Equal(t, 5, m.AvailableSurbs(tag))

	last, ok := m.SurbsLastReceivedAt(tag)
	require.True(t, ok)
	require.Equal(t, now, last)
}

func TestReceivedSurbsReturnKeepsAgeAndPile(t *testing.T) {
	m := NewReceivedReplySurbsMap(0, 10)
	tag := newTag(t)
	old := time.Unix(1_700_000_000, 0)
	later := old.Add(time.Hour)

	m.InsertFreshSurbs(tag, newSurbs(2, anonymous.EvenKeyRotation), old)
	m.DowngradeFreshness()
	m.InsertFreshSurbs(tag, newSurbs(1, anonymous.OddKeyRotation), later)

	taken, left := m.GetReplySurbs(tag, 3)
	require.Len(t, taken, 3)
	require.Zero(t, left)
	require.Equal(t, old, taken[0].ReceivedAt)
	require.Equal(t, later, taken[2].ReceivedAt)
	require.Len(t, Surbs(taken), 3)

	m.ReturnUnusedSurbs(tag, taken)
	require.Equal(t, 3, m.AvailableSurbs(tag))

	// no SURB was made fresh or younger by the round trip
	var fresh, stale []ReceivedReplySurb
	m.Retain(func(_ anonymous.AnonymousSenderTag, r *ReceivedReplySurbs) bool {
		r.RetainFreshSurbs(func(s ReceivedReplySurb) bool {
			fresh = append(fresh, s)
			return true
		})
		r.RetainPossiblyStaleSurbs(func(s ReceivedReplySurb) bool {
			stale = append(stale, s)
			return true
		})
		return true
	})
	require.Len(t, fresh, 1)
	require.Equal(t, later, fresh[0].ReceivedAt)
	require.Len(t, stale, 2)
	for i, s := range stale {
		require.Equal(t, old, s.ReceivedAt)
		require.Same(t, taken[i].Surb, s.Surb)
	}

	// the possibly stale ones are still handed out first
	s, _ := m.GetReplySurbIgnoringThreshold(tag)
	require.Same(t, taken[0].Surb, s.Surb)

	last, ok := m.SurbsLastReceivedAt(tag)
	require.True(t, ok)
	require.Equal(t, later, last)
}

func TestReceivedSurbsPendingReception(t *testing.T) {
	m := NewReceivedReplySurbsMap(0, 10)
	tag := newTag(t)

	m.IncrementPendingReception(tag, 10)
	require.Equal(t, uint32(10), m.PendingReception(tag))
	m.DecrementPendingReception(tag, 4)
	require.Equal(t, uint32(6), m.PendingReception(tag))
	m.DecrementPendingReception(tag, 40)
	require.Equal(t, uint32(0), m.PendingReception(tag))

	m.IncrementPendingReception(tag, 3)
	m.ResetPendingReception(tag)
	require.Equal(t, uint32(0), m.PendingReception(tag))
}

func TestReceivedSurbsFreshness(t *testing.T) {
	m := NewReceivedReplySurbsMap(0, 10)
	a, b := newTag(t), newTag(t)
	now := time.Unix(1_700_000_000, 0)
	m.InsertFreshSurbs(a, newSurbs(3, anonymous.EvenKeyRotation), now)
	m.InsertFreshSurbs(b, newSurbs(2, anonymous.OddKeyRotation), now)

	downgraded := m.DowngradeFreshness()
	require.Equal(t, map[anonymous.AnonymousSenderTag]int{a: 3, b: 2}, downgraded)
	require.Empty(t, m.DowngradeFreshness())

	// new arrivals are fresh and the possibly stale ones are used first
	m.InsertFreshSurbs(a, newSurbs(1, anonymous.OddKeyRotation), now.Add(time.Minute))
	s, _ := m.GetReplySurbIgnoringThreshold(a)
	require.Equal(t, anonymous.EvenKeyRotation, s.KeyRotation())

	removed := m.Retain(func(_ anonymous.AnonymousSenderTag, r *ReceivedReplySurbs) bool {
		r.RetainPossiblyStaleSurbs(func(s ReceivedReplySurb) bool {
			return s.KeyRotation() == anonymous.OddKeyRotation
		})
		return !r.IsEmpty()
	})
	require.Equal(t, 0, removed)
	require.Equal(t, 1, m.AvailableSurbs(a))
	require.Equal(t, 2, m.AvailableSurbs(b))

	removed = m.Retain(func(tag anonymous.AnonymousSenderTag, _ *ReceivedReplySurbs) bool {
		return tag != b
	})
	require.Equal(t, 1, removed)
	require.Equal(t, 1, m.Len())
}

func TestCombinedReplyStorage(t *testing.T) {
	c := NewCombinedReplyStorage(10, 200)
	require.NotNil(t, c.KeyStorage())
	require.NotNil(t, c.TagsStorage())
	require.Equal(t, 10, c.SurbsStorage().MinSurbThreshold())
	require.Equal(t, 200, c.SurbsStorage().MaxSurbThreshold())
}
