// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package replystorage

import (
	"sync"
	"time"

	"github.com/nymtech/nym-go/nymsphinx/anonymous"
)

// ReceivedReplySurb is a SURB another client gave us.
type ReceivedReplySurb struct {
	Surb       *anonymous.ReplySurb
	ReceivedAt time.Time

	// possiblyStale is set on SURBs taken from the possibly stale pile, so
	// that ReturnUnusedSurbs puts them back there.
	possiblyStale bool
}

// Surbs returns the SURBs carried by received.
func Surbs(received []ReceivedReplySurb) []*anonymous.ReplySurb {
	if received == nil {
		return nil
	}
	out := make([]*anonymous.ReplySurb, 0, len(received))
	for _, r := range received {
		out = append(out, r.Surb)
	}
	return out
}

// KeyRotation returns the rotation the SURB was built against.
func (r ReceivedReplySurb) KeyRotation() anonymous.KeyRotation {
	if r.Surb == nil {
		return anonymous.UnknownKeyRotation
	}
	return r.Surb.KeyRotation
}

// ReceivedReplySurbs are the SURBs of a single sender. Fresh SURBs were
// received during the current key rotation, possibly stale ones before it
// and are used first while they may still be valid.
type ReceivedReplySurbs struct {
	fresh         []ReceivedReplySurb
	possiblyStale []ReceivedReplySurb

	pendingReception uint32
	lastReceivedAt   time.Time
}

// Len returns the number of usable SURBs.
func (r *ReceivedReplySurbs) Len() int {
	return len(r.fresh) + len(r.possiblyStale)
}

// IsEmpty returns true iff no SURB is left.
func (r *ReceivedReplySurbs) IsEmpty() bool {
	return r.Len() == 0
}

// PendingReception returns how many SURBs we asked for and did not get yet.
func (r *ReceivedReplySurbs) PendingReception() uint32 {
	return r.pendingReception
}

// SurbsLastReceivedAt returns when SURBs last arrived from the sender.
func (r *ReceivedReplySurbs) SurbsLastReceivedAt() time.Time {
	return r.lastReceivedAt
}

// DowngradeFreshness marks every fresh SURB as possibly stale and returns
// how many were downgraded.
func (r *ReceivedReplySurbs) DowngradeFreshness() int {
	n := len(r.fresh)
	r.possiblyStale = append(r.possiblyStale, r.fresh...)
	r.fresh = nil
	return n
}

// RetainFreshSurbs keeps the fresh SURBs for which keep returns true.
func (r *ReceivedReplySurbs) RetainFreshSurbs(keep func(ReceivedReplySurb) bool) {
	r.fresh = retain(r.fresh, keep)
}

// RetainPossiblyStaleSurbs keeps the possibly stale SURBs for which keep
// returns true.
func (r *ReceivedReplySurbs) RetainPossiblyStaleSurbs(keep func(ReceivedReplySurb) bool) {
	r.possiblyStale = retain(r.possiblyStale, keep)
}

func retain(surbs []ReceivedReplySurb, keep func(ReceivedReplySurb) bool) []ReceivedReplySurb {
	out := surbs[:0]
	for _, s := range surbs {
		if keep(s) {
			out = append(out, s)
		}
	}
	for i := len(out); i < len(surbs); i++ {
		surbs[i] = ReceivedReplySurb{}
	}
	return out
}

func (r *ReceivedReplySurbs) pop() (ReceivedReplySurb, bool) {
	if len(r.possiblyStale) > 0 {
		s := r.possiblyStale[0]
		r.possiblyStale = r.possiblyStale[1:]
		s.possiblyStale = true
		return s, true
	}
	if len(r.fresh) > 0 {
		s := r.fresh[0]
		r.fresh = r.fresh[1:]
		s.possiblyStale = false
		return s, true
	}
	return ReceivedReplySurb{}, false
}

func (r *ReceivedReplySurbs) popN(n int) []ReceivedReplySurb {
	out := make([]ReceivedReplySurb, 0, n)
	for len(out) < n {
		s, ok := r.pop()
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

// giveBack puts taken SURBs back at the front of the pile they came from,
// keeping their original order and received time.
func (r *ReceivedReplySurbs) giveBack(taken []ReceivedReplySurb) {
	var fresh, stale []ReceivedReplySurb
	for _, s := range taken {
		if s.Surb == nil {
			continue
		}
		if s.possiblyStale {
			stale = append(stale, s)
		} else {
			fresh = append(fresh, s)
		}
	}
	if len(stale) > 0 {
		r.possiblyStale = append(stale, r.possiblyStale...)
	}
	if len(fresh) > 0 {
		r.fresh = append(fresh, r.fresh...)
	}
}

func (r *ReceivedReplySurbs) insert(surbs []*anonymous.ReplySurb, receivedAt time.Time) {
	for _, s := range surbs {
		r.fresh = append(r.fresh, ReceivedReplySurb{Surb: s, ReceivedAt: receivedAt})
	}
}

// ReceivedReplySurbsMap holds the SURBs of every sender we may reply to.
// Sending normal replies never takes a sender below the minimum threshold;
// the remaining SURBs are reserved for asking the sender for more.
type ReceivedReplySurbsMap struct {
	sync.Mutex

	inner map[anonymous.AnonymousSenderTag]*ReceivedReplySurbs

	minThreshold int
	maxThreshold int
}

// NewReceivedReplySurbsMap returns an empty map with the given thresholds.
func NewReceivedReplySurbsMap(minThreshold, maxThreshold int) *ReceivedReplySurbsMap {
	return &ReceivedReplySurbsMap{
		inner:        make(map[anonymous.AnonymousSenderTag]*ReceivedReplySurbs),
		minThreshold: minThreshold,
		maxThreshold: maxThreshold,
	}
}

// MinSurbThreshold returns the number of SURBs reserved for requests.
func (m *ReceivedReplySurbsMap) MinSurbThreshold() int {
	return m.minThreshold
}

// MaxSurbThreshold returns the number of SURBs above which we stop asking.
func (m *ReceivedReplySurbsMap) MaxSurbThreshold() int {
	return m.maxThreshold
}

func (m *ReceivedReplySurbsMap) entry(tag anonymous.AnonymousSenderTag) *ReceivedReplySurbs {
	e, ok := m.inner[tag]
	if !ok {
		e = new(ReceivedReplySurbs)
		m.inner[tag] = e
	}
	return e
}

// ContainsSurbsFor returns true iff tag ever gave us SURBs and was not
// purged since.
func (m *ReceivedReplySurbsMap) ContainsSurbsFor(tag anonymous.AnonymousSenderTag) bool {
	m.Lock()
	defer m.Unlock()
	_, ok := m.inner[tag]
	return ok
}

// AvailableSurbs returns the number of usable SURBs of tag.
func (m *ReceivedReplySurbsMap) AvailableSurbs(tag anonymous.AnonymousSenderTag) int {
	m.Lock()
	defer m.Unlock()
	if e, ok := m.inner[tag]; ok {
		return e.Len()
	}
	return 0
}

// PendingReception returns how many SURBs we are still waiting for.
func (m *ReceivedReplySurbsMap) PendingReception(tag anonymous.AnonymousSenderTag) uint32 {
	m.Lock()
	defer m.Unlock()
	if e, ok := m.inner[tag]; ok {
		return e.pendingReception
	}
	return 0
}

// IncrementPendingReception records a request for n more SURBs.
func (m *ReceivedReplySurbsMap) IncrementPendingReception(tag anonymous.AnonymousSenderTag, n uint32) {
	m.Lock()
	defer m.Unlock()
	m.entry(tag).pendingReception += n
}

// DecrementPendingReception records the arrival of n requested SURBs.
func (m *ReceivedReplySurbsMap) DecrementPendingReception(tag anonymous.AnonymousSenderTag, n uint32) {
	m.Lock()
	defer m.Unlock()
	e, ok := m.inner[tag]
	if !ok {
		return
	}
	if n > e.pendingReception {
		e.pendingReception = 0
		return
	}
	e.pendingReception -= n
}

// ResetPendingReception forgets every outstanding request.
func (m *ReceivedReplySurbsMap) ResetPendingReception(tag anonymous.AnonymousSenderTag) {
	m.Lock()
	defer m.Unlock()
	if e, ok := m.inner[tag]; ok {
		e.pendingReception = 0
	}
}

// SurbsLastReceivedAt returns when tag last sent us SURBs.
func (m *ReceivedReplySurbsMap) SurbsLastReceivedAt(tag anonymous.AnonymousSenderTag) (time.Time, bool) {
	m.Lock()
	defer m.Unlock()
	e, ok := m.inner[tag]
	if !ok {
		return time.Time{}, false
	}
	return e.lastReceivedAt, true
}

// GetReplySurbs takes n SURBs of tag if that leaves at least the minimum
// threshold behind. It returns nil otherwise, together with the number of
// SURBs left.
func (m *ReceivedReplySurbsMap) GetReplySurbs(tag anonymous.AnonymousSenderTag, n int) ([]ReceivedReplySurb, int) {
	m.Lock()
	defer m.Unlock()
	e, ok := m.inner[tag]
	if !ok {
		return nil, 0
	}
	if n <= 0 || e.Len() < n+m.minThreshold {
		return nil, e.Len()
	}
	out := e.popN(n)
	return out, e.Len()
}

// GetReplySurb takes a single SURB respecting the minimum threshold.
func (m *ReceivedReplySurbsMap) GetReplySurb(tag anonymous.AnonymousSenderTag) (*ReceivedReplySurb, int) {
	surbs, left := m.GetReplySurbs(tag, 1)
	if len(surbs) == 0 {
		return nil, left
	}
	return &surbs[0], left
}

// GetReplySurbIgnoringThreshold takes a single SURB even if that dips below
// the minimum threshold. It is used for SURB requests themselves.
func (m *ReceivedReplySurbsMap) GetReplySurbIgnoringThreshold(tag anonymous.AnonymousSenderTag) (*ReceivedReplySurb, int) {
	m.Lock()
	defer m.Unlock()
	e, ok := m.inner[tag]
	if !ok {
		return nil, 0
	}
	s, ok := e.pop()
	if !ok {
		return nil, 0
	}
	return &s, e.Len()
}

// InsertFreshSurbs stores surbs that just arrived from tag.
func (m *ReceivedReplySurbsMap) InsertFreshSurbs(tag anonymous.AnonymousSenderTag, surbs []*anonymous.ReplySurb, receivedAt time.Time) {
	m.Lock()
	defer m.Unlock()
	e := m.entry(tag)
	e.insert(surbs, receivedAt)
	e.lastReceivedAt = receivedAt
}

// ReturnUnusedSurbs puts back SURBs that were taken but never used. They
// keep the pile and received time they had when taken, and the last
// received time of tag is left alone.
func (m *ReceivedReplySurbsMap) ReturnUnusedSurbs(tag anonymous.AnonymousSenderTag, surbs []ReceivedReplySurb) {
	if len(surbs) == 0 {
		return
	}
	m.Lock()
	defer m.Unlock()
	m.entry(tag).giveBack(surbs)
}

// DowngradeFreshness marks every fresh SURB as possibly stale and returns
// the per sender count of downgraded SURBs.
func (m *ReceivedReplySurbsMap) DowngradeFreshness() map[anonymous.AnonymousSenderTag]int {
	m.Lock()
	defer m.Unlock()
	out := make(map[anonymous.AnonymousSenderTag]int)
	for tag, e := range m.inner {
		if n := e.DowngradeFreshness(); n != 0 {
			out[tag] = n
		}
	}
	return out
}

// Retain keeps only the senders for which keep returns true. keep may
// modify the entry it is given.
func (m *ReceivedReplySurbsMap) Retain(keep func(anonymous.AnonymousSenderTag, *ReceivedReplySurbs) bool) int {
	m.Lock()
	defer m.Unlock()
	removed := 0
	for tag, e := range m.inner {
		if !keep(tag, e) {
			delete(m.inner, tag)
			removed++
		}
	}
	return removed
}

// Len returns the number of known senders.
func (m *ReceivedReplySurbsMap) Len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.inner)
}
