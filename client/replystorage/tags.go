// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package replystorage

import (
	"sync"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
)

// UsedSenderTags remembers the sender tag we used towards every recipient
// we sent SURBs to. Only those recipients may ask us for more.
type UsedSenderTags struct {
	sync.RWMutex

	tags map[addressing.Recipient]anonymous.AnonymousSenderTag
}

// NewUsedSenderTags returns an empty UsedSenderTags.
func NewUsedSenderTags() *UsedSenderTags {
	return &UsedSenderTags{
		tags: make(map[addressing.Recipient]anonymous.AnonymousSenderTag),
	}
}

// TryGetExisting returns the tag used towards recipient.
func (u *UsedSenderTags) TryGetExisting(recipient addressing.Recipient) (anonymous.AnonymousSenderTag, bool) {
	u.RLock()
	defer u.RUnlock()
	tag, ok := u.tags[recipient]
	return tag, ok
}

// InsertNew records tag for recipient.
func (u *UsedSenderTags) InsertNew(recipient addressing.Recipient, tag anonymous.AnonymousSenderTag) {
	u.Lock()
	defer u.Unlock()
	u.tags[recipient] = tag
}

// Exists returns true iff we ever sent SURBs to recipient.
func (u *UsedSenderTags) Exists(recipient addressing.Recipient) bool {
	_, ok := u.TryGetExisting(recipient)
	return ok
}

// Len returns the number of known recipients.
func (u *UsedSenderTags) Len() int {
	u.RLock()
	defer u.RUnlock()
	return len(u.tags)
}
