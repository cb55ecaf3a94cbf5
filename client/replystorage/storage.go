// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package replystorage

import (
	"time"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
)

// KeyStorage stores the keys of the SURBs we sent.
type KeyStorage interface {
	InsertMultiple(keys []anonymous.SurbEncryptionKey, sentAt time.Time)
	TryPop(digest anonymous.SurbEncryptionKeyDigest) (SentReplyKey, bool)
	Retain(keep func(anonymous.SurbEncryptionKeyDigest, SentReplyKey) bool) int
	Len() int
}

// TagStorage stores the sender tags we used towards recipients.
type TagStorage interface {
	TryGetExisting(recipient addressing.Recipient) (anonymous.AnonymousSenderTag, bool)
	InsertNew(recipient addressing.Recipient, tag anonymous.AnonymousSenderTag)
	Exists(recipient addressing.Recipient) bool
	Len() int
}

var (
	_ KeyStorage = (*SentReplyKeys)(nil)
	_ TagStorage = (*UsedSenderTags)(nil)
)

// CombinedReplyStorage bundles the three stores. It is shared by every
// task; the stores synchronise internally.
type CombinedReplyStorage struct {
	keys  KeyStorage
	tags  TagStorage
	surbs *ReceivedReplySurbsMap
}

// NewCombinedReplyStorage returns an in-memory CombinedReplyStorage.
func NewCombinedReplyStorage(minSurbThreshold, maxSurbThreshold int) *CombinedReplyStorage {
	return &CombinedReplyStorage{
		keys:  NewSentReplyKeys(),
		tags:  NewUsedSenderTags(),
		surbs: NewReceivedReplySurbsMap(minSurbThreshold, maxSurbThreshold),
	}
}

// NewCombinedReplyStorageFrom bundles existing stores, e.g. ones restored
// from disk.
func NewCombinedReplyStorageFrom(keys KeyStorage, tags TagStorage, surbs *ReceivedReplySurbsMap) *CombinedReplyStorage {
	return &CombinedReplyStorage{
		keys:  keys,
		tags:  tags,
		surbs: surbs,
	}
}

// KeyStorage returns the sent reply keys.
func (c *CombinedReplyStorage) KeyStorage() KeyStorage {
	return c.keys
}

// TagsStorage returns the used sender tags.
func (c *CombinedReplyStorage) TagsStorage() TagStorage {
	return c.tags
}

// SurbsStorage returns the received reply SURBs.
func (c *CombinedReplyStorage) SurbsStorage() *ReceivedReplySurbsMap {
	return c.surbs
}
