// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package replystorage holds the in-memory reply SURB state of a client:
// the keys of SURBs we handed out, the tags we used towards recipients and
// the SURBs other clients gave us.
package replystorage

import (
	"sync"
	"time"

	"github.com/nymtech/nym-go/nymsphinx/anonymous"
)

// SentReplyKey is the payload key of a SURB we sent, kept until a reply
// arrives through it or it grows too old.
type SentReplyKey struct {
	Key    anonymous.SurbEncryptionKey
	SentAt time.Time
}

// SentReplyKeys maps key digests onto the keys of the SURBs we sent.
type SentReplyKeys struct {
	sync.Mutex

	keys map[anonymous.SurbEncryptionKeyDigest]SentReplyKey
}

// NewSentReplyKeys returns an empty SentReplyKeys.
func NewSentReplyKeys() *SentReplyKeys {
	return &SentReplyKeys{
		keys: make(map[anonymous.SurbEncryptionKeyDigest]SentReplyKey),
	}
}

// InsertMultiple records keys as sent at sentAt.
func (s *SentReplyKeys) InsertMultiple(keys []anonymous.SurbEncryptionKey, sentAt time.Time) {
	s.Lock()
	defer s.Unlock()
	for _, k := range keys {
		s.keys[k.Digest()] = SentReplyKey{Key: k, SentAt: sentAt}
	}
}

// TryPop removes and returns the key with the given digest.
func (s *SentReplyKeys) TryPop(digest anonymous.SurbEncryptionKeyDigest) (SentReplyKey, bool) {
	s.Lock()
	defer s.Unlock()
	k, ok := s.keys[digest]
	if ok {
		delete(s.keys, digest)
	}
	return k, ok
}

// Retain keeps only the entries for which keep returns true and returns how
// many were removed.
func (s *SentReplyKeys) Retain(keep func(anonymous.SurbEncryptionKeyDigest, SentReplyKey) bool) int {
	s.Lock()
	defer s.Unlock()
	removed := 0
	for d, k := range s.keys {
		if !keep(d, k) {
			delete(s.keys, d)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored keys.
func (s *SentReplyKeys) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.keys)
}
