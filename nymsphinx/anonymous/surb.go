// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package anonymous implements reply SURBs and the messages that carry them.
package anonymous

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
)

const (
	// SenderTagSize is the size of an AnonymousSenderTag.
	SenderTagSize = 16

	// SurbEncryptionKeySize is the size of a SurbEncryptionKey.
	SurbEncryptionKeySize = 32
)

// AnonymousSenderTag lets a recipient group the SURBs and requests of a
// single anonymous sender without learning its address.
type AnonymousSenderTag [SenderTagSize]byte

// NewAnonymousSenderTag returns a random tag.
func NewAnonymousSenderTag(rng io.Reader) (AnonymousSenderTag, error) {
	var t AnonymousSenderTag
	_, err := io.ReadFull(rng, t[:])
	return t, err
}

func (t AnonymousSenderTag) String() string {
	return hex.EncodeToString(t[:])
}

// SurbEncryptionKey is the symmetric key the replier uses to encrypt a reply
// payload. The sender keeps a copy to decrypt the reply once it arrives.
type SurbEncryptionKey [SurbEncryptionKeySize]byte

// SurbEncryptionKeyDigest is the lookup key for a SurbEncryptionKey.
type SurbEncryptionKeyDigest [blake2b.Size256]byte

// NewSurbEncryptionKey returns a random key.
func NewSurbEncryptionKey(rng io.Reader) (SurbEncryptionKey, error) {
	var k SurbEncryptionKey
	_, err := io.ReadFull(rng, k[:])
	return k, err
}

// Digest returns the blake2b-256 digest of k.
func (k SurbEncryptionKey) Digest() SurbEncryptionKeyDigest {
	return blake2b.Sum256(k[:])
}

// KeyRotation records which of the two live sphinx key rotations a SURB was
// built against.
type KeyRotation uint8

const (
	// UnknownKeyRotation is used for SURBs of unknown provenance.
	UnknownKeyRotation KeyRotation = iota

	// EvenKeyRotation is used for SURBs built during an even rotation.
	EvenKeyRotation

	// OddKeyRotation is used for SURBs built during an odd rotation.
	OddKeyRotation
)

// KeyRotationFromID maps an absolute rotation id onto its parity.
func KeyRotationFromID(id uint32) KeyRotation {
	if id%2 == 0 {
		return EvenKeyRotation
	}
	return OddKeyRotation
}

func (r KeyRotation) String() string {
	switch r {
	case EvenKeyRotation:
		return "even"
	case OddKeyRotation:
		return "odd"
	default:
		return "unknown"
	}
}

// ReplySurb is a single use reply block: a prebuilt header routing back to
// the creator, the first hop the replier must send to, and the payload key.
type ReplySurb struct {
	Header        []byte                  `cbor:"1,keyasint"`
	FirstHop      addressing.NodeIdentity `cbor:"2,keyasint"`
	EncryptionKey SurbEncryptionKey       `cbor:"3,keyasint"`
	KeyRotation   KeyRotation             `cbor:"4,keyasint"`
}
