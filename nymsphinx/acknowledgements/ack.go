// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package acknowledgements implements the encrypted fragment identifiers
// carried back to the sender by SURB-acks.
package acknowledgements

import (
	"errors"
	"io"

	"github.com/katzenpost/chacha20poly1305"

	"github.com/nymtech/nym-go/nymsphinx/chunking"
)

// KeySize is the size of an AckKey.
const KeySize = chacha20poly1305.KeySize

// EncodedLength is the length of an encrypted fragment identifier.
const EncodedLength = chacha20poly1305.NonceSize + chunking.FragmentIdentifierLength + chacha20poly1305.Overhead

// ErrMalformedAck is returned for ack bytes that are not ours or are corrupt.
var ErrMalformedAck = errors.New("acknowledgements: malformed ack")

// AckKey is the long term symmetric key used to seal fragment identifiers.
type AckKey struct {
	key [KeySize]byte
}

// NewAckKey generates a fresh AckKey.
func NewAckKey(rng io.Reader) (*AckKey, error) {
	k := new(AckKey)
	if _, err := io.ReadFull(rng, k.key[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// AckKeyFromBytes loads a previously generated key.
func AckKeyFromBytes(b []byte) (*AckKey, error) {
	if len(b) != KeySize {
		return nil, errors.New("acknowledgements: invalid key length")
	}
	k := new(AckKey)
	copy(k.key[:], b)
	return k, nil
}

// Bytes returns the raw key.
func (k *AckKey) Bytes() []byte {
	return append([]byte{}, k.key[:]...)
}

// PrepareIdentifier seals id under key, returning nonce || ciphertext.
func PrepareIdentifier(rng io.Reader, key *AckKey, id chunking.FragmentIdentifier) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize, EncodedLength)
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, id.Bytes(), nil), nil
}

// RecoverIdentifier opens ack bytes produced by PrepareIdentifier.
func RecoverIdentifier(key *AckKey, ack []byte) (chunking.FragmentIdentifier, error) {
	if len(ack) != EncodedLength {
		return chunking.FragmentIdentifier{}, ErrMalformedAck
	}
	aead, err := chacha20poly1305.New(key.key[:])
	if err != nil {
		return chunking.FragmentIdentifier{}, err
	}
	nonce := ack[:chacha20poly1305.NonceSize]
	plaintext, err := aead.Open(nil, nonce, ack[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return chunking.FragmentIdentifier{}, ErrMalformedAck
	}
	return chunking.FragmentIdentifierFromBytes(plaintext)
}
