// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package addressing implements client addresses.
package addressing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeyLength is the length of each component of a Recipient.
const KeyLength = 32

// NodeIdentity identifies a node (mix or gateway) by its identity key.
type NodeIdentity [KeyLength]byte

func (n NodeIdentity) String() string {
	return hex.EncodeToString(n[:])
}

// Recipient is the full address of a client: its identity, its encryption
// key and the gateway it is registered with.
type Recipient struct {
	ClientIdentity      [KeyLength]byte
	ClientEncryptionKey [KeyLength]byte
	Gateway             NodeIdentity
}

var errInvalidRecipient = errors.New("addressing: malformed recipient")

// NewRandomRecipient returns a recipient with random keys, registered at gateway.
func NewRandomRecipient(rng io.Reader, gateway NodeIdentity) (*Recipient, error) {
	r := &Recipient{Gateway: gateway}
	if _, err := io.ReadFull(rng, r.ClientIdentity[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rng, r.ClientEncryptionKey[:]); err != nil {
		return nil, err
	}
	return r, nil
}

// String encodes r as "identity.encryption@gateway".
func (r Recipient) String() string {
	return fmt.Sprintf("%x.%x@%x", r.ClientIdentity[:], r.ClientEncryptionKey[:], r.Gateway[:])
}

// MarshalText implements encoding.TextMarshaler.
func (r Recipient) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Recipient) UnmarshalText(b []byte) error {
	parsed, err := RecipientFromString(string(b))
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// RecipientFromString parses the String encoding of a Recipient.
func RecipientFromString(s string) (*Recipient, error) {
	client, gateway, ok := strings.Cut(s, "@")
	if !ok {
		return nil, errInvalidRecipient
	}
	identity, encryption, ok := strings.Cut(client, ".")
	if !ok {
		return nil, errInvalidRecipient
	}

	r := new(Recipient)
	for _, v := range []struct {
		dst []byte
		src string
	}{
		{r.ClientIdentity[:], identity},
		{r.ClientEncryptionKey[:], encryption},
		{r.Gateway[:], gateway},
	} {
		raw, err := hex.DecodeString(v.src)
		if err != nil {
			return nil, fmt.Errorf("addressing: %w", err)
		}
		if len(raw) != KeyLength {
			return nil, errInvalidRecipient
		}
		copy(v.dst, raw)
	}
	return r, nil
}
