// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package message implements the logical messages exchanged by clients
// before they are padded and split into fragments.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
)

// Kind distinguishes the three kinds of NymMessage.
type Kind uint8

const (
	// Plain messages carry application data only.
	Plain Kind = iota

	// Repliable messages carry SURBs from an anonymous sender.
	Repliable

	// Reply messages are sent using a SURB.
	Reply
)

const paddingMarker = 0x01

var (
	// ErrEmptyMessage is returned when decoding zero bytes.
	ErrEmptyMessage = errors.New("message: empty message")

	// ErrInvalidPadding is returned when the padding marker cannot be found.
	ErrInvalidPadding = errors.New("message: invalid padding")
)

// NymMessage is the unit handed to the message handler.
type NymMessage struct {
	Kind      Kind
	Plain     []byte
	Repliable *anonymous.RepliableMessage
	Reply     *anonymous.ReplyMessage
}

// NewPlain wraps raw application data.
func NewPlain(data []byte) *NymMessage {
	return &NymMessage{Kind: Plain, Plain: data}
}

// NewRepliable wraps a RepliableMessage.
func NewRepliable(m *anonymous.RepliableMessage) *NymMessage {
	return &NymMessage{Kind: Repliable, Repliable: m}
}

// NewReply wraps a ReplyMessage.
func NewReply(m *anonymous.ReplyMessage) *NymMessage {
	return &NymMessage{Kind: Reply, Reply: m}
}

// Bytes serialises m with a leading kind byte.
func (m *NymMessage) Bytes() ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch m.Kind {
	case Plain:
		body = m.Plain
	case Repliable:
		body, err = m.Repliable.Bytes()
	case Reply:
		body, err = m.Reply.Bytes()
	default:
		return nil, fmt.Errorf("message: unknown kind %d", m.Kind)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(m.Kind)}, body...), nil
}

// FromBytes decodes the output of NymMessage.Bytes.
func FromBytes(b []byte) (*NymMessage, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	body := b[1:]
	switch Kind(b[0]) {
	case Plain:
		return NewPlain(append([]byte{}, body...)), nil
	case Repliable:
		m, err := anonymous.RepliableMessageFromBytes(body)
		if err != nil {
			return nil, err
		}
		return NewRepliable(m), nil
	case Reply:
		m, err := anonymous.ReplyMessageFromBytes(body)
		if err != nil {
			return nil, err
		}
		return NewReply(m), nil
	default:
		return nil, fmt.Errorf("message: unknown kind %d", b[0])
	}
}

// RequiredPackets returns how many fragments m needs at the given
// plaintext size, padding included.
func (m *NymMessage) RequiredPackets(plaintextSize int) (int, error) {
	b, err := m.Bytes()
	if err != nil {
		return 0, err
	}
	return requiredPackets(len(b), plaintextSize), nil
}

func requiredPackets(n, plaintextSize int) int {
	capacity := chunking.PayloadCapacity(plaintextSize)
	if capacity <= 0 {
		return 0
	}
	// one extra byte for the padding marker
	return (n + 1 + capacity - 1) / capacity
}

// Pad appends the padding marker and zero fills to a whole number of
// fragment payloads.
func Pad(b []byte, plaintextSize int) []byte {
	capacity := chunking.PayloadCapacity(plaintextSize)
	total := requiredPackets(len(b), plaintextSize) * capacity
	out := make([]byte, total)
	copy(out, b)
	out[len(b)] = paddingMarker
	return out
}

// Unpad reverses Pad.
func Unpad(b []byte) ([]byte, error) {
	i := bytes.LastIndexByte(b, paddingMarker)
	if i < 0 {
		return nil, ErrInvalidPadding
	}
	for _, v := range b[i+1:] {
		if v != 0 {
			return nil, ErrInvalidPadding
		}
	}
	return b[:i], nil
}

// PadAndSplit serialises, pads and fragments m.
func (m *NymMessage) PadAndSplit(rng io.Reader, plaintextSize int) ([]*chunking.Fragment, error) {
	b, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	return chunking.Split(rng, Pad(b, plaintextSize), plaintextSize)
}
