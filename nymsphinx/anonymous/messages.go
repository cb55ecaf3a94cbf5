// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package anonymous

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/nymtech/nym-go/nymsphinx/addressing"
)

// ErrInvalidMessage is returned when a message body cannot be decoded.
var ErrInvalidMessage = errors.New("anonymous: invalid message")

// RepliableContentKind enumerates what a RepliableMessage carries.
type RepliableContentKind uint8

const (
	// RepliableData carries application data plus SURBs.
	RepliableData RepliableContentKind = iota + 1

	// RepliableAdditionalSurbs carries nothing but SURBs.
	RepliableAdditionalSurbs

	// RepliableHeartbeat carries SURBs and tells the receiver we are alive.
	RepliableHeartbeat
)

// RepliableMessage is sent by an anonymous sender to a known recipient.
type RepliableMessage struct {
	SenderTag  AnonymousSenderTag   `cbor:"1,keyasint"`
	Kind       RepliableContentKind `cbor:"2,keyasint"`
	ReplySurbs []*ReplySurb         `cbor:"3,keyasint"`
	Data       []byte               `cbor:"4,keyasint,omitempty"`
}

// NewRepliableData returns a data message carrying surbs.
func NewRepliableData(data []byte, tag AnonymousSenderTag, surbs []*ReplySurb) *RepliableMessage {
	return &RepliableMessage{
		SenderTag:  tag,
		Kind:       RepliableData,
		ReplySurbs: surbs,
		Data:       data,
	}
}

// NewRepliableAdditionalSurbs returns a message replenishing the
// recipient's SURB supply.
func NewRepliableAdditionalSurbs(tag AnonymousSenderTag, surbs []*ReplySurb) *RepliableMessage {
	return &RepliableMessage{
		SenderTag:  tag,
		Kind:       RepliableAdditionalSurbs,
		ReplySurbs: surbs,
	}
}

// Bytes encodes m.
func (m *RepliableMessage) Bytes() ([]byte, error) {
	return cbor.Marshal(m)
}

// RepliableMessageFromBytes decodes a RepliableMessage.
func RepliableMessageFromBytes(b []byte) (*RepliableMessage, error) {
	m := new(RepliableMessage)
	if err := cbor.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch m.Kind {
	case RepliableData, RepliableAdditionalSurbs, RepliableHeartbeat:
	default:
		return nil, ErrInvalidMessage
	}
	return m, nil
}

// ReplyContentKind enumerates what a ReplyMessage carries.
type ReplyContentKind uint8

const (
	// ReplyData carries application data.
	ReplyData ReplyContentKind = iota + 1

	// ReplySurbRequest asks the original sender for more SURBs.
	ReplySurbRequest
)

// ReplyMessage is sent by a recipient to an anonymous sender using a SURB.
type ReplyMessage struct {
	Kind      ReplyContentKind      `cbor:"1,keyasint"`
	Data      []byte                `cbor:"2,keyasint,omitempty"`
	Recipient *addressing.Recipient `cbor:"3,keyasint,omitempty"`
	Amount    uint32                `cbor:"4,keyasint,omitempty"`
}

// NewReplyData returns a data reply.
func NewReplyData(data []byte) *ReplyMessage {
	return &ReplyMessage{Kind: ReplyData, Data: data}
}

// NewSurbRequest returns a request for amount more SURBs. recipient is the
// requester's own address, which the original sender uses to gate the request.
func NewSurbRequest(recipient addressing.Recipient, amount uint32) *ReplyMessage {
	return &ReplyMessage{Kind: ReplySurbRequest, Recipient: &recipient, Amount: amount}
}

// Bytes encodes m.
func (m *ReplyMessage) Bytes() ([]byte, error) {
	return cbor.Marshal(m)
}

// ReplyMessageFromBytes decodes a ReplyMessage.
func ReplyMessageFromBytes(b []byte) (*ReplyMessage, error) {
	m := new(ReplyMessage)
	if err := cbor.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch m.Kind {
	case ReplyData:
	case ReplySurbRequest:
		if m.Recipient == nil {
			return nil, ErrInvalidMessage
		}
	default:
		return nil, ErrInvalidMessage
	}
	return m, nil
}
