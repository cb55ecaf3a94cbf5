// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package chunking splits padded messages into packet sized fragments.
package chunking

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// FragmentIdentifierLength is the encoded length of a FragmentIdentifier.
	FragmentIdentifierLength = 5

	// HeaderLength is the encoded length of a fragment header: a flag byte,
	// the set id, the total number of fragments and the current position.
	HeaderLength = 7

	// MaxFragmentsPerSet bounds the number of fragments a single message may use.
	MaxFragmentsPerSet = 255

	fragmentFlag = 0x01
)

var (
	// ErrInvalidSetID is returned for a set id that is zero or negative.
	ErrInvalidSetID = errors.New("chunking: invalid set id")

	// ErrInvalidPosition is returned for positions outside [1, total].
	ErrInvalidPosition = errors.New("chunking: invalid fragment position")

	// ErrTruncated is returned when decoding runs out of bytes.
	ErrTruncated = errors.New("chunking: truncated fragment")
)

// FragmentIdentifier names a single fragment: its message set and its
// position within the set.
type FragmentIdentifier struct {
	SetID    int32
	Position uint8
}

// CoverFragmentIdentifier marks packets that carry no real data.
var CoverFragmentIdentifier = FragmentIdentifier{SetID: 0, Position: 0}

// IsCover returns true iff id is the cover sentinel.
func (id FragmentIdentifier) IsCover() bool {
	return id == CoverFragmentIdentifier
}

// Bytes returns the 5 byte big endian encoding of id.
func (id FragmentIdentifier) Bytes() []byte {
	b := make([]byte, FragmentIdentifierLength)
	binary.BigEndian.PutUint32(b, uint32(id.SetID))
	b[4] = id.Position
	return b
}

func (id FragmentIdentifier) String() string {
	if id.IsCover() {
		return "cover"
	}
	return fmt.Sprintf("%d:%d", id.SetID, id.Position)
}

// FragmentIdentifierFromBytes decodes a FragmentIdentifier.
func FragmentIdentifierFromBytes(b []byte) (FragmentIdentifier, error) {
	if len(b) != FragmentIdentifierLength {
		return FragmentIdentifier{}, ErrTruncated
	}
	id := FragmentIdentifier{
		SetID:    int32(binary.BigEndian.Uint32(b)),
		Position: b[4],
	}
	if id.SetID < 0 {
		return FragmentIdentifier{}, ErrInvalidSetID
	}
	return id, nil
}

// Fragment is one slice of a padded message.
type Fragment struct {
	SetID   int32
	Total   uint8
	Current uint8
	Payload []byte
}

// NewFragment validates and returns a fragment.
func NewFragment(setID int32, total, current uint8, payload []byte) (*Fragment, error) {
	if setID <= 0 {
		return nil, ErrInvalidSetID
	}
	if total == 0 || current == 0 || current > total {
		return nil, ErrInvalidPosition
	}
	return &Fragment{
		SetID:   setID,
		Total:   total,
		Current: current,
		Payload: payload,
	}, nil
}

// FragmentIdentifier returns the identifier of f.
func (f *Fragment) FragmentIdentifier() FragmentIdentifier {
	return FragmentIdentifier{SetID: f.SetID, Position: f.Current}
}

// Bytes returns the header and payload of f.
func (f *Fragment) Bytes() []byte {
	b := make([]byte, HeaderLength, HeaderLength+len(f.Payload))
	b[0] = fragmentFlag
	binary.BigEndian.PutUint32(b[1:], uint32(f.SetID))
	b[5] = f.Total
	b[6] = f.Current
	return append(b, f.Payload...)
}

// FragmentFromBytes decodes a fragment produced by Fragment.Bytes.
func FragmentFromBytes(b []byte) (*Fragment, error) {
	if len(b) < HeaderLength {
		return nil, ErrTruncated
	}
	if b[0] != fragmentFlag {
		return nil, fmt.Errorf("chunking: unexpected fragment flag 0x%02x", b[0])
	}
	payload := make([]byte, len(b)-HeaderLength)
	copy(payload, b[HeaderLength:])
	return NewFragment(int32(binary.BigEndian.Uint32(b[1:])), b[5], b[6], payload)
}
