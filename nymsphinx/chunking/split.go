// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package chunking

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrMessageTooLong is returned when a message would need more than
// MaxFragmentsPerSet fragments.
var ErrMessageTooLong = errors.New("chunking: message needs too many fragments")

// PayloadCapacity returns the number of message bytes that fit into a single
// fragment built for the given plaintext size.
func PayloadCapacity(plaintextSize int) int {
	return plaintextSize - HeaderLength
}

// RandomSetID draws a fresh, strictly positive set id.
func RandomSetID(rng io.Reader) (int32, error) {
	var b [4]byte
	for {
		if _, err := io.ReadFull(rng, b[:]); err != nil {
			return 0, err
		}
		id := int32(binary.BigEndian.Uint32(b[:]) & 0x7fffffff)
		if id != 0 {
			return id, nil
		}
	}
}

// Split cuts an already padded message into fragments of equal payload
// length. The set id is drawn from rng; for a fixed set id the split is
// deterministic.
func Split(rng io.Reader, message []byte, plaintextSize int) ([]*Fragment, error) {
	setID, err := RandomSetID(rng)
	if err != nil {
		return nil, err
	}
	return SplitWithSetID(setID, message, plaintextSize)
}

// SplitWithSetID is Split with a caller chosen set id.
func SplitWithSetID(setID int32, message []byte, plaintextSize int) ([]*Fragment, error) {
	capacity := PayloadCapacity(plaintextSize)
	if capacity <= 0 {
		return nil, errors.New("chunking: plaintext size too small for a fragment header")
	}

	n := (len(message) + capacity - 1) / capacity
	if n == 0 {
		n = 1
	}
	if n > MaxFragmentsPerSet {
		return nil, ErrMessageTooLong
	}

	fragments := make([]*Fragment, 0, n)
	for i := 0; i < n; i++ {
		lo := i * capacity
		hi := lo + capacity
		if hi > len(message) {
			hi = len(message)
		}
		chunk := make([]byte, hi-lo)
		copy(chunk, message[lo:hi])
		f, err := NewFragment(setID, uint8(n), uint8(i+1), chunk)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}

// Reassemble joins a complete, ordered set of fragments back into a message.
func Reassemble(fragments []*Fragment) ([]byte, error) {
	if len(fragments) == 0 {
		return nil, ErrTruncated
	}
	total := fragments[0].Total
	if int(total) != len(fragments) {
		return nil, ErrInvalidPosition
	}
	var out []byte
	for i, f := range fragments {
		if f.SetID != fragments[0].SetID || int(f.Current) != i+1 {
			return nil, ErrInvalidPosition
		}
		out = append(out, f.Payload...)
	}
	return out, nil
}
