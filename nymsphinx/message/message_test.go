// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package message

import (
	"bytes"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/nymtech/nym-go/nymsphinx/anonymous"
	"github.com/nymtech/nym-go/nymsphinx/chunking"
)

func TestPadUnpad(t *testing.T) {
	t.Parallel()
	const plaintextSize = 64
	for _, n := range []int{0, 1, 56, 57, 200} {
		msg := bytes.Repeat([]byte{0x02}, n)
		padded := Pad(msg, plaintextSize)
		require.Zero(t, len(padded)%chunking.PayloadCapacity(plaintextSize))
		got, err := Unpad(padded)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}

	_, err := Unpad([]byte{0, 0, 0})
	require.ErrorIs(t, err, ErrInvalidPadding)
}

func TestPadAndSplit(t *testing.T) {
	t.Parallel()
	const plaintextSize = 128
	m := NewPlain(bytes.Repeat([]byte{0x07}, 500))

	n, err := m.RequiredPackets(plaintextSize)
	require.NoError(t, err)

	fragments, err := m.PadAndSplit(rand.Reader, plaintextSize)
	require.NoError(t, err)
	require.Len(t, fragments, n)

	joined, err := chunking.Reassemble(fragments)
	require.NoError(t, err)
	unpadded, err := Unpad(joined)
	require.NoError(t, err)
	got, err := FromBytes(unpadded)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestReplyRoundTrip(t *testing.T) {
	t.Parallel()
	m := NewReply(anonymous.NewReplyData([]byte("pong")))
	b, err := m.Bytes()
	require.NoError(t, err)
	got, err := FromBytes(b)
	require.NoError(t, err)
	require.Equal(t, Reply, got.Kind)
	require.Equal(t, []byte("pong"), got.Reply.Data)

	_, err = FromBytes(nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
}
