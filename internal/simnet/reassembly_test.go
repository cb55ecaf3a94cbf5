// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package simnet

import (
	"bytes"
	"math/rand"
	"testing"

	hrand "github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/nymtech/nym-go/nymsphinx/message"
)

func TestReassembler(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	data := bytes.Repeat([]byte("Hey Alice! "), 100)
	fragments, err := message.NewPlain(data).PadAndSplit(hrand.Reader, 200)
	require.NoError(err)
	require.Greater(len(fragments), 2)

	deliveries := make([]*Delivery, 0, 2*len(fragments))
	for _, f := range fragments {
		d := &Delivery{Payload: f.Bytes()}
		// every fragment arrives twice, as after a lost ack
		deliveries = append(deliveries, d, d)
	}
	rand.Shuffle(len(deliveries), func(i, j int) {
		deliveries[i], deliveries[j] = deliveries[j], deliveries[i]
	})

	r := NewReassembler()
	var got []*message.NymMessage
	for _, d := range deliveries {
		m, err := r.Add(d)
		require.NoError(err)
		if m != nil {
			got = append(got, m)
		}
	}
	require.Len(got, 1)
	require.Equal(message.Plain, got[0].Kind)
	require.Equal(data, got[0].Plain)
	require.Equal(1, r.Completed())
	require.Equal(len(fragments), r.Fragments())
	require.Zero(r.Incomplete())
}

func TestReassemblerRejectsGarbage(t *testing.T) {
	t.Parallel()

	r := NewReassembler()
	_, err := r.Add(&Delivery{Payload: []byte{1, 2}})
	require.Error(t, err)

	fragments, err := message.NewPlain([]byte("hello")).PadAndSplit(hrand.Reader, 200)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	forged := *fragments[0]
	forged.Total = 2
	forged.Current = 1
	_, err = r.Add(&Delivery{Payload: (&forged).Bytes()})
	require.NoError(t, err)
	require.Equal(t, 1, r.Incomplete())

	// same set with a different total
	forged.Total = 3
	_, err = r.Add(&Delivery{Payload: (&forged).Bytes()})
	require.Error(t, err)
}
