// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package addressing

import (
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
)

func TestRecipientString(t *testing.T) {
	t.Parallel()
	var gw NodeIdentity
	gw[0] = 0x42
	r, err := NewRandomRecipient(rand.Reader, gw)
	require.NoError(t, err)

	parsed, err := RecipientFromString(r.String())
	require.NoError(t, err)
	require.Equal(t, r, parsed)

	text, err := r.MarshalText()
	require.NoError(t, err)
	var fromText Recipient
	require.NoError(t, fromText.UnmarshalText(text))
	require.Equal(t, *r, fromText)
}

func TestRecipientMalformed(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "abc", "aa.bb", "aa.bb@cc", "zz.yy@xx"} {
		_, err := RecipientFromString(s)
		require.Error(t, err, s)
	}
}
