// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package simnet

import (
	"errors"
	"sort"

	"github.com/nymtech/nym-go/nymsphinx/chunking"
	"github.com/nymtech/nym-go/nymsphinx/message"
)

var errFragmentMismatch = errors.New("simnet: fragment does not match its set")

type fragmentSet struct {
	total     uint8
	fragments map[uint8]*chunking.Fragment
}

// byPosition implements sort.Interface for []*chunking.Fragment
type byPosition []*chunking.Fragment

func (a byPosition) Len() int           { return len(a) }
func (a byPosition) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byPosition) Less(i, j int) bool { return a[i].Current < a[j].Current }

// Reassembler rebuilds messages from delivered fragments. Retransmitted
// fragments are deduplicated, as are fragments of already completed sets.
// It is not safe for concurrent use.
type Reassembler struct {
	sets      map[int32]*fragmentSet
	completed map[int32]struct{}
	unique    int
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		sets:      make(map[int32]*fragmentSet),
		completed: make(map[int32]struct{}),
	}
}

// Incomplete returns the number of sets still missing fragments.
func (r *Reassembler) Incomplete() int {
	return len(r.sets)
}

// Completed returns the number of reassembled messages.
func (r *Reassembler) Completed() int {
	return len(r.completed)
}

// Fragments returns the number of distinct fragments seen.
func (r *Reassembler) Fragments() int {
	return r.unique
}

// Add records the fragment carried by d and returns the message once its
// set is complete.
func (r *Reassembler) Add(d *Delivery) (*message.NymMessage, error) {
	f, err := chunking.FragmentFromBytes(d.Payload)
	if err != nil {
		return nil, err
	}
	if _, ok := r.completed[f.SetID]; ok {
		return nil, nil
	}

	set, ok := r.sets[f.SetID]
	if !ok {
		set = &fragmentSet{
			total:     f.Total,
			fragments: make(map[uint8]*chunking.Fragment),
		}
		r.sets[f.SetID] = set
	}
	if f.Total != set.total {
		return nil, errFragmentMismatch
	}
	if _, ok := set.fragments[f.Current]; !ok {
		set.fragments[f.Current] = f
		r.unique++
	}
	if len(set.fragments) != int(set.total) {
		return nil, nil
	}

	delete(r.sets, f.SetID)
	r.completed[f.SetID] = struct{}{}

	ordered := make([]*chunking.Fragment, 0, len(set.fragments))
	for _, frag := range set.fragments {
		ordered = append(ordered, frag)
	}
	sort.Sort(byPosition(ordered))
	padded, err := chunking.Reassemble(ordered)
	if err != nil {
		return nil, err
	}
	b, err := message.Unpad(padded)
	if err != nil {
		return nil, err
	}
	return message.FromBytes(b)
}
