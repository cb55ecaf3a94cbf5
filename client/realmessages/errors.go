// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"context"
	"errors"
	"fmt"

	"github.com/nymtech/nym-go/client/replystorage"
	"github.com/nymtech/nym-go/nymsphinx/anonymous"
)

var (
	// ErrChannelClosed is returned by a task whose input channel was closed
	// while it was not shutting down.
	ErrChannelClosed = errors.New("realmessages: channel closed unexpectedly")

	// ErrNoTopology is returned when no network topology is available.
	ErrNoTopology = errors.New("realmessages: no valid topology")
)

// channelClosed is what a task returns when one of its input channels is
// closed: nil if ctx is already cancelled, ErrChannelClosed otherwise.
func channelClosed(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	return ErrChannelClosed
}

// PreparationErrorKind classifies a PreparationError.
type PreparationErrorKind uint8

const (
	// TopologyError means no route could be built.
	TopologyError PreparationErrorKind = iota

	// MessageTooLongForSingleSurb means a message that must fit a single
	// reply SURB needed more packets.
	MessageTooLongForSingleSurb

	// NotEnoughSurbs means we lack the reply SURBs to send a reply.
	NotEnoughSurbs

	// PacketError means the packet codec failed.
	PacketError
)

// PreparationError is returned when a message could not be turned into
// packets. Any reply SURBs taken for the attempt are attached so that the
// caller can put them back.
type PreparationError struct {
	Kind PreparationErrorKind
	Err  error

	Fragments int
	Available int
	Required  int

	ReturnedSurbs []*anonymous.ReplySurb
}

func (e *PreparationError) Error() string {
	var s string
	switch e.Kind {
	case TopologyError:
		s = fmt.Sprintf("invalid topology: %v", e.Err)
	case MessageTooLongForSingleSurb:
		s = fmt.Sprintf("message too long for a single SURB, splitting into %d fragments", e.Fragments)
	case NotEnoughSurbs:
		s = fmt.Sprintf("not enough reply SURBs to send the message, available: %d required: %d", e.Available, e.Required)
	default:
		s = fmt.Sprintf("failed to prepare packet: %v", e.Err)
	}
	if len(e.ReturnedSurbs) > 0 {
		s = fmt.Sprintf("%s. %d reply surbs will be returned", s, len(e.ReturnedSurbs))
	}
	return s
}

func (e *PreparationError) Unwrap() error {
	return e.Err
}

func (e *PreparationError) withSurbs(surbs []*anonymous.ReplySurb) *PreparationError {
	e.ReturnedSurbs = append(e.ReturnedSurbs, surbs...)
	return e
}

func topologyError(err error) *PreparationError {
	return &PreparationError{Kind: TopologyError, Err: err}
}

func packetError(err error) *PreparationError {
	var pe *PreparationError
	if errors.As(err, &pe) {
		return pe
	}
	return &PreparationError{Kind: PacketError, Err: err}
}

// returnUnusedSurbs puts the SURBs attached to err back into storage and
// returns err without them. taken are the SURBs as they came out of
// storage, so the returned ones keep their received time and pile.
func returnUnusedSurbs(err error, storage *replystorage.ReceivedReplySurbsMap, tag anonymous.AnonymousSenderTag, taken []replystorage.ReceivedReplySurb) error {
	var pe *PreparationError
	if !errors.As(err, &pe) || len(pe.ReturnedSurbs) == 0 {
		return err
	}
	unused := make(map[*anonymous.ReplySurb]struct{}, len(pe.ReturnedSurbs))
	for _, s := range pe.ReturnedSurbs {
		unused[s] = struct{}{}
	}
	var back []replystorage.ReceivedReplySurb
	for _, t := range taken {
		if _, ok := unused[t.Surb]; ok {
			back = append(back, t)
		}
	}
	storage.ReturnUnusedSurbs(tag, back)
	pe.ReturnedSurbs = nil
	return pe
}
