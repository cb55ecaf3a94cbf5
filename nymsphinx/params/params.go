// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package params holds the packet geometry shared by every nymsphinx package.
package params

import (
	"fmt"
	"strings"
)

// DefaultNumMixHops is the number of mix layers a packet traverses, not
// counting the ingress and egress gateways.
const DefaultNumMixHops = 3

const (
	// HeaderOverhead is the sphinx header size for DefaultNumMixHops.
	HeaderOverhead = 365

	// PayloadOverhead is the per-payload authentication tag.
	PayloadOverhead = 16

	// NodeAddressLength is the length of an encoded node address.
	NodeAddressLength = 32
)

// PacketType distinguishes the packet formats a client may speak.
type PacketType uint8

const (
	// MixPacket is a plain sphinx packet.
	MixPacket PacketType = iota

	// OutfoxPacket is an outfox formatted packet.
	OutfoxPacket
)

func (t PacketType) String() string {
	switch t {
	case MixPacket:
		return "mix"
	case OutfoxPacket:
		return "outfox"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *PacketType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "mix", "":
		*t = MixPacket
	case "outfox":
		*t = OutfoxPacket
	default:
		return fmt.Errorf("params: unknown packet type '%s'", b)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t PacketType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// PacketSize enumerates the supported packet sizes.
type PacketSize uint8

const (
	// RegularPacket is the default size used for most traffic.
	RegularPacket PacketSize = iota + 1

	// AckPacket carries nothing but an encrypted fragment identifier.
	AckPacket

	// ExtendedPacket8 has an 8KiB plaintext.
	ExtendedPacket8

	// ExtendedPacket16 has a 16KiB plaintext.
	ExtendedPacket16

	// ExtendedPacket32 has a 32KiB plaintext.
	ExtendedPacket32

	// OutfoxRegularPacket is the outfox equivalent of RegularPacket.
	OutfoxRegularPacket
)

var packetSizeNames = map[PacketSize]string{
	RegularPacket:       "regular",
	AckPacket:           "ack",
	ExtendedPacket8:     "extended8",
	ExtendedPacket16:    "extended16",
	ExtendedPacket32:    "extended32",
	OutfoxRegularPacket: "outfox",
}

// PlaintextSize returns the number of bytes available to the payload.
func (s PacketSize) PlaintextSize() int {
	switch s {
	case AckPacket:
		return 48
	case RegularPacket, OutfoxRegularPacket:
		return 2048
	case ExtendedPacket8:
		return 8 * 1024
	case ExtendedPacket16:
		return 16 * 1024
	case ExtendedPacket32:
		return 32 * 1024
	default:
		return 0
	}
}

// Size returns the total on-wire packet size.
func (s PacketSize) Size() int {
	if s.PlaintextSize() == 0 {
		return 0
	}
	return HeaderOverhead + PayloadOverhead + s.PlaintextSize()
}

// IsValid returns true iff s names a known size.
func (s PacketSize) IsValid() bool {
	_, ok := packetSizeNames[s]
	return ok
}

func (s PacketSize) String() string {
	if n, ok := packetSizeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("PacketSize(%d)", uint8(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PacketSize) UnmarshalText(b []byte) error {
	want := strings.ToLower(string(b))
	for k, v := range packetSizeNames {
		if v == want {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("params: unknown packet size '%s'", b)
}

// MarshalText implements encoding.TextMarshaler.
func (s PacketSize) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("params: invalid packet size %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// PacketSizeFromWireLength recovers the PacketSize a packet of n bytes was built with.
func PacketSizeFromWireLength(n int) (PacketSize, error) {
	for k := range packetSizeNames {
		if k == OutfoxRegularPacket {
			continue
		}
		if k.Size() == n {
			return k, nil
		}
	}
	return 0, fmt.Errorf("params: no packet size matches length %d", n)
}
