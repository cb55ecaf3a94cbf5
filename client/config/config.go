// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for the client core.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nymtech/nym-go/core/epochtime"
	"github.com/nymtech/nym-go/nymsphinx/params"
)

const (
	defaultLogLevel = "INFO"

	defaultAveragePacketDelay         = 50 * time.Millisecond
	defaultMessageSendingAverageDelay = 20 * time.Millisecond

	defaultLoopCoverTrafficAverageDelay = 200 * time.Millisecond
	defaultCoverTrafficPrimarySizeRatio = 0.70

	defaultAverageAckDelay                = 50 * time.Millisecond
	defaultAckWaitMultiplier              = 1.5
	defaultAckWaitAddition                = 1500 * time.Millisecond
	defaultMaximumNumberOfRetransmissions = 10
	defaultAckSweepInterval               = 100 * time.Millisecond

	defaultMinimumReplySurbStorageThreshold       = 10
	defaultMaximumReplySurbStorageThreshold       = 200
	defaultMinimumReplySurbRequestSize            = 10
	defaultMaximumReplySurbRequestSize            = 100
	defaultMaximumAllowedReplySurbRequestSize     = 500
	defaultMaximumReplySurbRerequestWaitingPeriod = 10 * time.Second
	defaultMaximumReplySurbDropWaitingPeriod      = 5 * time.Minute
	defaultMaximumReplySurbRerequests             = 3
	defaultMaximumReplySurbAge                    = 12 * time.Hour
	defaultMaximumReplyKeyAge                     = 24 * time.Hour
	defaultStaleInspectionInterval                = 5 * time.Second

	defaultOutboundChannelCapacity    = 64
	defaultRealMessageChannelCapacity = 32
	defaultStatusInterval             = 5 * time.Second

	defaultMetricsAddress = "127.0.0.1:6543"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stderr will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Traffic controls the main outbound packet stream.
type Traffic struct {
	// AveragePacketDelay is the average delay a packet spends at each mix hop.
	AveragePacketDelay time.Duration

	// MessageSendingAverageDelay is the average delay between two packets
	// leaving the client.
	MessageSendingAverageDelay time.Duration

	// DisableMainPoissonPacketDistribution sends real packets as soon as
	// they are queued and no cover traffic in their place.
	DisableMainPoissonPacketDistribution bool

	// PrimaryPacketSize is the size used for most packets.
	PrimaryPacketSize params.PacketSize

	// SecondaryPacketSize, if set, is used for messages that need fewer
	// packets with it than with the primary size.
	SecondaryPacketSize params.PacketSize

	// PacketType selects the packet format.
	PacketType params.PacketType

	// DisableMixHops routes packets straight to the destination gateway.
	DisableMixHops bool
}

func (t *Traffic) fixup() {
	if t.AveragePacketDelay == 0 {
		t.AveragePacketDelay = defaultAveragePacketDelay
	}
	if t.MessageSendingAverageDelay == 0 {
		t.MessageSendingAverageDelay = defaultMessageSendingAverageDelay
	}
	if t.PrimaryPacketSize == 0 {
		t.PrimaryPacketSize = params.RegularPacket
	}
}

func (t *Traffic) validate() error {
	if t.AveragePacketDelay < 0 || t.MessageSendingAverageDelay < 0 {
		return errors.New("config: Traffic: delays must not be negative")
	}
	if !t.PrimaryPacketSize.IsValid() || t.PrimaryPacketSize == params.AckPacket {
		return fmt.Errorf("config: Traffic: invalid PrimaryPacketSize %v", t.PrimaryPacketSize)
	}
	if t.SecondaryPacketSize != 0 {
		if !t.SecondaryPacketSize.IsValid() || t.SecondaryPacketSize == params.AckPacket {
			return fmt.Errorf("config: Traffic: invalid SecondaryPacketSize %v", t.SecondaryPacketSize)
		}
		if t.SecondaryPacketSize == t.PrimaryPacketSize {
			t.SecondaryPacketSize = 0
		}
	}
	if t.PacketType == params.OutfoxPacket && t.SecondaryPacketSize != 0 {
		return errors.New("config: Traffic: outfox packets do not support a secondary packet size")
	}
	return nil
}

// CoverTraffic controls the cover traffic streams.
type CoverTraffic struct {
	// LoopCoverTrafficAverageDelay is the average delay between two
	// packets of the independent loop cover stream.
	LoopCoverTrafficAverageDelay time.Duration

	// CoverTrafficPrimarySizeRatio is the fraction of cover packets built
	// with the primary packet size, the rest use the secondary size.
	CoverTrafficPrimarySizeRatio float64

	// DisableLoopCoverTrafficStream disables the independent loop cover stream.
	DisableLoopCoverTrafficStream bool
}

func (c *CoverTraffic) fixup() {
	if c.LoopCoverTrafficAverageDelay == 0 {
		c.LoopCoverTrafficAverageDelay = defaultLoopCoverTrafficAverageDelay
	}
	if c.CoverTrafficPrimarySizeRatio == 0 {
		c.CoverTrafficPrimarySizeRatio = defaultCoverTrafficPrimarySizeRatio
	}
}

func (c *CoverTraffic) validate() error {
	if c.CoverTrafficPrimarySizeRatio < 0 || c.CoverTrafficPrimarySizeRatio > 1 {
		return fmt.Errorf("config: CoverTraffic: CoverTrafficPrimarySizeRatio %v not in [0, 1]", c.CoverTrafficPrimarySizeRatio)
	}
	return nil
}

// Acknowledgements controls ack tracking and retransmission.
type Acknowledgements struct {
	// AverageAckDelay is the average delay an ack spends at each mix hop.
	AverageAckDelay time.Duration

	// AckWaitMultiplier scales the expected round trip of a packet.
	AckWaitMultiplier float64

	// AckWaitAddition is added to the scaled round trip.
	AckWaitAddition time.Duration

	// MaximumNumberOfRetransmissions bounds the resends of a fragment.
	MaximumNumberOfRetransmissions uint32

	// SweepInterval is how often expired acks are looked for.
	SweepInterval time.Duration
}

func (a *Acknowledgements) fixup() {
	if a.AverageAckDelay == 0 {
		a.AverageAckDelay = defaultAverageAckDelay
	}
	if a.AckWaitMultiplier == 0 {
		a.AckWaitMultiplier = defaultAckWaitMultiplier
	}
	if a.AckWaitAddition == 0 {
		a.AckWaitAddition = defaultAckWaitAddition
	}
	if a.MaximumNumberOfRetransmissions == 0 {
		a.MaximumNumberOfRetransmissions = defaultMaximumNumberOfRetransmissions
	}
	if a.SweepInterval == 0 {
		a.SweepInterval = defaultAckSweepInterval
	}
}

func (a *Acknowledgements) validate() error {
	if a.AckWaitMultiplier < 1 {
		return fmt.Errorf("config: Acknowledgements: AckWaitMultiplier %v must be at least 1", a.AckWaitMultiplier)
	}
	if a.SweepInterval < 0 || a.AckWaitAddition < 0 {
		return errors.New("config: Acknowledgements: durations must not be negative")
	}
	return nil
}

// ReplySurbs controls the reply SURB inventory.
type ReplySurbs struct {
	MinimumReplySurbStorageThreshold       int
	MaximumReplySurbStorageThreshold       int
	MinimumReplySurbRequestSize            uint32
	MaximumReplySurbRequestSize            uint32
	MaximumAllowedReplySurbRequestSize     uint32
	MinimumReplySurbThresholdBuffer        int
	MaximumReplySurbRerequestWaitingPeriod time.Duration
	MaximumReplySurbDropWaitingPeriod      time.Duration
	MaximumReplySurbAge                    time.Duration
	MaximumReplyKeyAge                     time.Duration

	// MaximumReplySurbRerequests bounds how many times we ask an
	// unresponsive sender for SURBs before dropping its queued replies.
	MaximumReplySurbRerequests int

	// StaleInspectionInterval is how often stale queues and keys are purged.
	StaleInspectionInterval time.Duration
}

func (r *ReplySurbs) fixup() {
	if r.MinimumReplySurbStorageThreshold == 0 {
		r.MinimumReplySurbStorageThreshold = defaultMinimumReplySurbStorageThreshold
	}
	if r.MaximumReplySurbStorageThreshold == 0 {
		r.MaximumReplySurbStorageThreshold = defaultMaximumReplySurbStorageThreshold
	}
	if r.MinimumReplySurbRequestSize == 0 {
		r.MinimumReplySurbRequestSize = defaultMinimumReplySurbRequestSize
	}
	if r.MaximumReplySurbRequestSize == 0 {
		r.MaximumReplySurbRequestSize = defaultMaximumReplySurbRequestSize
	}
	if r.MaximumAllowedReplySurbRequestSize == 0 {
		r.MaximumAllowedReplySurbRequestSize = defaultMaximumAllowedReplySurbRequestSize
	}
	if r.MaximumReplySurbRerequestWaitingPeriod == 0 {
		r.MaximumReplySurbRerequestWaitingPeriod = defaultMaximumReplySurbRerequestWaitingPeriod
	}
	if r.MaximumReplySurbDropWaitingPeriod == 0 {
		r.MaximumReplySurbDropWaitingPeriod = defaultMaximumReplySurbDropWaitingPeriod
	}
	if r.MaximumReplySurbRerequests == 0 {
		r.MaximumReplySurbRerequests = defaultMaximumReplySurbRerequests
	}
	if r.MaximumReplySurbAge == 0 {
		r.MaximumReplySurbAge = defaultMaximumReplySurbAge
	}
	if r.MaximumReplyKeyAge == 0 {
		r.MaximumReplyKeyAge = defaultMaximumReplyKeyAge
	}
	if r.StaleInspectionInterval == 0 {
		r.StaleInspectionInterval = defaultStaleInspectionInterval
	}
}

func (r *ReplySurbs) validate() error {
	if r.MinimumReplySurbStorageThreshold > r.MaximumReplySurbStorageThreshold {
		return errors.New("config: ReplySurbs: minimum storage threshold exceeds maximum")
	}
	if r.MinimumReplySurbRequestSize > r.MaximumReplySurbRequestSize {
		return errors.New("config: ReplySurbs: minimum request size exceeds maximum")
	}
	if r.MaximumReplySurbRequestSize > r.MaximumAllowedReplySurbRequestSize {
		return errors.New("config: ReplySurbs: maximum request size exceeds the allowed maximum")
	}
	return nil
}

// KeyRotation describes the network epoch schedule.
type KeyRotation struct {
	EpochDuration     time.Duration
	EpochsInRotation  uint32
	InitialEpochID    uint32
	InitialEpochStart time.Time
}

func (k *KeyRotation) fixup() {
	if k.EpochDuration == 0 {
		k.EpochDuration = epochtime.DefaultEpochDuration
	}
	if k.EpochsInRotation == 0 {
		k.EpochsInRotation = epochtime.DefaultEpochsInRotation
	}
}

// ToKeyRotationConfig converts the section into the epochtime representation.
func (k *KeyRotation) ToKeyRotationConfig() epochtime.KeyRotationConfig {
	return epochtime.KeyRotationConfig{
		EpochDuration:     k.EpochDuration,
		EpochsInRotation:  k.EpochsInRotation,
		InitialEpochID:    k.InitialEpochID,
		InitialEpochStart: k.InitialEpochStart,
	}
}

// Debug is the debug configuration.
type Debug struct {
	// OutboundChannelCapacity is the capacity of the channel toward the gateway.
	OutboundChannelCapacity int

	// RealMessageChannelCapacity is the capacity of the channel feeding the
	// outbound scheduler.
	RealMessageChannelCapacity int

	// StatusInterval is how often the scheduler logs its queue state.
	StatusInterval time.Duration
}

func (d *Debug) fixup() {
	if d.OutboundChannelCapacity == 0 {
		d.OutboundChannelCapacity = defaultOutboundChannelCapacity
	}
	if d.RealMessageChannelCapacity == 0 {
		d.RealMessageChannelCapacity = defaultRealMessageChannelCapacity
	}
	if d.StatusInterval == 0 {
		d.StatusInterval = defaultStatusInterval
	}
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enable  bool
	Address string
}

func (m *Metrics) fixup() {
	if m.Address == "" {
		m.Address = defaultMetricsAddress
	}
}

// Config is the top level client core configuration.
type Config struct {
	Logging          *Logging
	Traffic          *Traffic
	CoverTraffic     *CoverTraffic
	Acknowledgements *Acknowledgements
	ReplySurbs       *ReplySurbs
	KeyRotation      *KeyRotation
	Debug            *Debug
	Metrics          *Metrics
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		l := defaultLogging
		c.Logging = &l
	}
	if c.Traffic == nil {
		c.Traffic = new(Traffic)
	}
	if c.CoverTraffic == nil {
		c.CoverTraffic = new(CoverTraffic)
	}
	if c.Acknowledgements == nil {
		c.Acknowledgements = new(Acknowledgements)
	}
	if c.ReplySurbs == nil {
		c.ReplySurbs = new(ReplySurbs)
	}
	if c.KeyRotation == nil {
		c.KeyRotation = new(KeyRotation)
	}
	if c.Debug == nil {
		c.Debug = new(Debug)
	}
	if c.Metrics == nil {
		c.Metrics = new(Metrics)
	}

	c.Traffic.fixup()
	c.CoverTraffic.fixup()
	c.Acknowledgements.fixup()
	c.ReplySurbs.fixup()
	c.KeyRotation.fixup()
	c.Debug.fixup()
	c.Metrics.fixup()

	// Validate/fixup the various sections.
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Traffic.validate(); err != nil {
		return err
	}
	if err := c.CoverTraffic.validate(); err != nil {
		return err
	}
	if err := c.Acknowledgements.validate(); err != nil {
		return err
	}
	return c.ReplySurbs.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)

	err := toml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
