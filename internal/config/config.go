// Package config loads the node configuration from a TOML file with
// sensible defaults. The ledger constants configured here are fixed at
// deployment; the node never mutates them at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/relves/hermod/pkg/ledger"
	"github.com/relves/hermod/pkg/types"
)

// Node holds daemon-level settings.
type Node struct {
	// DataPath is the state directory.
	DataPath string
	// Listen is the HTTP listen address.
	Listen string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// BlockInterval is the wall-clock duration of one height unit, e.g.
	// "6s". The block loop advances the height and sweeps on this cadence.
	BlockInterval string
}

// Ledger holds the deployment constants of the state machine.
type Ledger struct {
	MaxMessageLength    int
	MessageTTL          uint64
	MaxGroupMembers     int
	MaxGroupNameLength  int
	MaxInboxMessages    int
	MaxOutboxMessages   int
	MaxGroupsPerAccount int
	MaxGroupMessages    int
	// AdminPolicy is "owner" or "member".
	AdminPolicy string
}

// Config is the root configuration document.
type Config struct {
	Node   Node
	Ledger Ledger

	blockInterval time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	lc := ledger.DefaultConfig()
	return &Config{
		Node: Node{
			DataPath:      "./data",
			Listen:        ":8080",
			LogLevel:      "info",
			BlockInterval: "6s",
		},
		Ledger: Ledger{
			MaxMessageLength:    lc.MaxMessageLength,
			MessageTTL:          uint64(lc.MessageTTL),
			MaxGroupMembers:     lc.MaxGroupMembers,
			MaxGroupNameLength:  lc.MaxGroupNameLength,
			MaxInboxMessages:    lc.MaxInboxMessages,
			MaxOutboxMessages:   lc.MaxOutboxMessages,
			MaxGroupsPerAccount: lc.MaxGroupsPerAccount,
			MaxGroupMessages:    lc.MaxGroupMessages,
			AdminPolicy:         "owner",
		},
	}
}

// Load reads the TOML file at path, overlaying the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the document and resolves derived values.
func (c *Config) Validate() error {
	interval, err := time.ParseDuration(c.Node.BlockInterval)
	if err != nil {
		return fmt.Errorf("invalid BlockInterval %q: %w", c.Node.BlockInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("BlockInterval must be positive, got %s", interval)
	}
	c.blockInterval = interval

	if c.Node.DataPath == "" {
		return fmt.Errorf("DataPath must not be empty")
	}
	if c.Node.Listen == "" {
		return fmt.Errorf("Listen must not be empty")
	}
	switch c.Ledger.AdminPolicy {
	case "owner", "member":
	default:
		return fmt.Errorf("AdminPolicy must be \"owner\" or \"member\", got %q", c.Ledger.AdminPolicy)
	}

	lc, err := c.LedgerConfig()
	if err != nil {
		return err
	}
	return lc.Validate()
}

// BlockInterval returns the parsed block cadence. Valid after Validate.
func (c *Config) BlockInterval() time.Duration {
	return c.blockInterval
}

// LedgerConfig maps the document to the state machine's configuration.
func (c *Config) LedgerConfig() (ledger.Config, error) {
	policy := ledger.PolicyOwnerOnly
	switch c.Ledger.AdminPolicy {
	case "owner":
	case "member":
		policy = ledger.PolicyAnyMember
	default:
		return ledger.Config{}, fmt.Errorf("unknown admin policy %q", c.Ledger.AdminPolicy)
	}
	return ledger.Config{
		MaxMessageLength:    c.Ledger.MaxMessageLength,
		MessageTTL:          types.Height(c.Ledger.MessageTTL),
		MaxGroupMembers:     c.Ledger.MaxGroupMembers,
		MaxGroupNameLength:  c.Ledger.MaxGroupNameLength,
		MaxInboxMessages:    c.Ledger.MaxInboxMessages,
		MaxOutboxMessages:   c.Ledger.MaxOutboxMessages,
		MaxGroupsPerAccount: c.Ledger.MaxGroupsPerAccount,
		MaxGroupMessages:    c.Ledger.MaxGroupMessages,
		AdminPolicy:         policy,
	}, nil
}
