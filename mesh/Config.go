/*
File Name:  Config.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

YAML-backed configuration with an embedded default, mirroring the
teacher's Config.go: LoadConfig reads an on-disk override if present and
falls back to the embedded default otherwise, so a fresh install always
has a complete, valid configuration.
*/

package mesh

import (
	_ "embed"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bitchat-mesh/mesh/forward"
	"github.com/bitchat-mesh/mesh/noise"
	"github.com/bitchat-mesh/mesh/protocol"
	"github.com/bitchat-mesh/mesh/router"
)

//go:embed default.yaml
var defaultConfigYAML []byte

// Config is the on-disk configuration for a mesh service instance.
type Config struct {
	Nickname                   string `yaml:"nickname"`
	TTLDefault                 uint8  `yaml:"ttl_default"`
	DedupWindowSeconds         int    `yaml:"dedup_window_seconds"`
	DedupCapacity              int    `yaml:"dedup_capacity"`
	FragmentDeadlineSeconds    int    `yaml:"fragment_deadline_seconds"`
	FragmentArenaCapacity      int    `yaml:"fragment_arena_capacity"`
	RekeyAgeMinutes            int    `yaml:"rekey_age_minutes"`
	RekeyMessagesInitiator     uint64 `yaml:"rekey_messages_initiator"`
	RekeyMessagesResponder     uint64 `yaml:"rekey_messages_responder"`
	ForwardMaxPerRecipient     int    `yaml:"forward_max_per_recipient"`
	ForwardMaxTotalBytes       int    `yaml:"forward_max_total_bytes"`
	ForwardTTLHours            int    `yaml:"forward_ttl_hours"`
	KeepaliveIntervalSeconds   int    `yaml:"keepalive_interval_seconds"`
	MaintenanceIntervalSeconds int    `yaml:"maintenance_interval_seconds"`
	CompressionEnabled         bool   `yaml:"compression_enabled"`
	PeerQuietTimeoutMinutes    int    `yaml:"peer_quiet_timeout_minutes"`
	LogFile                    string `yaml:"log_file"`
}

// DefaultPeerQuietTimeout is how long a peer may go without an ANNOUNCE
// or NOISE_IDENTITY_ANNOUNCE before its directory entry is evicted.
const DefaultPeerQuietTimeout = 10 * time.Minute

// DefaultConfig parses the embedded default.yaml.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads path if it exists, overlaying it onto the embedded
// default; if path does not exist the embedded default is returned
// unmodified.
func LoadConfig(path string) (Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func (c Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// routerConfig derives the router's tunables from the YAML config.
func (c Config) routerConfig() router.Config {
	cfg := router.DefaultConfig()
	if c.TTLDefault != 0 {
		cfg.TTLDefault = c.TTLDefault
	} else {
		cfg.TTLDefault = protocol.DefaultTTL
	}
	if c.DedupWindowSeconds > 0 {
		cfg.DedupWindow = time.Duration(c.DedupWindowSeconds) * time.Second
	}
	if c.DedupCapacity > 0 {
		cfg.DedupCapacity = c.DedupCapacity
	}
	if c.FragmentDeadlineSeconds > 0 {
		cfg.FragmentDeadline = time.Duration(c.FragmentDeadlineSeconds) * time.Second
	}
	if c.FragmentArenaCapacity > 0 {
		cfg.FragmentArenaCapacity = c.FragmentArenaCapacity
	}
	return cfg
}

// noiseConfig derives the Noise session manager's rekey thresholds.
func (c Config) noiseConfig() noise.Config {
	cfg := noise.DefaultConfig()
	if c.RekeyAgeMinutes > 0 {
		cfg.RekeyAge = time.Duration(c.RekeyAgeMinutes) * time.Minute
	}
	if c.RekeyMessagesInitiator > 0 {
		cfg.RekeyMessagesInitiator = c.RekeyMessagesInitiator
	}
	if c.RekeyMessagesResponder > 0 {
		cfg.RekeyMessagesResponder = c.RekeyMessagesResponder
	}
	return cfg
}

// forwardConfig derives the store-and-forward cache's bounds.
func (c Config) forwardConfig() forward.Config {
	cfg := forward.DefaultConfig()
	if c.ForwardMaxPerRecipient > 0 {
		cfg.MaxPerRecipient = c.ForwardMaxPerRecipient
	}
	if c.ForwardMaxTotalBytes > 0 {
		cfg.MaxTotalBytes = c.ForwardMaxTotalBytes
	}
	if c.ForwardTTLHours > 0 {
		cfg.TTL = time.Duration(c.ForwardTTLHours) * time.Hour
	}
	return cfg
}
