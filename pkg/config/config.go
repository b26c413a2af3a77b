// Package config loads the validator's YAML configuration: which shard
// group this node serves, how it persists state, how long HotStuff waits
// before giving up on a round, and where its metrics are exposed.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shardfabric/dancore/pkg/types"
)

// Config holds a single validator process's configuration.
type Config struct {
	Environment string `yaml:"environment"`

	ShardGroup ShardGroupSettings `yaml:"shard_group"`
	Storage    StorageSettings    `yaml:"storage"`
	Consensus  ConsensusSettings  `yaml:"consensus"`
	Metrics    MetricsSettings    `yaml:"metrics"`
	Logging    LoggingSettings    `yaml:"logging"`
}

// ShardGroupSettings identifies the key-space partition this node's
// committee owns and the validator's own key material within it.
type ShardGroupSettings struct {
	Start             uint32 `yaml:"start"`
	End               uint32 `yaml:"end"`
	ValidatorID       string `yaml:"validator_id"`
	Ed25519KeyPath    string `yaml:"ed25519_key_path"`
	Network           uint8  `yaml:"network"`
}

// ShardGroup converts the configured bounds into types.ShardGroup.
func (s ShardGroupSettings) ShardGroup() types.ShardGroup {
	return types.ShardGroup{Start: s.Start, End: s.End}
}

// StorageSettings picks and tunes the State Store backend (§4.1).
type StorageSettings struct {
	Backend            string   `yaml:"backend"` // "postgres" or "memdb"
	DatabaseURL        string   `yaml:"database_url"`
	DataDir            string   `yaml:"data_dir"`
	MaxOpenConns       int      `yaml:"max_open_conns"`
	MaxIdleConns       int      `yaml:"max_idle_conns"`
	ConnMaxLifetime    Duration `yaml:"conn_max_lifetime"`
	PendingDiffGCDepth int      `yaml:"pending_diff_gc_depth"`
}

// ConsensusSettings tunes the HotStuff driver's pacing.
type ConsensusSettings struct {
	ProposalTimeout     Duration `yaml:"proposal_timeout"`
	VoteTimeout         Duration `yaml:"vote_timeout"`
	ViewChangeTimeout   Duration `yaml:"view_change_timeout"`
	MaxProposalTxCount  int      `yaml:"max_proposal_tx_count"`
	MaxHeightLookahead  uint64   `yaml:"max_height_lookahead"`
}

// MetricsSettings controls the Prometheus exposition endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingSettings controls the stdlib-backed per-subsystem loggers.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// Duration wraps time.Duration so YAML carries human-readable values
// ("5s", "250ms") instead of raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} with
// the process environment before the document is parsed as YAML.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads and parses a YAML config file, substituting ${VAR} entries
// from the environment first, then applies defaults for anything left
// unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memdb"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 25
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = Duration(time.Hour)
	}
	if c.Storage.PendingDiffGCDepth == 0 {
		c.Storage.PendingDiffGCDepth = 64
	}
	if c.Consensus.ProposalTimeout == 0 {
		c.Consensus.ProposalTimeout = Duration(3 * time.Second)
	}
	if c.Consensus.VoteTimeout == 0 {
		c.Consensus.VoteTimeout = Duration(2 * time.Second)
	}
	if c.Consensus.ViewChangeTimeout == 0 {
		c.Consensus.ViewChangeTimeout = Duration(10 * time.Second)
	}
	if c.Consensus.MaxProposalTxCount == 0 {
		c.Consensus.MaxProposalTxCount = 500
	}
	if c.Consensus.MaxHeightLookahead == 0 {
		c.Consensus.MaxHeightLookahead = 1000
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "0.0.0.0:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate checks the fields required to start a validator are present
// and internally consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.ShardGroup.End <= c.ShardGroup.Start {
		errs = append(errs, "shard_group.end must be greater than shard_group.start")
	}
	if c.ShardGroup.ValidatorID == "" {
		errs = append(errs, "shard_group.validator_id is required")
	}
	if c.ShardGroup.Ed25519KeyPath == "" {
		errs = append(errs, "shard_group.ed25519_key_path is required")
	}

	switch c.Storage.Backend {
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "storage.database_url is required when storage.backend is postgres")
		}
	case "memdb":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of postgres, memdb", c.Storage.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
