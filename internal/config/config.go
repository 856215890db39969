package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/glogos/glogos/internal/logging"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// NodeConfig captures runtime settings for an attestation node.
type NodeConfig struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
		MaxBodyBytes           int64  `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Storage struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
	} `yaml:"storage"`

	DAG struct {
		DanglingPolicy       string `yaml:"dangling_policy"`
		MaxDepth             int    `yaml:"max_depth"`
		MaxNodes             int    `yaml:"max_nodes"`
		PendingLimit         int    `yaml:"pending_limit"`
		PendingTTLSeconds    int    `yaml:"pending_ttl_seconds"`
		VerifyWorkers        int    `yaml:"verify_workers"`
		MaxFutureSkewSeconds int    `yaml:"max_future_skew_seconds"`
	} `yaml:"dag"`

	Security struct {
		WriteToken       string   `yaml:"write_token"`
		TrustedCIDRs     []string `yaml:"trusted_cidrs"`
		EnforceSecureTLS *bool    `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Registry struct {
		ZonesPath string `yaml:"zones_path"`
	} `yaml:"registry"`

	Replication struct {
		PollIntervalSeconds int          `yaml:"poll_interval_seconds"`
		BatchSize           int          `yaml:"batch_size"`
		MaxBackoffSeconds   int          `yaml:"max_backoff_seconds"`
		RequiredAcks        int          `yaml:"required_acks"`
		MaxBacklog          int          `yaml:"max_backlog"`
		Peers               []PeerConfig `yaml:"peers"`
	} `yaml:"replication"`

	Logging struct {
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
		Region  string `yaml:"region"`
		NodeID  string `yaml:"node_id"`
		Level   string `yaml:"level"`
	} `yaml:"logging"`
}

type PeerConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	WriteToken     string `yaml:"write_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LoadNode reads and validates node config from disk.
func LoadNode(path string) (*NodeConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node config: %w", err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse node config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *NodeConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8340"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 20
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 8 << 20
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 15
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	c.DAG.DanglingPolicy = strings.ToLower(c.DAG.DanglingPolicy)
	if c.DAG.DanglingPolicy == "" {
		c.DAG.DanglingPolicy = "reject"
	}
	if c.DAG.MaxDepth == 0 {
		c.DAG.MaxDepth = 1000
	}
	if c.DAG.MaxNodes == 0 {
		c.DAG.MaxNodes = 100000
	}
	if c.DAG.PendingLimit == 0 {
		c.DAG.PendingLimit = 10000
	}
	if c.DAG.PendingTTLSeconds == 0 {
		c.DAG.PendingTTLSeconds = 3600
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Replication.PollIntervalSeconds <= 0 {
		c.Replication.PollIntervalSeconds = 5
	}
	if c.Replication.BatchSize <= 0 {
		c.Replication.BatchSize = 100
	}
	if c.Replication.MaxBackoffSeconds <= 0 {
		c.Replication.MaxBackoffSeconds = 300
	}
	if c.Replication.MaxBacklog <= 0 {
		c.Replication.MaxBacklog = 100000
	}
	if c.Replication.RequiredAcks <= 0 {
		c.Replication.RequiredAcks = len(c.Replication.Peers)
	}
	for i := range c.Replication.Peers {
		if c.Replication.Peers[i].TimeoutSeconds <= 0 {
			c.Replication.Peers[i].TimeoutSeconds = 10
		}
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "glogos-node"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *NodeConfig) validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) && !isLoopbackHost(dsnHost(c.Storage.PostgresDSN)) {
			return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full for non-loopback hosts when enforce_secure_transport is enabled")
		}
		if c.Storage.MinConns > c.Storage.MaxConns {
			return errors.New("storage.min_conns must not exceed storage.max_conns")
		}
	default:
		return errors.New("storage.driver must be one of memory|sqlite|postgres")
	}
	switch c.DAG.DanglingPolicy {
	case "reject", "pending":
	default:
		return errors.New("dag.dangling_policy must be one of reject|pending")
	}
	if c.DAG.MaxDepth < 0 || c.DAG.MaxNodes < 0 || c.DAG.PendingLimit < 0 || c.DAG.PendingTTLSeconds < 0 {
		return errors.New("dag.max_depth, dag.max_nodes, dag.pending_limit and dag.pending_ttl_seconds must be positive")
	}
	if c.DAG.VerifyWorkers < 0 {
		return errors.New("dag.verify_workers must not be negative")
	}
	if c.DAG.MaxFutureSkewSeconds < 0 {
		return errors.New("dag.max_future_skew_seconds must not be negative")
	}
	if *c.Security.EnforceSecureTLS && bindsAllInterfaces(c.Server.Listen) && c.Security.WriteToken == "" {
		return errors.New("security.write_token is required when server.listen binds all interfaces")
	}
	for i, cidr := range c.Security.TrustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("security.trusted_cidrs[%d] is invalid: %w", i, err)
		}
	}
	if c.Replication.RequiredAcks > len(c.Replication.Peers) {
		return errors.New("replication.required_acks must not exceed the number of peers")
	}
	seen := make(map[string]bool, len(c.Replication.Peers))
	for i, peer := range c.Replication.Peers {
		if peer.Name == "" || peer.URL == "" {
			return fmt.Errorf("replication.peers[%d] name and url are required", i)
		}
		if seen[peer.Name] {
			return fmt.Errorf("replication.peers[%d] duplicate name %q", i, peer.Name)
		}
		seen[peer.Name] = true
		if !isHTTPURL(peer.URL) {
			return fmt.Errorf("replication.peers[%d] url must be http or https", i)
		}
		if *c.Security.EnforceSecureTLS && !isHTTPSURL(peer.URL) && !isLoopbackHost(urlHost(peer.URL)) {
			return fmt.Errorf("replication.peers[%d] url must use https when enforce_secure_transport is enabled", i)
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (c *NodeConfig) expandEnv() {
	c.Storage.SQLitePath = os.ExpandEnv(strings.TrimSpace(c.Storage.SQLitePath))
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Security.WriteToken = os.ExpandEnv(strings.TrimSpace(c.Security.WriteToken))
	c.Registry.ZonesPath = os.ExpandEnv(strings.TrimSpace(c.Registry.ZonesPath))
	c.Logging.NodeID = os.ExpandEnv(strings.TrimSpace(c.Logging.NodeID))
	for i := range c.Replication.Peers {
		c.Replication.Peers[i].URL = os.ExpandEnv(strings.TrimSpace(c.Replication.Peers[i].URL))
		c.Replication.Peers[i].WriteToken = os.ExpandEnv(strings.TrimSpace(c.Replication.Peers[i].WriteToken))
	}
}

func boolPtr(v bool) *bool {
	return &v
}
