// Package config loads the server and client-side interface TOML
// configuration files via koanf, in place of the env-var loader this
// codebase otherwise favors (see DESIGN.md for why this one concern
// breaks from the teacher's pattern).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ServerConfig is the coordinator's own TOML configuration: its
// WireGuard identity, the network it administers, and its ambient
// knobs (store location, API listen address, log level, sweep
// interval).
type ServerConfig struct {
	PrivateKey          string        `koanf:"private_key"`
	ListenPort          int           `koanf:"listen_port"`
	InternalAddress     string        `koanf:"internal_address"`
	NetworkPrefixLen    int           `koanf:"network_prefix_len"`
	DatabasePath        string        `koanf:"database_path"`
	APIListenAddr       string        `koanf:"api_listen_addr"`
	LogLevel            string        `koanf:"log_level"`
	InviteSweepInterval time.Duration `koanf:"invite_sweep_interval"`
	EndpointPollInterval time.Duration `koanf:"endpoint_poll_interval"`
}

var serverDefaults = map[string]interface{}{
	"listen_port":            51820,
	"database_path":          "meshnet.db",
	"api_listen_addr":        ":8080",
	"log_level":              "info",
	"invite_sweep_interval":  "10s",
	"endpoint_poll_interval": "10s",
}

// LoadServerConfig reads path as TOML, layering it over the built-in
// defaults, and validates the result.
func LoadServerConfig(path string) (*ServerConfig, error) {
	ko := koanf.New(".")
	if err := ko.Load(confmap.Provider(serverDefaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load server config defaults: %w", err)
	}
	if err := ko.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("load server config %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := ko.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate accumulates every violation it finds rather than stopping at
// the first, so an operator sees the whole list of problems in one run.
func (c *ServerConfig) Validate() error {
	var errs []string
	if c.PrivateKey == "" {
		errs = append(errs, "private_key is required")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		errs = append(errs, "listen_port must be between 1 and 65535")
	}
	if c.InternalAddress == "" {
		errs = append(errs, "internal_address is required")
	}
	if c.NetworkPrefixLen <= 0 || c.NetworkPrefixLen > 32 {
		errs = append(errs, "network_prefix_len must be between 1 and 32")
	}
	if c.DatabasePath == "" {
		errs = append(errs, "database_path is required")
	}
	if c.InviteSweepInterval <= 0 {
		errs = append(errs, "invite_sweep_interval must be positive")
	}
	if c.EndpointPollInterval <= 0 {
		errs = append(errs, "endpoint_poll_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid server config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InterfaceSection is the client's own WireGuard identity and address
// assignment within the mesh.
type InterfaceSection struct {
	NetworkName string `koanf:"network_name"`
	PrivateKey  string `koanf:"private_key"`
	Address     string `koanf:"address"`
	Prefix      int    `koanf:"prefix"`
	ListenPort  int    `koanf:"listen_port"`
}

// ServerSection is what the client knows about the coordinator it talks to.
type ServerSection struct {
	PublicKey        string `koanf:"public_key"`
	Endpoint         string `koanf:"endpoint"`
	InternalEndpoint string `koanf:"internal_endpoint"`
}

// InterfaceConfig is the client-side TOML file: both the on-disk
// interface config written by install/up and the shape an invitation
// file carries before it is redeemed.
type InterfaceConfig struct {
	Interface InterfaceSection `koanf:"interface"`
	Server    ServerSection    `koanf:"server"`
}

// LoadInterfaceConfig reads path (an interface config or an unredeemed
// invitation file — both share this shape) as TOML.
func LoadInterfaceConfig(path string) (*InterfaceConfig, error) {
	ko := koanf.New(".")
	if err := ko.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("load interface config %s: %w", path, err)
	}

	var cfg InterfaceConfig
	if err := ko.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal interface config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields an installed (redeemed) interface config
// must carry. An unredeemed invitation is allowed to have an empty
// Interface.PrivateKey (the install command fills it in).
func (c *InterfaceConfig) Validate() error {
	var errs []string
	if c.Interface.NetworkName == "" {
		errs = append(errs, "interface.network_name is required")
	}
	if c.Interface.Address == "" {
		errs = append(errs, "interface.address is required")
	}
	if c.Interface.Prefix <= 0 || c.Interface.Prefix > 32 {
		errs = append(errs, "interface.prefix must be between 1 and 32")
	}
	if c.Server.PublicKey == "" {
		errs = append(errs, "server.public_key is required")
	}
	if c.Server.Endpoint == "" {
		errs = append(errs, "server.endpoint is required")
	}
	if c.Server.InternalEndpoint == "" {
		errs = append(errs, "server.internal_endpoint is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid interface config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Save marshals cfg back to TOML and writes it to path atomically
// (temp file in the same directory, then rename), with mode 0600 —
// used both by the install command rewriting an invitation's private
// key field and by any command that updates the listen port or
// server-reported endpoint.
func Save(path string, cfg *InterfaceConfig) error {
	ko := koanf.New(".")
	if err := ko.Load(confmap.Provider(map[string]interface{}{
		"interface": map[string]interface{}{
			"network_name": cfg.Interface.NetworkName,
			"private_key":  cfg.Interface.PrivateKey,
			"address":      cfg.Interface.Address,
			"prefix":       cfg.Interface.Prefix,
			"listen_port":  cfg.Interface.ListenPort,
		},
		"server": map[string]interface{}{
			"public_key":        cfg.Server.PublicKey,
			"endpoint":          cfg.Server.Endpoint,
			"internal_endpoint": cfg.Server.InternalEndpoint,
		},
	}, "."), nil); err != nil {
		return fmt.Errorf("stage interface config: %w", err)
	}

	data, err := ko.Marshal(toml.Parser())
	if err != nil {
		return fmt.Errorf("marshal interface config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp interface config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename interface config into place: %w", err)
	}
	return nil
}
