package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadServerConfigDefaults(t *testing.T) {
	path := writeTemp(t, "server.toml", `
private_key = "serverkey=="
internal_address = "10.80.0.1"
network_prefix_len = 15
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenPort != 51820 {
		t.Errorf("expected default listen_port 51820, got %d", cfg.ListenPort)
	}
	if cfg.InviteSweepInterval != 10*time.Second {
		t.Errorf("expected default invite_sweep_interval 10s, got %v", cfg.InviteSweepInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level info, got %s", cfg.LogLevel)
	}
}

func TestLoadServerConfigOverridesDefaults(t *testing.T) {
	path := writeTemp(t, "server.toml", `
private_key = "serverkey=="
listen_port = 12345
internal_address = "10.80.0.1"
network_prefix_len = 15
invite_sweep_interval = "30s"
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenPort != 12345 {
		t.Errorf("expected overridden listen_port, got %d", cfg.ListenPort)
	}
	if cfg.InviteSweepInterval != 30*time.Second {
		t.Errorf("expected overridden invite_sweep_interval, got %v", cfg.InviteSweepInterval)
	}
}

func TestLoadServerConfigValidation(t *testing.T) {
	path := writeTemp(t, "server.toml", `
listen_port = 70000
`)

	if _, err := LoadServerConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadInterfaceConfig(t *testing.T) {
	path := writeTemp(t, "interface.toml", `
[interface]
network_name = "home"
private_key = "clientkey=="
address = "10.80.1.5"
prefix = 15
listen_port = 51820

[server]
public_key = "serverpub=="
endpoint = "203.0.113.1:51820"
internal_endpoint = "10.80.0.1:8080"
`)

	cfg, err := LoadInterfaceConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Interface.NetworkName != "home" {
		t.Errorf("unexpected network_name: %s", cfg.Interface.NetworkName)
	}
	if cfg.Server.Endpoint != "203.0.113.1:51820" {
		t.Errorf("unexpected server endpoint: %s", cfg.Server.Endpoint)
	}
}

func TestSaveInterfaceConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interface.toml")
	cfg := &InterfaceConfig{
		Interface: InterfaceSection{
			NetworkName: "home",
			PrivateKey:  "clientkey==",
			Address:     "10.80.1.5",
			Prefix:      15,
			ListenPort:  51820,
		},
		Server: ServerSection{
			PublicKey:        "serverpub==",
			Endpoint:         "203.0.113.1:51820",
			InternalEndpoint: "10.80.0.1:8080",
		},
	}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	reloaded, err := LoadInterfaceConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Interface.PrivateKey != "clientkey==" {
		t.Errorf("round trip lost private_key: %+v", reloaded)
	}
}
