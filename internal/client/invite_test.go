package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/innernet-go/meshnet/internal/config"
	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

func TestBuildAndWriteInvitation(t *testing.T) {
	cfg := BuildInvitation("home", "10.42.0.5", 24, "server-pubkey", "203.0.113.1:51820", "http://10.42.0.1:8080")

	dir := t.TempDir()
	invitePath := filepath.Join(dir, "invite.toml")
	if err := WriteInvitation(cfg, invitePath); err != nil {
		t.Fatalf("write invitation: %v", err)
	}

	reloaded, err := config.LoadInterfaceConfig(invitePath)
	if err != nil {
		t.Fatalf("reload invitation: %v", err)
	}
	if reloaded.Interface.Address != "10.42.0.5" || reloaded.Server.PublicKey != "server-pubkey" {
		t.Fatalf("unexpected reloaded invitation: %+v", reloaded)
	}
}

func TestWriteInvitationQR(t *testing.T) {
	cfg := BuildInvitation("home", "10.42.0.5", 24, "server-pubkey", "203.0.113.1:51820", "http://10.42.0.1:8080")

	dir := t.TempDir()
	invitePath := filepath.Join(dir, "invite.toml")
	if err := WriteInvitation(cfg, invitePath); err != nil {
		t.Fatalf("write invitation: %v", err)
	}

	qrPath := filepath.Join(dir, "invite.png")
	if err := WriteInvitationQR(invitePath, qrPath); err != nil {
		t.Fatalf("write invitation qr: %v", err)
	}
}

func TestInstallRedeemsAndBringsUpInterface(t *testing.T) {
	var redeemedKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PublicKey string `json:"public_key"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		redeemedKey = body.PublicKey
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meshnet.Peer{PublicKey: body.PublicKey, IsRedeemed: true})
	}))
	defer server.Close()

	cfg := BuildInvitation("home", "10.42.0.5", 24, "server-pubkey", "203.0.113.1:51820", server.URL)
	dir := t.TempDir()
	invitePath := filepath.Join(dir, "invite.toml")
	if err := WriteInvitation(cfg, invitePath); err != nil {
		t.Fatalf("write invitation: %v", err)
	}

	driver := wireguard.NewFakeDriver("wg0")
	mgr := wireguard.NewManager("wg0", driver)

	installed, err := Install(context.Background(), invitePath, mgr, 51820)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if installed.Interface.PrivateKey == "" {
		t.Fatalf("expected generated private key to be saved")
	}
	if redeemedKey == "" {
		t.Fatalf("expected a public key to be redeemed with the coordinator")
	}
	if _, ok := driver.Peers["server-pubkey"]; !ok {
		t.Fatalf("expected coordinator to be installed as initial peer, got %+v", driver.Peers)
	}
}
