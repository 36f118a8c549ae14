package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/innernet-go/meshnet/internal/config"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

// BuildInvitation assembles the interface config an invitation file
// carries: the assigned address and coordinator details, with the private
// key left empty for Install to fill in. meshnetctl add-peer writes this
// out as the invitation file.
func BuildInvitation(networkName, address string, prefix int, serverPublicKey, serverEndpoint, serverInternalEndpoint string) *config.InterfaceConfig {
	return &config.InterfaceConfig{
		Interface: config.InterfaceSection{
			NetworkName: networkName,
			Address:     address,
			Prefix:      prefix,
		},
		Server: config.ServerSection{
			PublicKey:        serverPublicKey,
			Endpoint:         serverEndpoint,
			InternalEndpoint: serverInternalEndpoint,
		},
	}
}

// WriteInvitation writes cfg to path as an invitation file.
func WriteInvitation(cfg *config.InterfaceConfig, path string) error {
	return config.Save(path, cfg)
}

// WriteInvitationQR renders invitePath's TOML contents as a PNG QR code
// at qrPath, letting a peer be provisioned by scanning a phone camera
// instead of transferring the file. Grounded on the teacher's
// handleGetTunnelQR (qrcode.Encode at Medium recovery, 512px).
func WriteInvitationQR(invitePath, qrPath string) error {
	data, err := os.ReadFile(invitePath)
	if err != nil {
		return fmt.Errorf("read invitation %s: %w", invitePath, err)
	}
	png, err := qrcode.Encode(string(data), qrcode.Medium, 512)
	if err != nil {
		return fmt.Errorf("encode invitation QR: %w", err)
	}
	tmp := qrPath + ".tmp"
	if err := os.WriteFile(tmp, png, 0o644); err != nil {
		return fmt.Errorf("write temp invitation QR: %w", err)
	}
	if err := os.Rename(tmp, qrPath); err != nil {
		return fmt.Errorf("rename invitation QR into place: %w", err)
	}
	return nil
}

// Install redeems an invitation file in place: generates a fresh
// WireGuard keypair, exchanges the placeholder for the real public key
// with the coordinator, fills in the resulting private key, and brings
// up the local interface with the coordinator as its sole initial peer.
func Install(ctx context.Context, invitePath string, mgr *wireguard.Manager, listenPort int) (*config.InterfaceConfig, error) {
	cfg, err := config.LoadInterfaceConfig(invitePath)
	if err != nil {
		return nil, fmt.Errorf("load invitation %s: %w", invitePath, err)
	}

	privKey, pubKey, err := wireguard.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	api := NewAPIClient(cfg.Server.InternalEndpoint, cfg.Server.PublicKey)
	if _, err := api.Redeem(ctx, pubKey); err != nil {
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}

	cfg.Interface.PrivateKey = privKey
	cfg.Interface.ListenPort = listenPort
	if err := config.Save(invitePath, cfg); err != nil {
		return nil, fmt.Errorf("save installed config: %w", err)
	}

	peer := wireguard.PeerConfig{
		PublicKey:  cfg.Server.PublicKey,
		Endpoint:   cfg.Server.Endpoint,
		AllowedIPs: serverHostRoute(cfg.Server.InternalEndpoint),
	}
	if err := mgr.Install(privKey, listenPort, []wireguard.PeerConfig{peer}); err != nil {
		return nil, fmt.Errorf("install interface: %w", err)
	}

	return cfg, nil
}

// serverHostRoute resolves the coordinator's own mesh address out of its
// internal endpoint (host:port) into a single /32 or /128 route — the
// only address reachable on the interface before the first reconcile
// fetches the rest of the peer set. Grounded on the original installer's
// use of config.server.internal_endpoint.ip() as the coordinator's sole
// initial AllowedIPs entry.
func serverHostRoute(internalEndpoint string) []net.IPNet {
	host := internalEndpoint
	if u, err := url.Parse(internalEndpoint); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(internalEndpoint); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	bits := 32
	v4 := ip.To4()
	if v4 != nil {
		ip = v4
	} else {
		bits = 128
	}
	return []net.IPNet{{IP: ip, Mask: net.CIDRMask(bits, bits)}}
}
