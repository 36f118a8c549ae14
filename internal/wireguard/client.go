package wireguard

import (
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func resolveUDPAddr(endpoint string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint %q: %w", endpoint, err)
	}
	return addr, nil
}

// RealDriver implements Driver over the kernel WireGuard device via
// wgctrl-go. Each call opens and closes its own netlink socket rather
// than holding one open, matching the teacher's lazy-per-call approach.
type RealDriver struct{}

func NewRealDriver() *RealDriver { return &RealDriver{} }

func decodeKey(s string) (wgtypes.Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("decode key: %w", err)
	}
	var k wgtypes.Key
	if len(b) != len(k) {
		return wgtypes.Key{}, fmt.Errorf("decode key: wrong length %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (d *RealDriver) Get(iface string) (*Device, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("wgctrl.New: %w", err)
	}
	defer client.Close()

	dev, err := client.Device(iface)
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", iface, err)
	}

	out := &Device{
		PublicKey:  base64.StdEncoding.EncodeToString(dev.PublicKey[:]),
		ListenPort: dev.ListenPort,
	}
	for _, p := range dev.Peers {
		var endpoint string
		if p.Endpoint != nil {
			endpoint = p.Endpoint.String()
		}
		var keepalive *uint16
		if p.PersistentKeepaliveInterval > 0 {
			secs := uint16(p.PersistentKeepaliveInterval / time.Second)
			keepalive = &secs
		}
		out.Peers = append(out.Peers, LivePeerInfo{
			PublicKey:               base64.StdEncoding.EncodeToString(p.PublicKey[:]),
			Endpoint:                endpoint,
			AllowedIPs:              p.AllowedIPs,
			PersistentKeepaliveSecs: keepalive,
			LastHandshake:           p.LastHandshakeTime,
			ReceiveBytes:            p.ReceiveBytes,
			TransmitBytes:           p.TransmitBytes,
		})
	}
	return out, nil
}

func (d *RealDriver) List() ([]string, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("wgctrl.New: %w", err)
	}
	defer client.Close()

	devices, err := client.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names, nil
}

func (d *RealDriver) Apply(iface string, cfg DeviceConfig) error {
	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("wgctrl.New: %w", err)
	}
	defer client.Close()

	wgCfg := wgtypes.Config{ReplacePeers: cfg.ReplacePeers}

	if cfg.PrivateKey != "" {
		key, err := decodeKey(cfg.PrivateKey)
		if err != nil {
			return err
		}
		wgCfg.PrivateKey = &key
	}
	wgCfg.ListenPort = cfg.ListenPort

	for _, pc := range cfg.Peers {
		pubKey, err := decodeKey(pc.PublicKey)
		if err != nil {
			return err
		}
		peerCfg := wgtypes.PeerConfig{
			PublicKey:         pubKey,
			Remove:            pc.Remove,
			ReplaceAllowedIPs: true,
			AllowedIPs:        pc.AllowedIPs,
		}
		if pc.PresharedKey != "" {
			psk, err := decodeKey(pc.PresharedKey)
			if err != nil {
				return err
			}
			peerCfg.PresharedKey = &psk
		}
		if pc.Endpoint != "" {
			addr, err := resolveUDPAddr(pc.Endpoint)
			if err != nil {
				return err
			}
			peerCfg.Endpoint = addr
		}
		if pc.PersistentKeepaliveSecs != nil {
			d := time.Duration(*pc.PersistentKeepaliveSecs) * time.Second
			peerCfg.PersistentKeepaliveInterval = &d
		}
		wgCfg.Peers = append(wgCfg.Peers, peerCfg)
	}

	return client.ConfigureDevice(iface, wgCfg)
}

func (d *RealDriver) Down(iface string) error {
	return d.Apply(iface, DeviceConfig{ReplacePeers: true, Peers: nil})
}
