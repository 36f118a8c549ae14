// Package wireguard is the tunnel driver: a small declarative ABI
// (list/get/apply/down) over the kernel WireGuard device, insulating the
// rest of the module from wgctrl.
package wireguard

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// LivePeerInfo is a live peer entry as reported by the kernel device.
type LivePeerInfo struct {
	PublicKey               string
	Endpoint                string
	AllowedIPs              []net.IPNet
	PersistentKeepaliveSecs *uint16
	LastHandshake           time.Time
	ReceiveBytes            int64
	TransmitBytes           int64
}

// Device is the live device snapshot returned by Get.
type Device struct {
	PublicKey  string
	ListenPort int
	Peers      []LivePeerInfo
}

// PeerConfig is a declarative peer entry for Apply. AllowedIPs is set
// verbatim (ReplaceAllowedIPs is always true); Remove deletes the peer
// identified by PublicKey instead of upserting it.
type PeerConfig struct {
	PublicKey               string
	PresharedKey            string
	Endpoint                string
	AllowedIPs              []net.IPNet
	PersistentKeepaliveSecs *uint16
	Remove                  bool
}

// DeviceConfig is a declarative device update for Apply. An empty
// PrivateKey or a nil ListenPort leaves that field untouched. ReplacePeers, when true,
// means Peers is the device's complete peer set (used for initial
// install); when false, Peers is an incremental diff layered onto
// whatever peers already exist.
type DeviceConfig struct {
	PrivateKey   string
	ListenPort   *int
	ReplacePeers bool
	Peers        []PeerConfig
}

// Driver is the tunnel driver ABI (§6): list/get/apply/down. Real
// implementations talk to the kernel via wgctrl; Fake implementations
// back tests.
type Driver interface {
	// List returns the names of present tunnel interfaces.
	List() ([]string, error)
	// Get returns a device snapshot: public key, listen port, and every
	// peer entry (public key, endpoint if known, allowed addresses,
	// last-handshake time, byte counters).
	Get(iface string) (*Device, error)
	// Apply declaratively sets private key / listen port / peer
	// add-or-replace / peer remove-by-key; no partial application is
	// visible to callers.
	Apply(iface string, cfg DeviceConfig) error
	// Down tears down the tunnel interface.
	Down(iface string) error
}

// Manager is the thin, interface-scoped façade the rest of the module
// depends on.
type Manager struct {
	iface  string
	driver Driver
}

func NewManager(iface string, driver Driver) *Manager {
	return &Manager{iface: iface, driver: driver}
}

// Iface returns the name of the interface this manager controls.
func (m *Manager) Iface() string { return m.iface }

// Get returns the live device snapshot.
func (m *Manager) Get() (*Device, error) {
	return m.driver.Get(m.iface)
}

// ListPeers returns the live peer set.
func (m *Manager) ListPeers() ([]LivePeerInfo, error) {
	dev, err := m.driver.Get(m.iface)
	if err != nil {
		return nil, err
	}
	return dev.Peers, nil
}

// Present reports whether this manager's interface is among the tunnel
// driver's currently present interfaces.
func (m *Manager) Present() (bool, error) {
	names, err := m.driver.List()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == m.iface {
			return true, nil
		}
	}
	return false, nil
}

// Install brings up the full desired peer set on a freshly created
// interface: private key, listen port, and every peer, replacing
// whatever peer set (if any) the interface already had.
func (m *Manager) Install(privateKey string, listenPort int, peers []PeerConfig) error {
	return m.driver.Apply(m.iface, DeviceConfig{
		PrivateKey:   privateKey,
		ListenPort:   &listenPort,
		ReplacePeers: true,
		Peers:        peers,
	})
}

// ApplyDiffs layers an incremental peer update (add/update/remove) onto
// the interface's existing peer set.
func (m *Manager) ApplyDiffs(diffs []meshnet.PeerDiff, allowedIPsFor func(publicKey string) []net.IPNet, pskFor func(publicKey string) string) error {
	peers := make([]PeerConfig, 0, len(diffs))
	for _, d := range diffs {
		pc := PeerConfig{PublicKey: d.PublicKey, Remove: d.Remove}
		if !d.Remove {
			pc.Endpoint = d.Endpoint
			pc.PersistentKeepaliveSecs = d.KeepaliveSecs
			pc.AllowedIPs = allowedIPsFor(d.PublicKey)
			pc.PresharedKey = pskFor(d.PublicKey)
		}
		peers = append(peers, pc)
	}
	return m.driver.Apply(m.iface, DeviceConfig{ReplacePeers: false, Peers: peers})
}

// Down tears down every peer on the interface. The interface itself
// (netlink link delete) is outside wgctrl's scope and is not deleted.
func (m *Manager) Down() error {
	return m.driver.Down(m.iface)
}

// GenerateKeyPair generates a new WireGuard Curve25519 key pair.
// Returns (privateKey, publicKey) as base64-encoded strings.
func GenerateKeyPair() (string, string, error) {
	privKey, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate private key: %w", err)
	}
	pubKey := privKey.PublicKey()
	return base64.StdEncoding.EncodeToString(privKey[:]), base64.StdEncoding.EncodeToString(pubKey[:]), nil
}

// PublicKeyFromPrivate derives the base64-encoded public key matching a
// base64-encoded private key, without touching any device — used by the
// CLI to identify "self" for reconciliation when only the saved
// interface config, not a live device query, is available.
func PublicKeyFromPrivate(privateKey string) (string, error) {
	key, err := decodeKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key.PublicKey()[:]), nil
}

// GeneratePSK generates a new WireGuard pre-shared key.
func GeneratePSK() (string, error) {
	key, err := wgtypes.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate psk: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// GenerateRandomID generates a random, URL-safe token with the given
// prefix — used for invitation ids and similar opaque handles.
func GenerateRandomID(prefix string) string {
	b := make([]byte, 9)
	_, _ = rand.Read(b)
	return prefix + base64.RawURLEncoding.EncodeToString(b)
}
