package wireguard

// FakeDriver is an in-memory Driver for tests. Grounded on the teacher's
// MockWGClient (internal/wireguard/manager_test.go), widened to the
// list/get/apply/down ABI.
type FakeDriver struct {
	Iface      string
	PublicKey  string
	ListenPort int
	Peers      map[string]LivePeerInfo

	ListErr  error
	GetErr   error
	ApplyErr error
	DownErr  error
}

func NewFakeDriver(iface string) *FakeDriver {
	return &FakeDriver{
		Iface:      iface,
		PublicKey:  "fake-server-pubkey==",
		ListenPort: 51820,
		Peers:      make(map[string]LivePeerInfo),
	}
}

func (f *FakeDriver) List() ([]string, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return []string{f.Iface}, nil
}

func (f *FakeDriver) Get(iface string) (*Device, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	dev := &Device{PublicKey: f.PublicKey, ListenPort: f.ListenPort}
	for _, p := range f.Peers {
		dev.Peers = append(dev.Peers, p)
	}
	return dev, nil
}

func (f *FakeDriver) Apply(iface string, cfg DeviceConfig) error {
	if f.ApplyErr != nil {
		return f.ApplyErr
	}
	if cfg.ReplacePeers {
		f.Peers = make(map[string]LivePeerInfo)
	}
	for _, pc := range cfg.Peers {
		if pc.Remove {
			delete(f.Peers, pc.PublicKey)
			continue
		}
		prev := f.Peers[pc.PublicKey]
		endpoint := pc.Endpoint
		if endpoint == "" {
			endpoint = prev.Endpoint
		}
		keepalive := prev.PersistentKeepaliveSecs
		if pc.PersistentKeepaliveSecs != nil {
			keepalive = pc.PersistentKeepaliveSecs
		}
		f.Peers[pc.PublicKey] = LivePeerInfo{
			PublicKey:               pc.PublicKey,
			Endpoint:                endpoint,
			AllowedIPs:              pc.AllowedIPs,
			PersistentKeepaliveSecs: keepalive,
		}
	}
	return nil
}

func (f *FakeDriver) Down(iface string) error {
	if f.DownErr != nil {
		return f.DownErr
	}
	f.Peers = make(map[string]LivePeerInfo)
	return nil
}

var _ Driver = (*FakeDriver)(nil)
