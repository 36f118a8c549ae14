package meshnet

import "testing"

func TestIsValidPeerName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"laptop", true},
		{"laptop-2", true},
		{"Laptop", false},
		{"-laptop", false},
		{"laptop-", false},
		{"", false},
		{"has_underscore", false},
	}
	for _, c := range cases {
		if got := IsValidPeerName(c.name); got != c.want {
			t.Errorf("IsValidPeerName(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestIsValidPeerNameLengthBound(t *testing.T) {
	long := ""
	for i := 0; i < 64; i++ {
		long += "a"
	}
	if IsValidPeerName(long) {
		t.Fatal("expected 64-char name to be rejected")
	}
}

func TestPeerDiffEndpointChange(t *testing.T) {
	ep := Endpoint{Host: "198.51.100.1", Port: 51820}
	p := Peer{PublicKey: "abc", Endpoint: &ep}

	diff := p.Diff(LivePeer{PublicKey: "abc", Endpoint: "203.0.113.1:51820"}, "198.51.100.1:51820")
	if diff == nil {
		t.Fatal("expected a diff when endpoint changed")
	}
	if diff.Endpoint != "198.51.100.1:51820" {
		t.Fatalf("unexpected endpoint in diff: %q", diff.Endpoint)
	}
}

func TestPeerDiffNoChange(t *testing.T) {
	ep := Endpoint{Host: "198.51.100.1", Port: 51820}
	p := Peer{PublicKey: "abc", Endpoint: &ep}

	diff := p.Diff(LivePeer{PublicKey: "abc", Endpoint: "198.51.100.1:51820"}, "198.51.100.1:51820")
	if diff != nil {
		t.Fatalf("expected no diff, got %+v", diff)
	}
}

func TestPeerDiffKeepaliveUnchangedIsIdempotent(t *testing.T) {
	secs := uint16(25)
	p := Peer{PublicKey: "abc", PersistentKeepaliveSecs: &secs}

	diff := p.Diff(LivePeer{PublicKey: "abc", KeepaliveSecs: &secs}, "")
	if diff != nil {
		t.Fatalf("expected no diff when live keepalive already matches, got %+v", diff)
	}
}

func TestPeerDiffKeepaliveChange(t *testing.T) {
	want := uint16(25)
	have := uint16(10)
	p := Peer{PublicKey: "abc", PersistentKeepaliveSecs: &want}

	diff := p.Diff(LivePeer{PublicKey: "abc", KeepaliveSecs: &have}, "")
	if diff == nil {
		t.Fatal("expected a diff when keepalive changed")
	}
	if diff.KeepaliveSecs == nil || *diff.KeepaliveSecs != want {
		t.Fatalf("unexpected keepalive in diff: %+v", diff.KeepaliveSecs)
	}
}
