package meshnet

import (
	"net"
	"regexp"
	"time"
)

// peerNameRE matches the conservative hostname grammar peer names must
// conform to: lowercase letters, digits, interior hyphens.
var peerNameRE = regexp.MustCompile(`^([a-z0-9]-?)*[a-z0-9]$`)

// IsValidPeerName reports whether name satisfies the hostname(7)-derived
// grammar and length bound peer names are held to.
func IsValidPeerName(name string) bool {
	return len(name) > 0 && len(name) < 64 && peerNameRE.MatchString(name)
}

// Peer is a member of the mesh: either the coordinator itself (conventionally
// living in the infra CIDR) or a client.
type Peer struct {
	ID                      int64
	Name                    string
	IP                      net.IP
	CIDRID                  int64
	PublicKey               string
	Endpoint                *Endpoint
	Candidates              []Endpoint
	PersistentKeepaliveSecs *uint16
	IsAdmin                 bool
	IsDisabled              bool
	IsRedeemed              bool
	InviteExpires           *time.Time
}

// LivePeer is the subset of a tunnel driver's live peer snapshot needed to
// diff against an authoritative Peer.
type LivePeer struct {
	PublicKey     string
	Endpoint      string // resolved transport address, empty if none
	KeepaliveSecs *uint16
	LastHandshake time.Time
}

// PeerDiff is the minimal declarative update needed to bring a tunnel
// driver's peer entry in line with an authoritative Peer, when something
// changed.
type PeerDiff struct {
	PublicKey     string
	Endpoint      string // resolved transport address to set; empty = no change
	KeepaliveSecs *uint16
	Remove        bool
}

// Diff compares p against its live tunnel entry and returns a PeerDiff
// describing what must change, or nil if nothing needs to change.
// resolvedEndpoint is p's declared endpoint already resolved to a transport
// address by the caller; an empty string leaves the endpoint unchanged.
func (p Peer) Diff(live LivePeer, resolvedEndpoint string) *PeerDiff {
	var endpointDiff string
	if p.Endpoint != nil && resolvedEndpoint != "" && resolvedEndpoint != live.Endpoint {
		endpointDiff = resolvedEndpoint
	}

	var keepaliveDiff *uint16
	if !equalKeepalive(p.PersistentKeepaliveSecs, live.KeepaliveSecs) {
		keepaliveDiff = p.PersistentKeepaliveSecs
	}

	if endpointDiff == "" && keepaliveDiff == nil {
		return nil
	}
	return &PeerDiff{
		PublicKey:     p.PublicKey,
		Endpoint:      endpointDiff,
		KeepaliveSecs: keepaliveDiff,
		Remove:        p.IsDisabled,
	}
}

func equalKeepalive(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
