package meshnet

import "net"

// CIDR is a named subnet in the address plan: either the root (Parent nil)
// or a child fully contained within its parent.
type CIDR struct {
	ID       int64
	Name     string
	Network  net.IPNet
	Parent   *int64
	Disabled bool
}

// Tree is a read-only, in-memory view over a snapshot of the CIDR set. It
// answers containment, overlap, and assignability queries without touching
// the store; callers take a store snapshot (under the store's single
// connection) and build a Tree from it per request.
type Tree struct {
	byID []CIDR
}

// NewTree builds a Tree from a flat CIDR list (any order).
func NewTree(cidrs []CIDR) *Tree {
	return &Tree{byID: cidrs}
}

// All returns every CIDR in the tree.
func (t *Tree) All() []CIDR { return t.byID }

// Get returns the CIDR with the given id, if present.
func (t *Tree) Get(id int64) (CIDR, bool) {
	for _, c := range t.byID {
		if c.ID == id {
			return c, true
		}
	}
	return CIDR{}, false
}

// Root returns the unique CIDR with no parent.
func (t *Tree) Root() (CIDR, bool) {
	for _, c := range t.byID {
		if c.Parent == nil {
			return c, true
		}
	}
	return CIDR{}, false
}

// Children returns the CIDRs whose parent is id, in the order they appear
// in the list the Tree was built from.
func (t *Tree) Children(id int64) []CIDR {
	var out []CIDR
	for _, c := range t.byID {
		if c.Parent != nil && *c.Parent == id {
			out = append(out, c)
		}
	}
	return out
}

// Leaves returns every CIDR with no children, in stable order.
func (t *Tree) Leaves() []CIDR {
	hasChild := make(map[int64]bool, len(t.byID))
	for _, c := range t.byID {
		if c.Parent != nil {
			hasChild[*c.Parent] = true
		}
	}
	var out []CIDR
	for _, c := range t.byID {
		if !hasChild[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// Ancestors returns id and all of its ancestors, root last.
func (t *Tree) Ancestors(id int64) []CIDR {
	var out []CIDR
	cur, ok := t.Get(id)
	for ok {
		out = append(out, cur)
		if cur.Parent == nil {
			break
		}
		cur, ok = t.Get(*cur.Parent)
	}
	return out
}

// Descendants returns every CIDR transitively parented by id (not
// including id itself).
func (t *Tree) Descendants(id int64) []CIDR {
	var out []CIDR
	var walk func(int64)
	walk = func(parent int64) {
		for _, c := range t.Children(parent) {
			out = append(out, c)
			walk(c.ID)
		}
	}
	walk(id)
	return out
}

// Contains reports whether parent's network fully contains child's.
func Contains(parent, child net.IPNet) bool {
	if !parent.Contains(child.IP) {
		return false
	}
	_, lastIP := broadcastRange(child)
	return parent.Contains(lastIP)
}

// Overlaps reports whether two networks intersect at all.
func Overlaps(a, b net.IPNet) bool {
	_, aLast := broadcastRange(a)
	_, bLast := broadcastRange(b)
	return a.Contains(b.IP) || a.Contains(bLast) || b.Contains(a.IP) || b.Contains(aLast)
}

// broadcastRange returns the network address and the broadcast/last
// address of n.
func broadcastRange(n net.IPNet) (network, last net.IP) {
	ip := n.IP.Mask(n.Mask)
	bcast := make(net.IP, len(ip))
	for i := range ip {
		bcast[i] = ip[i] | ^n.Mask[i]
	}
	return ip, bcast
}

// IsAssignable reports whether ip may be assigned to a peer inside cidr:
// true unless ip is the network or broadcast address of a prefix shorter
// than the penultimate length (i.e. not a /31 or /32, or /127 or /128).
func IsAssignable(cidr net.IPNet, ip net.IP) bool {
	ones, bits := cidr.Mask.Size()
	if ones >= bits-1 {
		// point-to-point or host route: every address is assignable.
		return true
	}
	network, broadcast := broadcastRange(cidr)
	return !ip.Equal(network) && !ip.Equal(broadcast)
}

// ClosestAncestor returns, among existing, the CIDR of greatest prefix
// length that contains candidate, breaking ties by smallest id.
func ClosestAncestor(existing []CIDR, candidate net.IPNet) (CIDR, bool) {
	var best CIDR
	found := false
	bestOnes := -1
	for _, c := range existing {
		if !Contains(c.Network, candidate) {
			continue
		}
		ones, _ := c.Network.Mask.Size()
		if !found || ones > bestOnes || (ones == bestOnes && c.ID < best.ID) {
			best = c
			bestOnes = ones
			found = true
		}
	}
	return best, found
}

// OverlapsAnySibling reports whether candidate intersects any CIDR in
// existing that shares the given parent.
func OverlapsAnySibling(existing []CIDR, parent *int64, candidate net.IPNet) bool {
	for _, c := range existing {
		if !sameParentPtr(c.Parent, parent) {
			continue
		}
		if Overlaps(c.Network, candidate) {
			return true
		}
	}
	return false
}

func sameParentPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
