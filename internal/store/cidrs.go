package store

import (
	"database/sql"
	"errors"
	"net"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// CIDRStore is the durable custody of the address plan's CIDR set.
// Grounded on original_source/server/src/db/cidr.rs (DatabaseCidr).
type CIDRStore struct {
	db *DB
}

func NewCIDRStore(db *DB) *CIDRStore { return &CIDRStore{db: db} }

func scanCIDR(row interface{ Scan(...any) error }) (meshnet.CIDR, error) {
	var (
		c       meshnet.CIDR
		ipStr   string
		prefix  int
		parent  sql.NullInt64
		disable int
	)
	if err := row.Scan(&c.ID, &c.Name, &ipStr, &prefix, &parent, &disable); err != nil {
		return meshnet.CIDR{}, err
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return meshnet.CIDR{}, errors.New("corrupt cidr ip in store: " + ipStr)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	c.Network = net.IPNet{IP: ip, Mask: net.CIDRMask(prefix, bits)}
	if parent.Valid {
		p := parent.Int64
		c.Parent = &p
	}
	c.Disabled = disable != 0
	return c, nil
}

const cidrColumns = "id, name, ip, prefix, parent, is_disabled"

// Create validates name/placement/overlap invariants and inserts a new CIDR.
func (s *CIDRStore) Create(name string, network net.IPNet, parent *int64) (meshnet.CIDR, error) {
	conn := s.db.Conn()

	if parent != nil {
		var attachedPeers int
		if err := conn.QueryRow("SELECT COUNT(*) FROM peers WHERE cidr_id = ?", *parent).Scan(&attachedPeers); err != nil {
			return meshnet.CIDR{}, meshnet.Internal("count attached peers", err)
		}
		if attachedPeers > 0 {
			return meshnet.CIDR{}, meshnet.InvalidQuery("cannot add a CIDR under a parent that has peers assigned to it")
		}
	}

	existing, err := s.List()
	if err != nil {
		return meshnet.CIDR{}, err
	}

	if parent != nil {
		closest, ok := meshnet.ClosestAncestor(existing, network)
		if !ok {
			return meshnet.CIDR{}, meshnet.InvalidQuery("cidr is outside the root network range")
		}
		if closest.ID != *parent {
			return meshnet.CIDR{}, meshnet.InvalidQuery("cidr does not belong under the given parent; closest ancestor is " + closest.Name)
		}
		if !meshnet.Contains(closest.Network, network) {
			return meshnet.CIDR{}, meshnet.InvalidQuery("cidr network range falls outside its parent")
		}
	}

	if meshnet.OverlapsAnySibling(existing, parent, network) {
		return meshnet.CIDR{}, meshnet.InvalidQuery("cidr overlaps with a sibling")
	}

	ones, _ := network.Mask.Size()
	res, err := conn.Exec("INSERT INTO cidrs (name, ip, prefix, parent) VALUES (?, ?, ?, ?)",
		name, network.IP.String(), ones, parent)
	if err != nil {
		return meshnet.CIDR{}, meshnet.InvalidQuery("constraint violation creating cidr: " + err.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return meshnet.CIDR{}, meshnet.Internal("last insert id", err)
	}

	return meshnet.CIDR{ID: id, Name: name, Network: network, Parent: parent}, nil
}

// Rename updates only a CIDR's display name.
func (s *CIDRStore) Rename(id int64, name string) error {
	res, err := s.db.Conn().Exec("UPDATE cidrs SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return meshnet.InvalidQuery("constraint violation renaming cidr: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("cidr not found")
	}
	return nil
}

// SetDisabled disables or re-enables a CIDR. Disabling is permitted only
// if the CIDR contains no enabled peers (invariant 7).
func (s *CIDRStore) SetDisabled(id int64, disabled bool) error {
	conn := s.db.Conn()
	if disabled {
		var enabledPeers int
		if err := conn.QueryRow(
			"SELECT COUNT(*) FROM peers WHERE cidr_id = ? AND is_disabled = 0", id,
		).Scan(&enabledPeers); err != nil {
			return meshnet.Internal("count enabled peers", err)
		}
		if enabledPeers > 0 {
			return meshnet.InvalidQuery("cannot disable a cidr containing enabled peers")
		}
	}
	res, err := conn.Exec("UPDATE cidrs SET is_disabled = ? WHERE id = ?", disabled, id)
	if err != nil {
		return meshnet.Internal("update cidr", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("cidr not found")
	}
	return nil
}

// Delete removes a CIDR. Permitted only if it has no children and no peers
// (invariant 7).
func (s *CIDRStore) Delete(id int64) error {
	conn := s.db.Conn()

	var children, peers int
	if err := conn.QueryRow("SELECT COUNT(*) FROM cidrs WHERE parent = ?", id).Scan(&children); err != nil {
		return meshnet.Internal("count child cidrs", err)
	}
	if children > 0 {
		return meshnet.InvalidQuery("cannot delete a cidr with children")
	}
	if err := conn.QueryRow("SELECT COUNT(*) FROM peers WHERE cidr_id = ?", id).Scan(&peers); err != nil {
		return meshnet.Internal("count peers", err)
	}
	if peers > 0 {
		return meshnet.InvalidQuery("cannot delete a cidr with peers")
	}

	res, err := conn.Exec("DELETE FROM cidrs WHERE id = ?", id)
	if err != nil {
		return meshnet.Internal("delete cidr", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("cidr not found")
	}
	return nil
}

// Get fetches a single CIDR by id.
func (s *CIDRStore) Get(id int64) (meshnet.CIDR, error) {
	row := s.db.Conn().QueryRow("SELECT "+cidrColumns+" FROM cidrs WHERE id = ?", id)
	c, err := scanCIDR(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meshnet.CIDR{}, meshnet.NotFound("cidr not found")
		}
		return meshnet.CIDR{}, meshnet.Internal("get cidr", err)
	}
	return c, nil
}

// List returns every CIDR.
func (s *CIDRStore) List() ([]meshnet.CIDR, error) {
	rows, err := s.db.Conn().Query("SELECT " + cidrColumns + " FROM cidrs")
	if err != nil {
		return nil, meshnet.Internal("list cidrs", err)
	}
	defer rows.Close()

	var out []meshnet.CIDR
	for rows.Next() {
		c, err := scanCIDR(rows)
		if err != nil {
			return nil, meshnet.Internal("scan cidr", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Root returns the unique parent-less CIDR.
func (s *CIDRStore) Root() (meshnet.CIDR, error) {
	row := s.db.Conn().QueryRow("SELECT " + cidrColumns + " FROM cidrs WHERE parent IS NULL")
	c, err := scanCIDR(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meshnet.CIDR{}, meshnet.NotFound("no root cidr")
		}
		return meshnet.CIDR{}, meshnet.Internal("get root cidr", err)
	}
	return c, nil
}
