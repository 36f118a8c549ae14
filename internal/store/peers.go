package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// PeerStore is the durable custody of the peer set and the visibility
// query that serves the state endpoint. Grounded on
// original_source/server/src/db/peer.rs (DatabasePeer).
type PeerStore struct {
	db *DB
}

func NewPeerStore(db *DB) *PeerStore { return &PeerStore{db: db} }

const peerColumns = "id, name, ip, cidr_id, public_key, endpoint, is_admin, is_disabled, is_redeemed, invite_expires, endpoint_candidates, keepalive_secs"

func scanPeer(row interface{ Scan(...any) error }) (meshnet.Peer, error) {
	var (
		p             meshnet.Peer
		ipStr         string
		endpointStr   sql.NullString
		inviteExpires sql.NullInt64
		candidatesStr sql.NullString
		keepalive     sql.NullInt64
		isAdmin       int
		isDisabled    int
		isRedeemed    int
	)
	if err := row.Scan(&p.ID, &p.Name, &ipStr, &p.CIDRID, &p.PublicKey, &endpointStr,
		&isAdmin, &isDisabled, &isRedeemed, &inviteExpires, &candidatesStr, &keepalive); err != nil {
		return meshnet.Peer{}, err
	}

	p.IP = net.ParseIP(ipStr)
	p.IsAdmin = isAdmin != 0
	p.IsDisabled = isDisabled != 0
	p.IsRedeemed = isRedeemed != 0

	if endpointStr.Valid && endpointStr.String != "" {
		if ep, err := meshnet.ParseEndpoint(endpointStr.String); err == nil {
			p.Endpoint = &ep
		}
	}
	if inviteExpires.Valid {
		t := time.Unix(inviteExpires.Int64, 0)
		p.InviteExpires = &t
	}
	if candidatesStr.Valid && candidatesStr.String != "" {
		var raw []string
		if err := json.Unmarshal([]byte(candidatesStr.String), &raw); err == nil {
			for _, r := range raw {
				if ep, err := meshnet.ParseEndpoint(r); err == nil {
					p.Candidates = append(p.Candidates, ep)
				}
			}
		}
	}
	if keepalive.Valid {
		v := uint16(keepalive.Int64)
		p.PersistentKeepaliveSecs = &v
	}

	return p, nil
}

// CreatePeer validates name/placement/assignability invariants and inserts
// a new peer row. The redeemed flag and public key are stored as given in
// p: an invitation is created unredeemed with a placeholder key that
// redemption replaces, while the coordinator's own row is created redeemed.
func (s *PeerStore) CreatePeer(p meshnet.Peer, cidr meshnet.CIDR) (meshnet.Peer, error) {
	if !meshnet.IsValidPeerName(p.Name) {
		return meshnet.Peer{}, meshnet.InvalidQuery("peer name must match the hostname grammar and be under 64 characters")
	}
	if !cidr.Network.Contains(p.IP) {
		return meshnet.Peer{}, meshnet.InvalidQuery("peer ip lies outside its parent cidr")
	}
	if !meshnet.IsAssignable(cidr.Network, p.IP) {
		return meshnet.Peer{}, meshnet.InvalidQuery("peer ip is the network or broadcast address of its parent cidr")
	}

	now := time.Now().Unix()
	var endpointVal any
	if p.Endpoint != nil {
		endpointVal = p.Endpoint.String()
	}
	var inviteVal any
	if p.InviteExpires != nil {
		inviteVal = p.InviteExpires.Unix()
	}

	res, err := s.db.Conn().Exec(
		`INSERT INTO peers (name, ip, cidr_id, public_key, endpoint, is_admin, is_disabled, is_redeemed, invite_expires, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.IP.String(), cidr.ID, p.PublicKey, endpointVal, p.IsAdmin, p.IsDisabled, p.IsRedeemed, inviteVal, now, now,
	)
	if err != nil {
		return meshnet.Peer{}, meshnet.InvalidQuery("constraint violation creating peer: " + err.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return meshnet.Peer{}, meshnet.Internal("last insert id", err)
	}
	p.ID = id
	p.CIDRID = cidr.ID
	return p, nil
}

// UpdatePeer allows changing only name, endpoint, admin flag, and disabled
// flag — never IP, public key, or parent CIDR (redemption and re-parenting
// are handled by dedicated operations).
func (s *PeerStore) UpdatePeer(id int64, name string, endpoint *meshnet.Endpoint, isAdmin, isDisabled bool) error {
	if !meshnet.IsValidPeerName(name) {
		return meshnet.InvalidQuery("peer name must match the hostname grammar and be under 64 characters")
	}
	var endpointVal any
	if endpoint != nil {
		endpointVal = endpoint.String()
	}
	res, err := s.db.Conn().Exec(
		`UPDATE peers SET name = ?, endpoint = ?, is_admin = ?, is_disabled = ?, updated_at = ? WHERE id = ?`,
		name, endpointVal, isAdmin, isDisabled, time.Now().Unix(), id,
	)
	if err != nil {
		return meshnet.InvalidQuery("constraint violation updating peer: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("peer not found")
	}
	return nil
}

// SetCandidates replaces a peer's reported candidate endpoint list.
func (s *PeerStore) SetCandidates(id int64, candidates []meshnet.Endpoint) error {
	raw := make([]string, len(candidates))
	for i, c := range candidates {
		raw[i] = c.String()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return meshnet.Internal("marshal candidates", err)
	}
	res, err := s.db.Conn().Exec("UPDATE peers SET endpoint_candidates = ?, updated_at = ? WHERE id = ?", string(data), time.Now().Unix(), id)
	if err != nil {
		return meshnet.Internal("update candidates", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("peer not found")
	}
	return nil
}

// SetEndpoint sets or clears a peer's declared endpoint.
func (s *PeerStore) SetEndpoint(id int64, endpoint *meshnet.Endpoint) error {
	var endpointVal any
	if endpoint != nil {
		endpointVal = endpoint.String()
	}
	res, err := s.db.Conn().Exec("UPDATE peers SET endpoint = ?, updated_at = ? WHERE id = ?", endpointVal, time.Now().Unix(), id)
	if err != nil {
		return meshnet.Internal("update endpoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("peer not found")
	}
	return nil
}

// Disable soft-disables a peer. Peers are never hard-deleted.
func (s *PeerStore) Disable(id int64) error {
	res, err := s.db.Conn().Exec("UPDATE peers SET is_disabled = 1, updated_at = ? WHERE id = ?", time.Now().Unix(), id)
	if err != nil {
		return meshnet.Internal("disable peer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("peer not found")
	}
	return nil
}

// Enable re-enables a previously disabled peer.
func (s *PeerStore) Enable(id int64) error {
	res, err := s.db.Conn().Exec("UPDATE peers SET is_disabled = 0, updated_at = ? WHERE id = ?", time.Now().Unix(), id)
	if err != nil {
		return meshnet.Internal("enable peer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("peer not found")
	}
	return nil
}

// Redeem performs the one-shot transition from not-redeemed to redeemed,
// swapping in the client-generated public key. The underlying UPDATE
// carries its own "AND is_redeemed = 0" guard so that two concurrent
// redeem attempts cannot both succeed; the loser sees zero rows affected
// and is reported as NotFound (see SPEC_FULL.md on the resolved race).
func (s *PeerStore) Redeem(id int64, publicKey string) error {
	conn := s.db.Conn()

	var isRedeemed int
	var inviteExpires sql.NullInt64
	err := conn.QueryRow("SELECT is_redeemed, invite_expires FROM peers WHERE id = ?", id).Scan(&isRedeemed, &inviteExpires)
	if errors.Is(err, sql.ErrNoRows) {
		return meshnet.NotFound("peer not found")
	}
	if err != nil {
		return meshnet.Internal("lookup peer", err)
	}
	if isRedeemed != 0 {
		return meshnet.Gone("peer has already redeemed its invitation")
	}
	if inviteExpires.Valid && time.Unix(inviteExpires.Int64, 0).Before(time.Now()) {
		return meshnet.Unauthorized("invitation has expired")
	}

	res, err := conn.Exec("UPDATE peers SET is_redeemed = 1, public_key = ?, updated_at = ? WHERE id = ? AND is_redeemed = 0",
		publicKey, time.Now().Unix(), id)
	if err != nil {
		return meshnet.InvalidQuery("constraint violation redeeming peer: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("peer already redeemed")
	}
	return nil
}

// Get fetches a single peer by id.
func (s *PeerStore) Get(id int64) (meshnet.Peer, error) {
	row := s.db.Conn().QueryRow("SELECT "+peerColumns+" FROM peers WHERE id = ?", id)
	p, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meshnet.Peer{}, meshnet.NotFound("peer not found")
		}
		return meshnet.Peer{}, meshnet.Internal("get peer", err)
	}
	return p, nil
}

// GetByIP fetches the peer with the given inner IP.
func (s *PeerStore) GetByIP(ip net.IP) (meshnet.Peer, error) {
	row := s.db.Conn().QueryRow("SELECT "+peerColumns+" FROM peers WHERE ip = ?", ip.String())
	p, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meshnet.Peer{}, meshnet.NotFound("peer not found")
		}
		return meshnet.Peer{}, meshnet.Internal("get peer by ip", err)
	}
	return p, nil
}

// GetByPublicKey fetches the peer with the given WireGuard public key. Used
// at startup to resolve the infra CIDR — the CIDR holding the coordinator's
// own peer row — without hardcoding its id.
func (s *PeerStore) GetByPublicKey(publicKey string) (meshnet.Peer, error) {
	row := s.db.Conn().QueryRow("SELECT "+peerColumns+" FROM peers WHERE public_key = ?", publicKey)
	p, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meshnet.Peer{}, meshnet.NotFound("peer not found")
		}
		return meshnet.Peer{}, meshnet.Internal("get peer by public key", err)
	}
	return p, nil
}

// List returns every peer.
func (s *PeerStore) List() ([]meshnet.Peer, error) {
	rows, err := s.db.Conn().Query("SELECT " + peerColumns + " FROM peers")
	if err != nil {
		return nil, meshnet.Internal("list peers", err)
	}
	defer rows.Close()

	var out []meshnet.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, meshnet.Internal("scan peer", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteExpiredInvites removes every unredeemed peer whose invitation has
// expired, and returns the count removed. Run periodically by the invite
// sweeper background task.
func (s *PeerStore) DeleteExpiredInvites() (int64, error) {
	res, err := s.db.Conn().Exec("DELETE FROM peers WHERE is_redeemed = 0 AND invite_expires IS NOT NULL AND invite_expires < ?", time.Now().Unix())
	if err != nil {
		return 0, meshnet.Internal("sweep expired invites", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, meshnet.Internal("rows affected", err)
	}
	return n, nil
}

// VisiblePeers computes the visibility relation (§4.3) for caller, the
// peer with the given id: its own CIDR and ancestors, every CIDR
// associated with any of those (either side), the infra CIDR, and every
// descendant of the result — excluding disabled or unredeemed peers.
//
// Implemented as a single recursive CTE (ground:
// original_source/server/src/db/peer.rs::get_all_allowed_peers), run on
// the store's single connection so it is linearizable with writes without
// any extra locking.
func (s *PeerStore) VisiblePeers(callerCIDRID, infraCIDRID int64) ([]meshnet.Peer, error) {
	rows, err := s.db.Conn().Query(`
		WITH
			parent_of(id, parent) AS (
				SELECT id, parent FROM cidrs WHERE id = ?1
				UNION ALL
				SELECT cidrs.id, cidrs.parent FROM cidrs JOIN parent_of ON parent_of.parent = cidrs.id
			),
			associated(cidr_id) AS (
				SELECT associations.cidr_id_2 FROM associations, parent_of WHERE associations.cidr_id_1 = parent_of.id
				UNION
				SELECT associations.cidr_id_1 FROM associations, parent_of WHERE associations.cidr_id_2 = parent_of.id
			),
			visible_cidrs(cidr_id) AS (
				VALUES (?1), (?2)
				UNION
				SELECT cidr_id FROM associated
				UNION
				SELECT cidrs.id FROM cidrs, visible_cidrs WHERE cidrs.parent = visible_cidrs.cidr_id
			)
		SELECT DISTINCT `+peerColumnsQualified+`
		FROM peers
		JOIN visible_cidrs ON peers.cidr_id = visible_cidrs.cidr_id
		WHERE peers.is_disabled = 0 AND peers.is_redeemed = 1`,
		callerCIDRID, infraCIDRID)
	if err != nil {
		return nil, meshnet.Internal("visibility query", err)
	}
	defer rows.Close()

	var out []meshnet.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, meshnet.Internal("scan visible peer", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var peerColumnsQualified = "peers.id, peers.name, peers.ip, peers.cidr_id, peers.public_key, peers.endpoint, peers.is_admin, peers.is_disabled, peers.is_redeemed, peers.invite_expires, peers.endpoint_candidates, peers.keepalive_secs"
