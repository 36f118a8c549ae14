package store

import (
	"database/sql"
	"errors"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// AssociationStore is the durable custody of the CIDR-to-CIDR visibility
// grants. Grounded on
// original_source/server/src/db/association.rs (DatabaseAssociation).
type AssociationStore struct {
	db *DB
}

func NewAssociationStore(db *DB) *AssociationStore { return &AssociationStore{db: db} }

func scanAssociation(row interface{ Scan(...any) error }) (meshnet.Association, error) {
	var a meshnet.Association
	if err := row.Scan(&a.ID, &a.CIDRID1, &a.CIDRID2); err != nil {
		return meshnet.Association{}, err
	}
	return a, nil
}

// Create grants mutual visibility between two CIDRs. The pair is
// order-independent: creating (1,2) and (2,1) are treated as the same
// association by always storing the smaller id first, matching the
// UNIQUE(cidr_id_1, cidr_id_2) constraint's intent.
func (s *AssociationStore) Create(cidrID1, cidrID2 int64) (meshnet.Association, error) {
	if cidrID1 == cidrID2 {
		return meshnet.Association{}, meshnet.InvalidQuery("cannot associate a cidr with itself")
	}
	if cidrID2 < cidrID1 {
		cidrID1, cidrID2 = cidrID2, cidrID1
	}

	res, err := s.db.Conn().Exec("INSERT INTO associations (cidr_id_1, cidr_id_2) VALUES (?, ?)", cidrID1, cidrID2)
	if err != nil {
		return meshnet.Association{}, meshnet.InvalidQuery("constraint violation creating association: " + err.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return meshnet.Association{}, meshnet.Internal("last insert id", err)
	}
	return meshnet.Association{ID: id, CIDRID1: cidrID1, CIDRID2: cidrID2}, nil
}

// Delete removes an association by id.
func (s *AssociationStore) Delete(id int64) error {
	res, err := s.db.Conn().Exec("DELETE FROM associations WHERE id = ?", id)
	if err != nil {
		return meshnet.Internal("delete association", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meshnet.NotFound("association not found")
	}
	return nil
}

// Get fetches a single association by id.
func (s *AssociationStore) Get(id int64) (meshnet.Association, error) {
	row := s.db.Conn().QueryRow("SELECT id, cidr_id_1, cidr_id_2 FROM associations WHERE id = ?", id)
	a, err := scanAssociation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meshnet.Association{}, meshnet.NotFound("association not found")
		}
		return meshnet.Association{}, meshnet.Internal("get association", err)
	}
	return a, nil
}

// List returns every association.
func (s *AssociationStore) List() ([]meshnet.Association, error) {
	rows, err := s.db.Conn().Query("SELECT id, cidr_id_1, cidr_id_2 FROM associations")
	if err != nil {
		return nil, meshnet.Internal("list associations", err)
	}
	defer rows.Close()

	var out []meshnet.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, meshnet.Internal("scan association", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
