package store

import (
	"database/sql"
	"fmt"

	"github.com/calebmorrow/hearthside/internal/model"
)

type VendorStore struct {
	db *sql.DB
}

func NewVendorStore(db *sql.DB) *VendorStore {
	return &VendorStore{db: db}
}

func scanVendor(scanner interface{ Scan(...any) error }) (*model.Vendor, error) {
	var v model.Vendor
	err := scanner.Scan(&v.ID, &v.SpaceID, &v.Name, &v.Category, &v.Contact, &v.Notes, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

const vendorCols = `id, space_id, name, category, contact, notes, created_at, updated_at`

func (s *VendorStore) Create(spaceID int64, name, category, contact, notes string) (*model.Vendor, error) {
	result, err := s.db.Exec(
		`INSERT INTO vendors (space_id, name, category, contact, notes) VALUES (?, ?, ?, ?, ?)`,
		spaceID, name, category, contact, notes,
	)
	if err != nil {
		return nil, fmt.Errorf("insert vendor: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *VendorStore) GetByID(spaceID, id int64) (*model.Vendor, error) {
	row := s.db.QueryRow(`SELECT `+vendorCols+` FROM vendors WHERE id = ? AND space_id = ?`, id, spaceID)
	v, err := scanVendor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return v, nil
}

func (s *VendorStore) List(spaceID int64) ([]model.Vendor, error) {
	rows, err := s.db.Query(
		`SELECT `+vendorCols+` FROM vendors WHERE space_id = ? ORDER BY name ASC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()

	var vendors []model.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, *v)
	}
	return vendors, rows.Err()
}

func (s *VendorStore) Update(spaceID, id int64, name, category, contact, notes string) (*model.Vendor, error) {
	_, err := s.db.Exec(
		`UPDATE vendors SET name = ?, category = ?, contact = ?, notes = ?, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		name, category, contact, notes, id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update vendor: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *VendorStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM vendors WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete vendor: %w", err)
	}
	return nil
}
