package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mount sources. Auto mounts are replaced wholesale by each placement run;
// manual mounts persist.
const (
	MountSourceManual = "manual"
	MountSourceAuto   = "auto"
)

// PlannedMount is a planner- or solver-chosen position for one sensor, in
// planner-meters. Yaw is stored in radians and converted to degrees only at
// the deploy boundary.
type PlannedMount struct {
	ID           string    `json:"id"`
	VenueID      string    `json:"venue_id"`
	LayoutID     string    `json:"layout_id"`
	Source       string    `json:"source"`
	ModelID      string    `json:"model_id"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Z            float64   `json:"z"`
	YawRad       float64   `json:"yaw_rad"`
	MountHeightM float64   `json:"mount_height_m"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateMount inserts a single planned mount. A missing ID is generated.
func (s *Store) CreateMount(m *PlannedMount) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Source != MountSourceManual && m.Source != MountSourceAuto {
		return fmt.Errorf("invalid mount source %q", m.Source)
	}
	_, err := s.Exec(`
		INSERT INTO planned_mount (id, venue_id, layout_id, source, model_id, x, y, z, yaw_rad, mount_height_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.VenueID, m.LayoutID, m.Source, m.ModelID, m.X, m.Y, m.Z, m.YawRad, m.MountHeightM,
	)
	if err != nil {
		return fmt.Errorf("failed to create planned mount: %w", err)
	}
	return nil
}

// GetMount retrieves a planned mount by ID.
func (s *Store) GetMount(id string) (*PlannedMount, error) {
	row := s.QueryRow(`
		SELECT id, venue_id, layout_id, source, model_id, x, y, z, yaw_rad, mount_height_m, created_at
		FROM planned_mount WHERE id = ?`, id)
	m, err := scanMount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("planned mount %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get planned mount: %w", err)
	}
	return m, nil
}

// ListMounts returns all planned mounts for a layout, auto and manual.
func (s *Store) ListMounts(venueID, layoutID string) ([]PlannedMount, error) {
	rows, err := s.Query(`
		SELECT id, venue_id, layout_id, source, model_id, x, y, z, yaw_rad, mount_height_m, created_at
		FROM planned_mount WHERE venue_id = ? AND layout_id = ?
		ORDER BY created_at, id`, venueID, layoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to list planned mounts: %w", err)
	}
	defer rows.Close()

	var mounts []PlannedMount
	for rows.Next() {
		m, err := scanMount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan planned mount: %w", err)
		}
		mounts = append(mounts, *m)
	}
	return mounts, rows.Err()
}

// DeleteMount removes a planned mount by ID.
func (s *Store) DeleteMount(id string) error {
	res, err := s.Exec(`DELETE FROM planned_mount WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete planned mount: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("planned mount %s: %w", id, ErrNotFound)
	}
	return nil
}

// ReplaceAutoMounts atomically deletes every auto-sourced mount in the layout,
// inserts the given replacements, and appends a placement run record. Manual
// mounts are untouched. All three steps commit or roll back together.
func (s *Store) ReplaceAutoMounts(venueID, layoutID string, mounts []PlannedMount, runSettings, runResults string) (runID string, err error) {
	tx, err := s.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM planned_mount
		WHERE venue_id = ? AND layout_id = ? AND source = ?`,
		venueID, layoutID, MountSourceAuto); err != nil {
		return "", fmt.Errorf("failed to clear auto mounts: %w", err)
	}

	for i := range mounts {
		m := &mounts[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.VenueID = venueID
		m.LayoutID = layoutID
		m.Source = MountSourceAuto
		if _, err := tx.Exec(`
			INSERT INTO planned_mount (id, venue_id, layout_id, source, model_id, x, y, z, yaw_rad, mount_height_m)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.VenueID, m.LayoutID, m.Source, m.ModelID, m.X, m.Y, m.Z, m.YawRad, m.MountHeightM,
		); err != nil {
			return "", fmt.Errorf("failed to insert auto mount: %w", err)
		}
	}

	runID = uuid.NewString()
	if _, err := tx.Exec(`
		INSERT INTO placement_run (id, venue_id, layout_id, settings, results)
		VALUES (?, ?, ?, ?, ?)`,
		runID, venueID, layoutID, runSettings, runResults,
	); err != nil {
		return "", fmt.Errorf("failed to record placement run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit placement: %w", err)
	}
	return runID, nil
}

// LayoutBounds returns the bounding box over all planned mounts in a layout.
// ok is false when the layout has no mounts.
func (s *Store) LayoutBounds(venueID, layoutID string) (minX, minZ, maxX, maxZ float64, ok bool, err error) {
	var lo, hi sql.NullFloat64
	var loZ, hiZ sql.NullFloat64
	err = s.QueryRow(`
		SELECT MIN(x), MIN(z), MAX(x), MAX(z)
		FROM planned_mount WHERE venue_id = ? AND layout_id = ?`,
		venueID, layoutID).Scan(&lo, &loZ, &hi, &hiZ)
	if err != nil {
		return 0, 0, 0, 0, false, fmt.Errorf("failed to compute layout bounds: %w", err)
	}
	if !lo.Valid {
		return 0, 0, 0, 0, false, nil
	}
	return lo.Float64, loZ.Float64, hi.Float64, hiZ.Float64, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMount(r rowScanner) (*PlannedMount, error) {
	var m PlannedMount
	var createdAt int64
	if err := r.Scan(&m.ID, &m.VenueID, &m.LayoutID, &m.Source, &m.ModelID,
		&m.X, &m.Y, &m.Z, &m.YawRad, &m.MountHeightM, &createdAt); err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	return &m, nil
}
