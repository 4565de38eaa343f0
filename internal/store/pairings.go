package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Pairing is an operator-confirmed binding of a physical sensor to a planned
// mount. The (venue_id, planned_mount_id) pair is structurally unique: a
// re-pair replaces the previous binding.
type Pairing struct {
	ID             string    `json:"id"`
	VenueID        string    `json:"venue_id"`
	GatewayID      string    `json:"gateway_id"`
	PlannedMountID string    `json:"planned_mount_id"`
	SensorID       string    `json:"sensor_id"`
	SensorAddress  *string   `json:"sensor_address"`
	CreatedAt      time.Time `json:"created_at"`
}

// UpsertPairing binds a sensor to a planned mount, replacing any existing
// pairing for the same (venue, mount). The mount must exist and belong to
// the venue.
func (s *Store) UpsertPairing(p *Pairing) error {
	mount, err := s.GetMount(p.PlannedMountID)
	if err != nil {
		return err
	}
	if mount.VenueID != p.VenueID {
		return fmt.Errorf("planned mount %s belongs to venue %s, not %s",
			p.PlannedMountID, mount.VenueID, p.VenueID)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err = s.Exec(`
		INSERT INTO pairing (id, venue_id, gateway_id, planned_mount_id, sensor_id, sensor_address)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (venue_id, planned_mount_id) DO UPDATE SET
			gateway_id = excluded.gateway_id,
			sensor_id = excluded.sensor_id,
			sensor_address = excluded.sensor_address,
			created_at = strftime('%s','now')`,
		p.ID, p.VenueID, p.GatewayID, p.PlannedMountID, p.SensorID, p.SensorAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pairing: %w", err)
	}
	return nil
}

// ListPairings returns pairings for a venue, optionally filtered by gateway.
func (s *Store) ListPairings(venueID, gatewayID string) ([]Pairing, error) {
	query := `
		SELECT id, venue_id, gateway_id, planned_mount_id, sensor_id, sensor_address, created_at
		FROM pairing WHERE venue_id = ?`
	args := []interface{}{venueID}
	if gatewayID != "" {
		query += ` AND gateway_id = ?`
		args = append(args, gatewayID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairings: %w", err)
	}
	defer rows.Close()

	var pairings []Pairing
	for rows.Next() {
		var p Pairing
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.VenueID, &p.GatewayID, &p.PlannedMountID,
			&p.SensorID, &p.SensorAddress, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pairing: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		pairings = append(pairings, p)
	}
	return pairings, rows.Err()
}

// RemovePairingByMount deletes the pairing bound to a planned mount.
func (s *Store) RemovePairingByMount(venueID, plannedMountID string) error {
	res, err := s.Exec(`
		DELETE FROM pairing WHERE venue_id = ? AND planned_mount_id = ?`,
		venueID, plannedMountID)
	if err != nil {
		return fmt.Errorf("failed to remove pairing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pairing for mount %s: %w", plannedMountID, ErrNotFound)
	}
	return nil
}

// SweepOrphanPairings deletes pairings whose planned mount no longer exists
// and returns the number removed.
func (s *Store) SweepOrphanPairings(venueID string) (int, error) {
	res, err := s.Exec(`
		DELETE FROM pairing
		WHERE venue_id = ?
		  AND planned_mount_id NOT IN (SELECT id FROM planned_mount WHERE venue_id = ?)`,
		venueID, venueID)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep orphan pairings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept pairings: %w", err)
	}
	return int(n), nil
}
