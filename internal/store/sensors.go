package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sensor lifecycle statuses.
const (
	SensorStatusActive  = "active"
	SensorStatusRetired = "retired"
)

// CommissionedSensor records that a factory-addressed LiDAR has had its
// address reassigned. A row is only written after the sensor was verified
// reachable at its new address; there are no optimistic entries.
type CommissionedSensor struct {
	ID              string    `json:"id"`
	VenueID         string    `json:"venue_id"`
	GatewayID       string    `json:"gateway_id"`
	AssignedAddress string    `json:"assigned_address"`
	OriginalAddress string    `json:"original_address"`
	Label           string    `json:"label"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateCommissionedSensor inserts a sensor address-book entry.
func (s *Store) CreateCommissionedSensor(c *CommissionedSensor) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = SensorStatusActive
	}
	_, err := s.Exec(`
		INSERT INTO commissioned_sensor (id, venue_id, gateway_id, assigned_address, original_address, label, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VenueID, c.GatewayID, c.AssignedAddress, c.OriginalAddress, c.Label, c.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create commissioned sensor: %w", err)
	}
	return nil
}

// ListCommissionedSensors returns the address book for a venue.
func (s *Store) ListCommissionedSensors(venueID string) ([]CommissionedSensor, error) {
	rows, err := s.Query(`
		SELECT id, venue_id, gateway_id, assigned_address, original_address, label, status, created_at
		FROM commissioned_sensor WHERE venue_id = ?
		ORDER BY assigned_address`, venueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissioned sensors: %w", err)
	}
	defer rows.Close()

	var sensors []CommissionedSensor
	for rows.Next() {
		var c CommissionedSensor
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.VenueID, &c.GatewayID, &c.AssignedAddress,
			&c.OriginalAddress, &c.Label, &c.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan commissioned sensor: %w", err)
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		sensors = append(sensors, c)
	}
	return sensors, rows.Err()
}

// AssignedAddresses returns the set of addresses currently assigned in a
// venue, active entries only.
func (s *Store) AssignedAddresses(venueID string) (map[string]bool, error) {
	rows, err := s.Query(`
		SELECT assigned_address FROM commissioned_sensor
		WHERE venue_id = ? AND status = ?`, venueID, SensorStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query assigned addresses: %w", err)
	}
	defer rows.Close()

	assigned := make(map[string]bool)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan assigned address: %w", err)
		}
		assigned[addr] = true
	}
	return assigned, rows.Err()
}

// DeleteCommissionedSensor removes an address-book entry by ID.
func (s *Store) DeleteCommissionedSensor(id string) error {
	res, err := s.Exec(`DELETE FROM commissioned_sensor WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete commissioned sensor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("commissioned sensor %s: %w", id, ErrNotFound)
	}
	return nil
}

// RetireCommissionedSensor marks an entry retired without freeing history.
func (s *Store) RetireCommissionedSensor(id string) error {
	res, err := s.Exec(`
		UPDATE commissioned_sensor SET status = ? WHERE id = ?`,
		SensorStatusRetired, id)
	if err != nil {
		return fmt.Errorf("failed to retire commissioned sensor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("commissioned sensor %s: %w", id, ErrNotFound)
	}
	return nil
}
