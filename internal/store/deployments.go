package store

import (
	"fmt"
	"time"
)

// Deployment statuses. Records are written for both outcomes so operators
// can audit what was attempted.
const (
	DeployStatusApplied = "applied"
	DeployStatusFailed  = "failed"
)

// DeploymentRecord is an append-only audit entry for one bundle apply
// attempt. Immutable once written.
type DeploymentRecord struct {
	ID              string    `json:"id"`
	VenueID         string    `json:"venue_id"`
	GatewayID       string    `json:"gateway_id"`
	BundleHash      string    `json:"bundle_hash"`
	Bundle          string    `json:"bundle"`
	Status          string    `json:"status"`
	GatewayResponse *string   `json:"gateway_response"`
	ErrorMessage    *string   `json:"error_message"`
	CreatedAt       time.Time `json:"created_at"`
}

// AppendDeploymentRecord inserts an audit record. CreatedAt must be set by
// the caller; the deployment engine serialises writes per (venue, gateway)
// so timestamps are monotonic for each target.
func (s *Store) AppendDeploymentRecord(r *DeploymentRecord) error {
	if r.ID == "" {
		return fmt.Errorf("deployment record requires an ID")
	}
	if r.Status != DeployStatusApplied && r.Status != DeployStatusFailed {
		return fmt.Errorf("invalid deployment status %q", r.Status)
	}
	_, err := s.Exec(`
		INSERT INTO deployment_record (id, venue_id, gateway_id, bundle_hash, bundle, status, gateway_response, error_message, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.VenueID, r.GatewayID, r.BundleHash, r.Bundle, r.Status,
		r.GatewayResponse, r.ErrorMessage, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append deployment record: %w", err)
	}
	return nil
}

// ListDeploymentRecords returns records for a venue, newest first,
// optionally filtered by gateway.
func (s *Store) ListDeploymentRecords(venueID, gatewayID string, limit int) ([]DeploymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, venue_id, gateway_id, bundle_hash, bundle, status, gateway_response, error_message, created_at_ns
		FROM deployment_record WHERE venue_id = ?`
	args := []interface{}{venueID}
	if gatewayID != "" {
		query += ` AND gateway_id = ?`
		args = append(args, gatewayID)
	}
	query += ` ORDER BY created_at_ns DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployment records: %w", err)
	}
	defer rows.Close()

	var records []DeploymentRecord
	for rows.Next() {
		var r DeploymentRecord
		var ns int64
		if err := rows.Scan(&r.ID, &r.VenueID, &r.GatewayID, &r.BundleHash, &r.Bundle,
			&r.Status, &r.GatewayResponse, &r.ErrorMessage, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		r.CreatedAt = time.Unix(0, ns)
		records = append(records, r)
	}
	return records, rows.Err()
}

// PlacementRun is the audit record of one auto-placement invocation.
type PlacementRun struct {
	ID        string    `json:"id"`
	VenueID   string    `json:"venue_id"`
	LayoutID  string    `json:"layout_id"`
	Settings  string    `json:"settings"`
	Results   string    `json:"results"`
	CreatedAt time.Time `json:"created_at"`
}

// ListPlacementRuns returns placement runs for a layout, newest first.
func (s *Store) ListPlacementRuns(venueID, layoutID string, limit int) ([]PlacementRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Query(`
		SELECT id, venue_id, layout_id, settings, results, created_at
		FROM placement_run WHERE venue_id = ? AND layout_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, venueID, layoutID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list placement runs: %w", err)
	}
	defer rows.Close()

	var runs []PlacementRun
	for rows.Next() {
		var r PlacementRun
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.VenueID, &r.LayoutID, &r.Settings, &r.Results, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan placement run: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
