package store

import (
	"database/sql"
	"fmt"
)

// GatewayName is operator metadata for a mesh gateway. The gateway itself is
// discovered live from the mesh directory; only this override persists.
type GatewayName struct {
	GatewayID   string  `json:"gateway_id"`
	DisplayName string  `json:"display_name"`
	Notes       *string `json:"notes"`
}

// UpsertGatewayName stores a display-name override. It deliberately does not
// require the gateway to be online or even currently visible in the mesh.
func (s *Store) UpsertGatewayName(g *GatewayName) error {
	if g.DisplayName == "" {
		return fmt.Errorf("display name must not be empty")
	}
	_, err := s.Exec(`
		INSERT INTO gateway_name (gateway_id, display_name, notes, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT (gateway_id) DO UPDATE SET
			display_name = excluded.display_name,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		g.GatewayID, g.DisplayName, g.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert gateway name: %w", err)
	}
	return nil
}

// GetGatewayName returns the override for one gateway, or (nil, nil) when
// none is set.
func (s *Store) GetGatewayName(gatewayID string) (*GatewayName, error) {
	var g GatewayName
	err := s.QueryRow(`
		SELECT gateway_id, display_name, notes FROM gateway_name WHERE gateway_id = ?`,
		gatewayID).Scan(&g.GatewayID, &g.DisplayName, &g.Notes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway name: %w", err)
	}
	return &g, nil
}

// ListGatewayNames returns all overrides keyed by gateway ID.
func (s *Store) ListGatewayNames() (map[string]GatewayName, error) {
	rows, err := s.Query(`SELECT gateway_id, display_name, notes FROM gateway_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]GatewayName)
	for rows.Next() {
		var g GatewayName
		if err := rows.Scan(&g.GatewayID, &g.DisplayName, &g.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan gateway name: %w", err)
		}
		names[g.GatewayID] = g
	}
	return names, rows.Err()
}
