package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Venue is the outermost aggregate root. Every other entity is owned by its
// venue and referenced by ID, never by embedded pointer.
type Venue struct {
	ID             string    `json:"id"`
	Label          string    `json:"label"`
	WidthM         float64   `json:"width_m"`
	DepthM         float64   `json:"depth_m"`
	HeightM        float64   `json:"height_m"`
	ActiveLayoutID *string   `json:"active_layout_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Vertex is a 2-D point in planner-meters (x east, z north).
type Vertex struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// CreateVenue inserts a new venue. A missing ID is generated.
func (s *Store) CreateVenue(v *Venue) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	_, err := s.Exec(`
		INSERT INTO venue (id, label, width_m, depth_m, height_m, active_layout_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.Label, v.WidthM, v.DepthM, v.HeightM, v.ActiveLayoutID,
	)
	if err != nil {
		return fmt.Errorf("failed to create venue: %w", err)
	}
	return nil
}

// GetVenue retrieves a venue by ID.
func (s *Store) GetVenue(id string) (*Venue, error) {
	var v Venue
	var createdAt int64
	err := s.QueryRow(`
		SELECT id, label, width_m, depth_m, height_m, active_layout_id, created_at
		FROM venue WHERE id = ?`, id).Scan(
		&v.ID, &v.Label, &v.WidthM, &v.DepthM, &v.HeightM, &v.ActiveLayoutID, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("venue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get venue: %w", err)
	}
	v.CreatedAt = time.Unix(createdAt, 0)
	return &v, nil
}

// ListVenues returns all venues ordered by creation time.
func (s *Store) ListVenues() ([]Venue, error) {
	rows, err := s.Query(`
		SELECT id, label, width_m, depth_m, height_m, active_layout_id, created_at
		FROM venue ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	defer rows.Close()

	var venues []Venue
	for rows.Next() {
		var v Venue
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.Label, &v.WidthM, &v.DepthM, &v.HeightM, &v.ActiveLayoutID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan venue: %w", err)
		}
		v.CreatedAt = time.Unix(createdAt, 0)
		venues = append(venues, v)
	}
	return venues, rows.Err()
}

// SetActiveLayout updates the venue's active layout pointer.
func (s *Store) SetActiveLayout(venueID, layoutID string) error {
	res, err := s.Exec(`UPDATE venue SET active_layout_id = ? WHERE id = ?`, layoutID, venueID)
	if err != nil {
		return fmt.Errorf("failed to set active layout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("venue %s: %w", venueID, ErrNotFound)
	}
	return nil
}

// UpsertROI stores the region-of-interest polygon for a layout. The polygon
// must have at least three vertices.
func (s *Store) UpsertROI(venueID, layoutID string, vertices []Vertex) error {
	if len(vertices) < 3 {
		return fmt.Errorf("ROI polygon must have at least 3 vertices, got %d", len(vertices))
	}
	blob, err := json.Marshal(vertices)
	if err != nil {
		return fmt.Errorf("failed to encode ROI vertices: %w", err)
	}
	_, err = s.Exec(`
		INSERT INTO roi (venue_id, layout_id, vertices, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT (venue_id, layout_id) DO UPDATE SET
			vertices = excluded.vertices,
			updated_at = excluded.updated_at`,
		venueID, layoutID, string(blob),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ROI: %w", err)
	}
	return nil
}

// GetROI returns the ROI polygon for a layout, or (nil, nil) when no ROI has
// been defined. Callers fall back through the offset chain in that case.
func (s *Store) GetROI(venueID, layoutID string) ([]Vertex, error) {
	var blob string
	err := s.QueryRow(`
		SELECT vertices FROM roi WHERE venue_id = ? AND layout_id = ?`,
		venueID, layoutID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ROI: %w", err)
	}
	var vertices []Vertex
	if err := json.Unmarshal([]byte(blob), &vertices); err != nil {
		return nil, fmt.Errorf("failed to decode ROI vertices: %w", err)
	}
	return vertices, nil
}
