package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SensorModel describes one LiDAR product's coverage characteristics. The
// effective floor radius is derived from these fields by the placement
// package.
type SensorModel struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	HFOVDeg  float64 `json:"hfov_deg"`
	VFOVDeg  float64 `json:"vfov_deg"`
	RangeM   float64 `json:"range_m"`
	DomeMode bool    `json:"dome_mode"`
	// FloorCoverageFactor scales range for dome-mode sensors; nil uses the
	// package default.
	FloorCoverageFactor *float64 `json:"floor_coverage_factor"`
}

// CreateSensorModel inserts a catalog entry. A missing ID is generated.
func (s *Store) CreateSensorModel(m *SensorModel) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.RangeM <= 0 {
		return fmt.Errorf("sensor model range must be positive, got %f", m.RangeM)
	}
	_, err := s.Exec(`
		INSERT INTO sensor_model (id, label, hfov_deg, vfov_deg, range_m, dome_mode, floor_coverage_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Label, m.HFOVDeg, m.VFOVDeg, m.RangeM, boolToInt(m.DomeMode), m.FloorCoverageFactor,
	)
	if err != nil {
		return fmt.Errorf("failed to create sensor model: %w", err)
	}
	return nil
}

// UpdateSensorModel replaces a catalog entry.
func (s *Store) UpdateSensorModel(m *SensorModel) error {
	if m.RangeM <= 0 {
		return fmt.Errorf("sensor model range must be positive, got %f", m.RangeM)
	}
	res, err := s.Exec(`
		UPDATE sensor_model
		SET label = ?, hfov_deg = ?, vfov_deg = ?, range_m = ?, dome_mode = ?, floor_coverage_factor = ?
		WHERE id = ?`,
		m.Label, m.HFOVDeg, m.VFOVDeg, m.RangeM, boolToInt(m.DomeMode), m.FloorCoverageFactor, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sensor model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sensor model %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

// GetSensorModel retrieves a catalog entry by ID.
func (s *Store) GetSensorModel(id string) (*SensorModel, error) {
	row := s.QueryRow(`
		SELECT id, label, hfov_deg, vfov_deg, range_m, dome_mode, floor_coverage_factor
		FROM sensor_model WHERE id = ?`, id)
	m, err := scanSensorModel(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sensor model %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor model: %w", err)
	}
	return m, nil
}

// ListSensorModels returns the whole catalog.
func (s *Store) ListSensorModels() ([]SensorModel, error) {
	rows, err := s.Query(`
		SELECT id, label, hfov_deg, vfov_deg, range_m, dome_mode, floor_coverage_factor
		FROM sensor_model ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sensor models: %w", err)
	}
	defer rows.Close()

	var models []SensorModel
	for rows.Next() {
		m, err := scanSensorModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor model: %w", err)
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

func scanSensorModel(r rowScanner) (*SensorModel, error) {
	var m SensorModel
	var dome int
	if err := r.Scan(&m.ID, &m.Label, &m.HFOVDeg, &m.VFOVDeg, &m.RangeM, &dome, &m.FloorCoverageFactor); err != nil {
		return nil, err
	}
	m.DomeMode = dome != 0
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
