package store

import (
	"path/filepath"
	"testing"
)

// setupTestDB opens a fresh migrated database in a per-test temp directory.
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "commissioning.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return s
}

// seedVenue creates a venue with a mount-ready layout and returns it.
func seedVenue(t *testing.T, s *Store) *Venue {
	t.Helper()
	layout := "layout-1"
	v := &Venue{
		Label:          "Test Venue",
		WidthM:         40,
		DepthM:         25,
		HeightM:        4,
		ActiveLayoutID: &layout,
	}
	if err := s.CreateVenue(v); err != nil {
		t.Fatalf("failed to seed venue: %v", err)
	}
	return v
}

func strPtr(v string) *string { return &v }
