package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/place"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// placeBody is the wire shape shared by autoplace and simulate. The sensor
// model is referenced by ID and resolved from the catalog.
type placeBody struct {
	VenueID  string          `json:"venueId"`
	LayoutID string          `json:"layoutId"`
	ModelID  string          `json:"modelId"`
	ROI      []store.Vertex  `json:"roiPolygon"`
	Critical []store.Vertex  `json:"criticalPolygon"`
	Fixtures []place.Fixture `json:"obstacles"`
	Settings place.Settings  `json:"settings"`
}

// resolvePlaceRequest fills in the pieces the caller omitted: the layout from
// the venue's active layout and the ROI from the stored one.
func (s *Server) resolvePlaceRequest(r *http.Request, body *placeBody) (*place.Request, error) {
	model, err := s.store.GetSensorModel(body.ModelID)
	if err != nil {
		return nil, err
	}
	layoutID := body.LayoutID
	if layoutID == "" && body.VenueID != "" {
		layoutID, err = s.layoutParam(r, body.VenueID)
		if err != nil {
			return nil, err
		}
	}
	roi := body.ROI
	if len(roi) == 0 && body.VenueID != "" {
		roi, err = s.store.GetROI(body.VenueID, layoutID)
		if err != nil {
			return nil, err
		}
	}
	return &place.Request{
		VenueID:  body.VenueID,
		LayoutID: layoutID,
		ROI:      roi,
		Critical: body.Critical,
		Fixtures: body.Fixtures,
		Model:    *model,
		Settings: body.Settings,
	}, nil
}

func (s *Server) handleAutoplace(w http.ResponseWriter, r *http.Request) {
	var body placeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if body.VenueID == "" || body.ModelID == "" {
		httputil.BadRequest(w, "venueId and modelId are required")
		return
	}
	req, err := s.resolvePlaceRequest(r, &body)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.ROI) < 3 {
		httputil.BadRequest(w, "roiPolygon must contain at least 3 vertices")
		return
	}
	result, err := s.facade.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}

// handleSimulate runs the coverage simulation only, without touching any
// persisted mounts. Placements come either from the request or from the
// layout's planned mounts.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		placeBody
		Placements []place.Placement `json:"placements"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if body.ModelID == "" {
		httputil.BadRequest(w, "modelId is required")
		return
	}
	req, err := s.resolvePlaceRequest(r, &body.placeBody)
	if err != nil {
		writeError(w, err)
		return
	}
	placements := body.Placements
	if len(placements) == 0 && body.VenueID != "" {
		mounts, err := s.store.ListMounts(body.VenueID, req.LayoutID)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, m := range mounts {
			placements = append(placements, place.Placement{X: m.X, Z: m.Z, YawRad: m.YawRad})
		}
	}
	if len(req.ROI) < 3 {
		httputil.BadRequest(w, "roiPolygon must contain at least 3 vertices")
		return
	}
	obstacles := make([][]store.Vertex, 0, len(req.Fixtures))
	for i := range req.Fixtures {
		if poly := req.Fixtures[i].Polygon(); poly != nil {
			obstacles = append(obstacles, poly)
		}
	}
	settings := req.Settings
	if settings.SampleSpacing <= 0 {
		settings.SampleSpacing = 0.5
	}
	if settings.MountHeight <= 0 {
		settings.MountHeight = 3.0
	}
	httputil.WriteJSONOK(w, place.Simulate(req.ROI, obstacles, placements, &req.Model, &settings))
}

// handleCoverageDebug renders the stored layout's coverage as an HTML chart.
func (s *Server) handleCoverageDebug(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	if venueID == "" {
		httputil.BadRequest(w, "venueId is required")
		return
	}
	layoutID, err := s.layoutParam(r, venueID)
	if err != nil {
		writeError(w, err)
		return
	}
	roi, err := s.store.GetROI(venueID, layoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(roi) < 3 {
		httputil.BadRequest(w, "no region of interest defined for this layout")
		return
	}
	mounts, err := s.store.ListMounts(venueID, layoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(mounts) == 0 {
		httputil.BadRequest(w, "no planned mounts for this layout")
		return
	}
	model, err := s.store.GetSensorModel(mounts[0].ModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	placements := make([]place.Placement, 0, len(mounts))
	mountHeight := 3.0
	for _, m := range mounts {
		placements = append(placements, place.Placement{X: m.X, Z: m.Z, YawRad: m.YawRad})
		if m.MountHeightM > 0 {
			mountHeight = m.MountHeightM
		}
	}
	settings := place.Settings{MountHeight: mountHeight, SampleSpacing: 0.5}
	title := fmt.Sprintf("Coverage %s/%s", venueID, layoutID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// The chart may have written partial HTML already; appending a comment
	// is the best failure surface left.
	if err := place.RenderCoverageChart(w, title, roi, nil, placements, model, &settings); err != nil {
		fmt.Fprintf(w, "<!-- render error: %v -->", err)
	}
}
