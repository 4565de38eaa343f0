package api

import (
	"encoding/json"
	"net/http"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

func (s *Server) handleListVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := s.store.ListVenues()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"venues": venues})
}

func (s *Server) handleCreateVenue(w http.ResponseWriter, r *http.Request) {
	var v store.Venue
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if v.Label == "" {
		httputil.BadRequest(w, "label is required")
		return
	}
	if err := s.store.CreateVenue(&v); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVenue(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetVenue(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, v)
}

// handleSetActiveLayout repoints the venue's active layout. Subsequent
// requests that omit layoutId resolve against the new layout.
func (s *Server) handleSetActiveLayout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LayoutID string `json:"layoutId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if body.LayoutID == "" {
		httputil.BadRequest(w, "layoutId is required")
		return
	}
	venueID := r.PathValue("id")
	if err := s.store.SetActiveLayout(venueID, body.LayoutID); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"venueId": venueID, "activeLayoutId": body.LayoutID})
}

// layoutParam returns the layout the request targets: the explicit query
// parameter, or the venue's active layout.
func (s *Server) layoutParam(r *http.Request, venueID string) (string, error) {
	if layout := r.URL.Query().Get("layoutId"); layout != "" {
		return layout, nil
	}
	v, err := s.store.GetVenue(venueID)
	if err != nil {
		return "", err
	}
	if v.ActiveLayoutID != nil && *v.ActiveLayoutID != "" {
		return *v.ActiveLayoutID, nil
	}
	return "default", nil
}

func (s *Server) handleGetROI(w http.ResponseWriter, r *http.Request) {
	venueID := r.PathValue("id")
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
	httputil.WriteJSONOK(w, map[string]interface{}{"layoutId": layoutID, "vertices": roi})
}

func (s *Server) handlePutROI(w http.ResponseWriter, r *http.Request) {
	venueID := r.PathValue("id")
	layoutID, err := s.layoutParam(r, venueID)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Vertices []store.Vertex `json:"vertices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if len(body.Vertices) < 3 {
		httputil.BadRequest(w, "vertices must contain at least 3 points")
		return
	}
	if err := s.store.UpsertROI(venueID, layoutID, body.Vertices); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"layoutId": layoutID, "vertices": body.Vertices})
}

// handleListPlacements returns the planned mounts and ROI for a venue in one
// response, the shape planners consume.
func (s *Server) handleListPlacements(w http.ResponseWriter, r *http.Request) {
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
	mounts, err := s.store.ListMounts(venueID, layoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	roi, err := s.store.GetROI(venueID, layoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"layoutId": layoutID,
		"mounts":   mounts,
		"roi":      roi,
	})
}

func (s *Server) handleCreateMount(w http.ResponseWriter, r *http.Request) {
	var m store.PlannedMount
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if m.VenueID == "" || m.LayoutID == "" || m.ModelID == "" {
		httputil.BadRequest(w, "venue_id, layout_id and model_id are required")
		return
	}
	if m.Source == "" {
		m.Source = store.MountSourceManual
	}
	if err := s.store.CreateMount(&m); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (s *Server) handleDeleteMount(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMount(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": r.PathValue("id")})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListSensorModels()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"models": models})
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var m store.SensorModel
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if m.Label == "" || m.RangeM <= 0 {
		httputil.BadRequest(w, "label and a positive range_m are required")
		return
	}
	if err := s.store.CreateSensorModel(&m); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var m store.SensorModel
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if m.ID == "" {
		httputil.BadRequest(w, "id is required")
		return
	}
	if err := s.store.UpdateSensorModel(&m); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, m)
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.cfg.OperationalParams())
}

func (s *Server) handlePutParams(w http.ResponseWriter, r *http.Request) {
	params := s.cfg.OperationalParams()
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if err := s.cfg.SetOperationalParams(params); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, params)
}
