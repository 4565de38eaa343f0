package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
)

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VenueID string `json:"venueId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if body.VenueID == "" {
		httputil.BadRequest(w, "venueId is required")
		return
	}
	result, err := s.engine.Deploy(r.Context(), body.VenueID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) handleExportConfig(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	gatewayID := r.URL.Query().Get("gatewayId")
	if venueID == "" || gatewayID == "" {
		httputil.BadRequest(w, "venueId and gatewayId are required")
		return
	}
	bundle, warnings, err := s.engine.Export(venueID, gatewayID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"bundle": bundle, "warnings": warnings})
}

func (s *Server) handleDeployHistory(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	if venueID == "" {
		httputil.BadRequest(w, "venueId is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	records, err := s.engine.History(venueID, r.URL.Query().Get("gatewayId"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"records": records})
}
