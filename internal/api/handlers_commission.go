package api

import (
	"encoding/json"
	"net/http"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
)

func (s *Server) handleListCommissioned(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	if venueID == "" {
		httputil.BadRequest(w, "venueId is required")
		return
	}
	sensors, err := s.store.ListCommissionedSensors(venueID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"sensors": sensors,
		"state":   s.coordinator.Status(venueID),
	})
}

// handleAssign runs the full reassignment state machine synchronously: a
// second concurrent call for the same venue gets 409 immediately.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VenueID        string `json:"venueId"`
		GatewayID      string `json:"gatewayId"`
		CurrentAddress string `json:"currentAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if body.VenueID == "" || body.GatewayID == "" {
		httputil.BadRequest(w, "venueId and gatewayId are required")
		return
	}

	gw, err := s.directory.Resolve(r.Context(), body.GatewayID)
	if err != nil {
		writeError(w, err)
		return
	}
	sensor, err := s.coordinator.Assign(r.Context(), body.VenueID, body.GatewayID, gw.MeshAddress, body.CurrentAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sensor)
}

func (s *Server) handleDeleteCommissioned(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Get("retire") == "true" {
		if err := s.store.RetireCommissionedSensor(id); err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"retired": id})
		return
	}
	if err := s.store.DeleteCommissionedSensor(id); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": id})
}

func (s *Server) handleNextAddress(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	if venueID == "" {
		httputil.BadRequest(w, "venueId is required")
		return
	}
	addr, err := s.coordinator.NextAddress(venueID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"nextAddress": addr})
}
