package api

import (
	"encoding/json"
	"net/http"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

func (s *Server) handleListPairings(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	if venueID == "" {
		httputil.BadRequest(w, "venueId is required")
		return
	}
	pairings, err := s.store.ListPairings(venueID, r.URL.Query().Get("gatewayId"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"pairings": pairings})
}

func (s *Server) handleUpsertPairing(w http.ResponseWriter, r *http.Request) {
	var p store.Pairing
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if p.VenueID == "" || p.GatewayID == "" || p.PlannedMountID == "" || p.SensorID == "" {
		httputil.BadRequest(w, "venue_id, gateway_id, planned_mount_id and sensor_id are required")
		return
	}
	if err := s.store.UpsertPairing(&p); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, p)
}

func (s *Server) handleRemovePairing(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	mountID := r.URL.Query().Get("plannedMountId")
	if venueID == "" || mountID == "" {
		httputil.BadRequest(w, "venueId and plannedMountId are required")
		return
	}
	if err := s.store.RemovePairingByMount(venueID, mountID); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"removed": mountID})
}

func (s *Server) handleSweepPairings(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venueId")
	if venueID == "" {
		httputil.BadRequest(w, "venueId is required")
		return
	}
	count, err := s.store.SweepOrphanPairings(venueID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]int{"removed": count})
}
