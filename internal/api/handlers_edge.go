package api

import (
	"encoding/json"
	"net/http"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/relay"
)

func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.directory.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"gateways": gateways})
}

func (s *Server) handleRenameGateway(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string  `json:"displayName"`
		Notes       *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if body.DisplayName == "" {
		httputil.BadRequest(w, "displayName must not be empty")
		return
	}
	if err := s.directory.Rename(r.PathValue("id"), body.DisplayName, body.Notes); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"gatewayId": r.PathValue("id"), "displayName": body.DisplayName})
}

// handleGetGatewayName returns the persisted display-name override. No
// override is not an error: the gateway simply has no operator name yet.
func (s *Server) handleGetGatewayName(w http.ResponseWriter, r *http.Request) {
	name, err := s.store.GetGatewayName(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if name == nil {
		httputil.WriteJSONOK(w, map[string]interface{}{"gateway_id": r.PathValue("id"), "display_name": ""})
		return
	}
	httputil.WriteJSONOK(w, name)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	gw, err := s.directory.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	inventory, err := s.edge.Inventory(r.Context(), gw.MeshAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(inventory)
}

func (s *Server) handleScanLidars(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetIP string `json:"targetIp"`
		VenueID  string `json:"venueId"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	gw, err := s.directory.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.coordinator.Scan(r.Context(), body.VenueID, gw.MeshAddress, body.TargetIP)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}

// handleGatewayStatus always answers 200; reachability is in the body.
func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	gw, err := s.directory.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteJSONOK(w, map[string]interface{}{"online": false, "message": err.Error()})
		return
	}
	httputil.WriteJSONOK(w, s.edge.Status(r.Context(), gw.MeshAddress))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := relay.SnapshotParams{
		GatewayAddress: q.Get("gatewayAddress"),
		SensorAddress:  q.Get("sensorAddress"),
		Format:         q.Get("format"),
		Duration:       q.Get("duration"),
		MaxPoints:      q.Get("maxPoints"),
		Downsample:     q.Get("downsample"),
		ModelHint:      q.Get("modelHint"),
	}
	if params.GatewayAddress == "" || params.SensorAddress == "" {
		httputil.BadRequest(w, "gatewayAddress and sensorAddress are required")
		return
	}
	// When the caller names a gateway ID instead of an address, resolve it.
	if gw, err := s.directory.Resolve(r.Context(), params.GatewayAddress); err == nil {
		params.GatewayAddress = gw.MeshAddress
	}
	if err := s.relay.Snapshot(r.Context(), w, params); err != nil {
		writeError(w, err)
	}
}
