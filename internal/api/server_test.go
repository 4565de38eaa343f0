package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lnesto74/hyperspace-sub000/internal/commission"
	"github.com/lnesto74/hyperspace-sub000/internal/config"
	"github.com/lnesto74/hyperspace-sub000/internal/deploy"
	"github.com/lnesto74/hyperspace-sub000/internal/edge"
	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/mesh"
	"github.com/lnesto74/hyperspace-sub000/internal/place"
	"github.com/lnesto74/hyperspace-sub000/internal/relay"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// newTestServer stands up the full API over a fresh database. The mesh
// directory runs with the mock fallback so gateway routes are deterministic
// without a live mesh.
func newTestServer(t *testing.T, env map[string]string) (*httptest.Server, *store.Store) {
	t.Helper()
	t.Setenv("MQTT_BROKER_URL", "mqtt://broker.local:1883")
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "api-test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	directory := mesh.New(st, cfg.HostnamePatterns, cfg.GatewayTag, true)
	edgeClient := edge.NewClient(httputil.NewMockHTTPClient(), cfg.EdgePort)
	rl := relay.New(nil, cfg.EdgePort, cfg.EdgeWSPort)
	coordinator := commission.New(st, edgeClient, cfg.AddressPoolBase, cfg.FactoryAddress)
	engine := deploy.New(st, directory, edgeClient, cfg)
	facade := place.New(st, nil, cfg.SolverURL)

	srv := NewServer(st, cfg, directory, edgeClient, rl, coordinator, engine, facade)
	ts := httptest.NewServer(LoggingMiddleware(srv.ServeMux()))
	t.Cleanup(ts.Close)
	return ts, st
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, "GET", ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestVenueLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := doJSON(t, "POST", ts.URL+"/api/venues", map[string]interface{}{
		"label": "Warehouse A", "width_m": 40.0, "depth_m": 25.0, "height_m": 8.0,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var v store.Venue
	decodeBody(t, resp, &v)
	if v.ID == "" {
		t.Fatal("created venue has no ID")
	}

	resp = doJSON(t, "GET", ts.URL+"/api/venues/"+v.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/venues/no-such-venue", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown venue status = %d, want 404", resp.StatusCode)
	}

	// A two-point polygon is not a region.
	resp = doJSON(t, "PUT", ts.URL+"/api/venues/"+v.ID+"/roi", map[string]interface{}{
		"vertices": []store.Vertex{{X: 0, Z: 0}, {X: 10, Z: 0}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("degenerate ROI status = %d, want 400", resp.StatusCode)
	}

	square := []store.Vertex{{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10}}
	resp = doJSON(t, "PUT", ts.URL+"/api/venues/"+v.ID+"/roi", map[string]interface{}{"vertices": square})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put ROI status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/venues/"+v.ID+"/roi", nil)
	var roi struct {
		LayoutID string         `json:"layoutId"`
		Vertices []store.Vertex `json:"vertices"`
	}
	decodeBody(t, resp, &roi)
	if roi.LayoutID != "default" {
		t.Errorf("layoutId = %q, want default", roi.LayoutID)
	}
	if len(roi.Vertices) != 4 {
		t.Errorf("got %d vertices, want 4", len(roi.Vertices))
	}
}

func TestSetActiveLayoutRedirectsROIReads(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var v store.Venue
	decodeBody(t, doJSON(t, "POST", ts.URL+"/api/venues", map[string]interface{}{
		"label": "Warehouse B", "width_m": 40.0, "depth_m": 25.0, "height_m": 8.0,
	}), &v)

	square := []store.Vertex{{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10}}
	doJSON(t, "PUT", ts.URL+"/api/venues/"+v.ID+"/roi?layoutId=layout-2",
		map[string]interface{}{"vertices": square})

	resp := doJSON(t, "PUT", ts.URL+"/api/venues/"+v.ID+"/active-layout",
		map[string]interface{}{"layoutId": "layout-2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set active layout status = %d, want 200", resp.StatusCode)
	}

	// ROI reads without an explicit layoutId now resolve against layout-2.
	var roi struct {
		LayoutID string         `json:"layoutId"`
		Vertices []store.Vertex `json:"vertices"`
	}
	decodeBody(t, doJSON(t, "GET", ts.URL+"/api/venues/"+v.ID+"/roi", nil), &roi)
	if roi.LayoutID != "layout-2" || len(roi.Vertices) != 4 {
		t.Errorf("expected layout-2 with 4 vertices, got %q with %d", roi.LayoutID, len(roi.Vertices))
	}

	resp = doJSON(t, "PUT", ts.URL+"/api/venues/"+v.ID+"/active-layout", map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing layoutId status = %d, want 400", resp.StatusCode)
	}
	resp = doJSON(t, "PUT", ts.URL+"/api/venues/no-such-venue/active-layout",
		map[string]interface{}{"layoutId": "layout-2"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown venue status = %d, want 404", resp.StatusCode)
	}
}

func TestGatewayNameRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	// Before any rename the override is empty, not an error.
	resp := doJSON(t, "GET", ts.URL+"/api/edge/mock-gw-1/name", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get name status = %d, want 200", resp.StatusCode)
	}
	var name struct {
		GatewayID   string `json:"gateway_id"`
		DisplayName string `json:"display_name"`
	}
	decodeBody(t, resp, &name)
	if name.DisplayName != "" {
		t.Errorf("expected empty display name, got %q", name.DisplayName)
	}

	resp = doJSON(t, "PUT", ts.URL+"/api/edge/mock-gw-1/name",
		map[string]interface{}{"displayName": "Loading Dock"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d, want 200", resp.StatusCode)
	}

	decodeBody(t, doJSON(t, "GET", ts.URL+"/api/edge/mock-gw-1/name", nil), &name)
	if name.GatewayID != "mock-gw-1" || name.DisplayName != "Loading Dock" {
		t.Errorf("rename did not round-trip: %+v", name)
	}
}

func TestCreateVenueRequiresLabel(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, "POST", ts.URL+"/api/venues", map[string]interface{}{"width_m": 10.0})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestModelCatalog(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := doJSON(t, "POST", ts.URL+"/api/models", map[string]interface{}{
		"label": "Hesai QT128", "hfov_deg": 360.0, "vfov_deg": 105.0, "range_m": 20.0, "dome_mode": true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var m store.SensorModel
	decodeBody(t, resp, &m)

	resp = doJSON(t, "GET", ts.URL+"/api/models", nil)
	var list struct {
		Models []store.SensorModel `json:"models"`
	}
	decodeBody(t, resp, &list)
	if len(list.Models) != 1 || list.Models[0].ID != m.ID {
		t.Fatalf("list = %+v, want the created model", list.Models)
	}

	m.RangeM = 25
	resp = doJSON(t, "PUT", ts.URL+"/api/models", m)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, "PUT", ts.URL+"/api/models", map[string]interface{}{"label": "no id", "range_m": 5.0})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("update without id status = %d, want 400", resp.StatusCode)
	}
}

func TestOperationalParamsValidation(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := doJSON(t, "PUT", ts.URL+"/api/operational-params", map[string]interface{}{
		"minDetectionHeight": 2.0, "maxDetectionHeight": 1.0,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("inverted heights status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, "PUT", ts.URL+"/api/operational-params", map[string]interface{}{
		"publishRateHz": 20,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/operational-params", nil)
	var params config.OperationalParams
	decodeBody(t, resp, &params)
	if params.PublishRateHz != 20 {
		t.Errorf("publishRateHz = %d, want 20", params.PublishRateHz)
	}
	// Untouched fields keep their previous values.
	if params.CeilingY != 4.0 {
		t.Errorf("ceilingY = %v, want 4.0", params.CeilingY)
	}
}

func TestDisabledFeaturesAnswer404(t *testing.T) {
	ts, _ := newTestServer(t, map[string]string{
		"FEATURE_SOLVER":        "false",
		"FEATURE_COMMISSIONING": "false",
		"FEATURE_PCL_RELAY":     "false",
	})

	for _, tc := range []struct{ method, path string }{
		{"POST", "/api/autoplace"},
		{"POST", "/api/simulate"},
		{"GET", "/api/next-available-ip?venueId=v"},
		{"GET", "/api/commissioned-lidars?venueId=v"},
		{"GET", "/api/pcl/snapshot"},
	} {
		resp := doJSON(t, tc.method, ts.URL+tc.path, map[string]string{})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestPairingValidation(t *testing.T) {
	ts, st := newTestServer(t, nil)

	v := &store.Venue{Label: "Site"}
	if err := st.CreateVenue(v); err != nil {
		t.Fatal(err)
	}
	m := &store.SensorModel{Label: "M", RangeM: 10}
	if err := st.CreateSensorModel(m); err != nil {
		t.Fatal(err)
	}
	mount := &store.PlannedMount{
		VenueID: v.ID, LayoutID: "default", Source: store.MountSourceManual,
		ModelID: m.ID, X: 1, Z: 1, MountHeightM: 3,
	}
	if err := st.CreateMount(mount); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "POST", ts.URL+"/api/pairings", map[string]string{"venue_id": v.ID})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("partial pairing status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, "POST", ts.URL+"/api/pairings", map[string]string{
		"venue_id": v.ID, "gateway_id": "mock-gw-1",
		"planned_mount_id": mount.ID, "sensor_id": "sensor-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/pairings", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("list without venueId status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/pairings?venueId="+v.ID, nil)
	var list struct {
		Pairings []store.Pairing `json:"pairings"`
	}
	decodeBody(t, resp, &list)
	if len(list.Pairings) != 1 {
		t.Fatalf("got %d pairings, want 1", len(list.Pairings))
	}
}

func TestGatewayStatusAlways200(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, "GET", ts.URL+"/api/edge/no-such-gateway/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Online bool `json:"online"`
	}
	decodeBody(t, resp, &body)
	if body.Online {
		t.Error("unknown gateway reported online")
	}
}

func TestNextAddressAdvancesPastSeeded(t *testing.T) {
	ts, st := newTestServer(t, nil)

	v := &store.Venue{Label: "Site"}
	if err := st.CreateVenue(v); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "GET", ts.URL+"/api/next-available-ip?venueId="+v.ID, nil)
	var body map[string]string
	decodeBody(t, resp, &body)
	if !strings.HasSuffix(body["nextAddress"], ".201") {
		t.Fatalf("first address = %q, want *.201", body["nextAddress"])
	}

	if err := st.CreateCommissionedSensor(&store.CommissionedSensor{
		VenueID: v.ID, GatewayID: "mock-gw-1",
		AssignedAddress: "192.168.1.201", OriginalAddress: "192.168.1.200",
		Label: "LiDAR-201",
	}); err != nil {
		t.Fatal(err)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/next-available-ip?venueId="+v.ID, nil)
	decodeBody(t, resp, &body)
	if !strings.HasSuffix(body["nextAddress"], ".202") {
		t.Fatalf("next address = %q, want *.202", body["nextAddress"])
	}
}

func TestRetireThenDeleteCommissioned(t *testing.T) {
	ts, st := newTestServer(t, nil)

	v := &store.Venue{Label: "Site"}
	if err := st.CreateVenue(v); err != nil {
		t.Fatal(err)
	}
	c := &store.CommissionedSensor{
		VenueID: v.ID, GatewayID: "mock-gw-1",
		AssignedAddress: "192.168.1.201", OriginalAddress: "192.168.1.200",
		Label: "LiDAR-201",
	}
	if err := st.CreateCommissionedSensor(c); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "DELETE", ts.URL+"/api/commissioned-lidars/"+c.ID+"?retire=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retire status = %d, want 200", resp.StatusCode)
	}
	sensors, err := st.ListCommissionedSensors(v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sensors) != 1 || sensors[0].Status != store.SensorStatusRetired {
		t.Fatalf("after retire: %+v", sensors)
	}

	resp = doJSON(t, "DELETE", ts.URL+"/api/commissioned-lidars/"+c.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	resp = doJSON(t, "DELETE", ts.URL+"/api/commissioned-lidars/"+c.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestDeployHistoryRequiresVenue(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := doJSON(t, "GET", ts.URL+"/api/deploy-history", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/deploy-history?venueId=v1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Records []json.RawMessage `json:"records"`
	}
	decodeBody(t, resp, &body)
	if len(body.Records) != 0 {
		t.Errorf("fresh venue has %d history records", len(body.Records))
	}
}

func TestSnapshotRequiresAddresses(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, "GET", ts.URL+"/api/pcl/snapshot?format=json", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSimulateCoverage(t *testing.T) {
	ts, st := newTestServer(t, nil)

	factor := 1.0
	m := &store.SensorModel{
		Label: "Dome", HFOVDeg: 360, VFOVDeg: 105, RangeM: 20,
		DomeMode: true, FloorCoverageFactor: &factor,
	}
	if err := st.CreateSensorModel(m); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "POST", ts.URL+"/api/simulate", map[string]interface{}{
		"modelId": m.ID,
		"roiPolygon": []store.Vertex{
			{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10},
		},
		"placements": []map[string]float64{{"x": 5, "z": 5, "yaw": 0}},
		"settings":   map[string]interface{}{"sampleSpacing": 1.0},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var cov place.Coverage
	decodeBody(t, resp, &cov)
	if cov.CoveragePct != 100 {
		t.Errorf("coveragePct = %v, want 100", cov.CoveragePct)
	}
	if cov.TotalCells != 100 {
		t.Errorf("totalCells = %d, want 100", cov.TotalCells)
	}
}

func TestSimulateUnknownModel404(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, "POST", ts.URL+"/api/simulate", map[string]interface{}{
		"modelId": "no-such-model",
		"roiPolygon": []store.Vertex{
			{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10},
		},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAutoplacePersistsAutoMounts(t *testing.T) {
	ts, st := newTestServer(t, nil)

	v := &store.Venue{Label: "Hall", WidthM: 30, DepthM: 20, HeightM: 6}
	if err := st.CreateVenue(v); err != nil {
		t.Fatal(err)
	}
	factor := 1.0
	m := &store.SensorModel{
		Label: "Dome", HFOVDeg: 360, VFOVDeg: 105, RangeM: 8,
		DomeMode: true, FloorCoverageFactor: &factor,
	}
	if err := st.CreateSensorModel(m); err != nil {
		t.Fatal(err)
	}
	square := []store.Vertex{{X: 0, Z: 0}, {X: 20, Z: 0}, {X: 20, Z: 15}, {X: 0, Z: 15}}
	if err := st.UpsertROI(v.ID, "default", square); err != nil {
		t.Fatal(err)
	}

	// No solver configured: the greedy fallback places sensors and the run
	// is persisted as auto mounts.
	resp := doJSON(t, "POST", ts.URL+"/api/autoplace", map[string]interface{}{
		"venueId": v.ID,
		"modelId": m.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result place.Result
	decodeBody(t, resp, &result)
	if result.SensorCount < 1 {
		t.Fatalf("sensorCount = %d, want >= 1", result.SensorCount)
	}
	if result.SolverStatus != place.StatusGreedy && result.SolverStatus != place.StatusCentroid {
		t.Errorf("solverStatus = %q, want a fallback status", result.SolverStatus)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/placements?venueId="+v.ID, nil)
	var placements struct {
		Mounts []store.PlannedMount `json:"mounts"`
	}
	decodeBody(t, resp, &placements)
	if len(placements.Mounts) != result.SensorCount {
		t.Fatalf("persisted %d mounts, result says %d", len(placements.Mounts), result.SensorCount)
	}
	for _, mount := range placements.Mounts {
		if mount.Source != store.MountSourceAuto {
			t.Errorf("mount %s source = %q, want auto", mount.ID, mount.Source)
		}
	}
}

func TestAutoplaceWithoutROI400(t *testing.T) {
	ts, st := newTestServer(t, nil)

	v := &store.Venue{Label: "Empty"}
	if err := st.CreateVenue(v); err != nil {
		t.Fatal(err)
	}
	m := &store.SensorModel{Label: "M", RangeM: 10}
	if err := st.CreateSensorModel(m); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "POST", ts.URL+"/api/autoplace", map[string]interface{}{
		"venueId": v.ID, "modelId": m.ID,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, venue has no ROI", resp.StatusCode)
	}
}

func TestCoverageDebugChart(t *testing.T) {
	ts, st := newTestServer(t, nil)

	v := &store.Venue{Label: "Hall"}
	if err := st.CreateVenue(v); err != nil {
		t.Fatal(err)
	}
	m := &store.SensorModel{Label: "Dome", HFOVDeg: 360, VFOVDeg: 105, RangeM: 20, DomeMode: true}
	if err := st.CreateSensorModel(m); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertROI(v.ID, "default", []store.Vertex{
		{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10},
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateMount(&store.PlannedMount{
		VenueID: v.ID, LayoutID: "default", Source: store.MountSourceManual,
		ModelID: m.ID, X: 5, Z: 5, MountHeightM: 3,
	}); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "GET", fmt.Sprintf("%s/debug/coverage?venueId=%s", ts.URL, v.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var html bytes.Buffer
	if _, err := html.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html.String(), "echarts") {
		t.Error("chart output does not embed echarts")
	}
}
