package place

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

type fakeMountStore struct {
	mu     sync.Mutex
	calls  int
	mounts []store.PlannedMount
}

func (f *fakeMountStore) ReplaceAutoMounts(venueID, layoutID string, mounts []store.PlannedMount, runSettings, runResults string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.mounts = mounts
	return "run-1", nil
}

func domeModel(rangeM float64) store.SensorModel {
	one := 1.0
	return store.SensorModel{
		ID: "dome-16", Label: "Dome 16", HFOVDeg: 360, VFOVDeg: 90,
		RangeM: rangeM, DomeMode: true, FloorCoverageFactor: &one,
	}
}

func newRequest() *Request {
	return &Request{
		VenueID:  "v1",
		LayoutID: "layout-1",
		ROI:      unitSquare, // 10x10, area 100
		Model:    domeModel(5),
		Settings: Settings{CandidateSpacing: 2, KRequired: 2},
	}
}

func TestGreedyFallbackCountAndContainment(t *testing.T) {
	req := newRequest()
	f := New(&fakeMountStore{}, httputil.NewMockHTTPClient(), "")
	if err := f.normalize(req); err != nil {
		t.Fatal(err)
	}

	placements, status := Greedy(req)
	if status != StatusGreedy {
		t.Fatalf("expected greedy status, got %s", status)
	}
	// area 100, k 2, r 5: ceil(200 / (pi * 25)) = 3.
	if len(placements) < 3 || len(placements) > req.Settings.MaxSensors {
		t.Errorf("expected between 3 and %d sensors, got %d", req.Settings.MaxSensors, len(placements))
	}
	for i, p := range placements {
		if !PointInPolygon(r2.Vec{X: p.X, Y: p.Z}, req.ROI) {
			t.Errorf("placement %d at (%v,%v) outside the ROI", i, p.X, p.Z)
		}
	}
}

func TestGreedyCentroidFallbackForTinyROI(t *testing.T) {
	req := newRequest()
	req.ROI = []store.Vertex{{X: 0, Z: 0}, {X: 0.5, Z: 0}, {X: 0.5, Z: 0.5}, {X: 0, Z: 0.5}}
	req.Settings.CandidateSpacing = 7
	f := New(&fakeMountStore{}, httputil.NewMockHTTPClient(), "")
	if err := f.normalize(req); err != nil {
		t.Fatal(err)
	}

	placements, status := Greedy(req)
	if status != StatusCentroid {
		t.Fatalf("expected centroid status, got %s", status)
	}
	if len(placements) != 1 {
		t.Fatalf("expected a single centroid sensor, got %d", len(placements))
	}
	if math.Abs(placements[0].X-0.25) > 1e-9 || math.Abs(placements[0].Z-0.25) > 1e-9 {
		t.Errorf("sensor not at centroid: %+v", placements[0])
	}
}

func TestGreedyRespectsObstacleKeepout(t *testing.T) {
	req := newRequest()
	center := store.Vertex{X: 5, Z: 5}
	req.Fixtures = []Fixture{{Center: &center, DimX: 4, DimZ: 4}}
	req.Settings.Keepout = 0.5
	f := New(&fakeMountStore{}, httputil.NewMockHTTPClient(), "")
	if err := f.normalize(req); err != nil {
		t.Fatal(err)
	}

	placements, _ := Greedy(req)
	for _, p := range placements {
		d := DistanceToPolygon(r2.Vec{X: p.X, Y: p.Z}, req.Fixtures[0].Polygon())
		if d <= req.Settings.Keepout {
			t.Errorf("placement (%v,%v) violates keepout (distance %v)", p.X, p.Z, d)
		}
	}
}

func TestRunSolverFailureFallsBack(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(500, "solver exploded")
	ms := &fakeMountStore{}
	f := New(ms, mock, "http://solver.internal")

	result, err := f.Run(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SolverStatus != StatusGreedy {
		t.Errorf("expected greedy fallback, got %s", result.SolverStatus)
	}
	if len(result.Warnings) == 0 {
		t.Error("fallback must carry a warning about the solver")
	}
	if ms.calls != 1 || len(ms.mounts) != result.SensorCount {
		t.Errorf("placements not persisted: calls=%d mounts=%d", ms.calls, len(ms.mounts))
	}
	if result.RunID != "run-1" {
		t.Errorf("run ID not surfaced: %+v", result)
	}
}

func TestRunSolverSuccessFalseFallsBack(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"success":false,"error":"infeasible"}`)
	f := New(&fakeMountStore{}, mock, "http://solver.internal")

	result, err := f.Run(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SolverStatus != StatusGreedy {
		t.Errorf("success=false must trigger the fallback, got %s", result.SolverStatus)
	}
}

func TestRunExternalSolverPlacementsPersisted(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"success":true,"placements":[{"x":2.5,"z":2.5,"yaw":0},{"x":7.5,"z":7.5,"yaw":1.5707963}]}`)
	ms := &fakeMountStore{}
	f := New(ms, mock, "http://solver.internal")

	result, err := f.Run(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SolverStatus != StatusExternal || result.SensorCount != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(ms.mounts) != 2 || ms.mounts[1].YawRad != 1.5707963 {
		t.Errorf("solver placements not persisted faithfully: %+v", ms.mounts)
	}
	if ms.mounts[0].ModelID != "dome-16" || ms.mounts[0].MountHeightM != 3.0 {
		t.Errorf("mount metadata lost: %+v", ms.mounts[0])
	}

	req := mock.GetRequest(0)
	if req.Method != http.MethodPost || req.URL.Path != "/solve" {
		t.Errorf("unexpected solver request %s %s", req.Method, req.URL)
	}
}

func TestRunSurfacesSolverRelaxation(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"success":true,"relaxedToK1":true,"placements":[{"x":5,"z":5,"yaw":0}]}`)
	f := New(&fakeMountStore{}, mock, "http://solver.internal")

	result, err := f.Run(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SolverStatus != StatusExternal {
		t.Fatalf("relaxation is not a failure, got status %s", result.SolverStatus)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "k=1") {
		t.Errorf("expected a relaxation warning, got %v", result.Warnings)
	}
}

func TestRunRejectsDegenerateROI(t *testing.T) {
	req := newRequest()
	req.ROI = req.ROI[:2]
	f := New(&fakeMountStore{}, httputil.NewMockHTTPClient(), "")
	if _, err := f.Run(context.Background(), req); err == nil {
		t.Fatal("expected rejection of a 2-vertex ROI")
	}
}

func TestNewerRunSupersedesPending(t *testing.T) {
	ms := &fakeMountStore{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var firstCall atomic.Bool
	firstCall.Store(true)
	client := clientFunc(func(r *http.Request) (*http.Response, error) {
		if firstCall.CompareAndSwap(true, false) {
			close(entered)
			<-release
			return nil, errors.New("solver timeout")
		}
		return nil, errors.New("solver down")
	})
	f := New(ms, client, "http://solver.internal")

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.Run(context.Background(), newRequest())
		firstDone <- err
	}()
	<-entered

	// Second run commits while the first is still waiting on the solver.
	if _, err := f.Run(context.Background(), newRequest()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	close(release)
	if err := <-firstDone; !errors.Is(err, ErrSuperseded) {
		t.Errorf("expected the first run to be superseded, got %v", err)
	}
	if ms.calls != 1 {
		t.Errorf("only the newest run may commit, got %d commits", ms.calls)
	}
}

func TestRunRecordsResultsJSON(t *testing.T) {
	recorded := struct {
		settings, results string
	}{}
	ms := &recordingMountStore{onReplace: func(settings, results string) {
		recorded.settings = settings
		recorded.results = results
	}}
	f := New(ms, httputil.NewMockHTTPClient(), "")

	if _, err := f.Run(context.Background(), newRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(recorded.settings), &settings); err != nil {
		t.Fatalf("settings not JSON: %v", err)
	}
	if settings.KRequired != 2 {
		t.Errorf("normalized settings not recorded: %+v", settings)
	}
	var results map[string]interface{}
	if err := json.Unmarshal([]byte(recorded.results), &results); err != nil {
		t.Fatalf("results not JSON: %v", err)
	}
	if results["solverStatus"] != StatusGreedy {
		t.Errorf("unexpected recorded results: %v", results)
	}
}

type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

type recordingMountStore struct {
	onReplace func(settings, results string)
}

func (r *recordingMountStore) ReplaceAutoMounts(venueID, layoutID string, mounts []store.PlannedMount, runSettings, runResults string) (string, error) {
	r.onReplace(runSettings, runResults)
	return "run-2", nil
}
