// Package place normalizes auto-placement requests, dispatches them to the
// external solver when one is configured, falls back to an internal greedy
// placement otherwise, and persists the resulting mounts.
package place

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/monitoring"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// solverDeadline bounds one external solver dispatch.
const solverDeadline = 30 * time.Second

// ErrSuperseded means a newer run for the same layout started before this
// one committed; its results are discarded.
var ErrSuperseded = errors.New("placement run superseded by a newer run")

// Overlap modes.
const (
	OverlapEverywhere    = "everywhere"
	OverlapCriticalOnly  = "criticalOnly"
	OverlapPercentTarget = "percentTarget"
)

// Solver status labels recorded with each run.
const (
	StatusExternal = "external"
	StatusGreedy   = "greedy"
	StatusCentroid = "centroid"
)

// Fixture is a layout obstacle. Either an explicit footprint polygon or a
// rotated rectangle; fixtures with neither contribute nothing.
type Fixture struct {
	Footprint   []store.Vertex `json:"footprint,omitempty"`
	Center      *store.Vertex  `json:"center,omitempty"`
	DimX        float64        `json:"dim_x,omitempty"`
	DimZ        float64        `json:"dim_z,omitempty"`
	RotationRad float64        `json:"rotation_rad,omitempty"`
}

// Polygon resolves the fixture to an obstacle polygon, or nil.
func (f *Fixture) Polygon() []store.Vertex {
	if len(f.Footprint) >= 3 {
		return f.Footprint
	}
	if f.Center != nil && f.DimX > 0 && f.DimZ > 0 {
		return RotatedRectCorners(r2.Vec{X: f.Center.X, Y: f.Center.Z}, f.DimX, f.DimZ, f.RotationRad)
	}
	return nil
}

// Settings tune one placement run. Zero values are filled by normalize.
type Settings struct {
	MountHeight      float64 `json:"mountHeight"`
	SampleSpacing    float64 `json:"sampleSpacing"`
	CandidateSpacing float64 `json:"candidateSpacing"`
	Keepout          float64 `json:"keepout"`
	OverlapMode      string  `json:"overlapMode"`
	KRequired        int     `json:"kRequired"`
	OverlapTargetPct float64 `json:"overlapTargetPct"`
	LOSEnabled       bool    `json:"losEnabled"`
	LOSCellSize      float64 `json:"losCellSize"`
	YawStepDeg       float64 `json:"yawStepDeg"`
	MaxSensors       int     `json:"maxSensors"`
	TimeLimit        float64 `json:"timeLimit"`
	Seed             int64   `json:"seed"`
}

// Request is one normalized placement request. Critical is the optional
// sub-polygon that criticalOnly overlap mode applies KRequired to.
type Request struct {
	VenueID  string         `json:"venueId"`
	LayoutID string         `json:"layoutId"`
	ROI      []store.Vertex `json:"roiPolygon"`
	Critical []store.Vertex `json:"criticalPolygon,omitempty"`
	Fixtures []Fixture      `json:"obstacles"`
	Model    store.SensorModel
	Settings Settings
}

// Placement is one solver-chosen sensor position in planner coordinates.
type Placement struct {
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	YawRad float64 `json:"yaw"`
}

// Result is the outcome of one placement run.
type Result struct {
	RunID        string      `json:"runId"`
	Placements   []Placement `json:"placements"`
	SolverStatus string      `json:"solverStatus"`
	SensorCount  int         `json:"sensorCount"`
	CoveragePct  float64     `json:"coveragePct"`
	KCoveragePct float64     `json:"kCoveragePct"`
	Warnings     []string    `json:"warnings,omitempty"`
}

// MountStore is the persistence surface for placement results.
type MountStore interface {
	ReplaceAutoMounts(venueID, layoutID string, mounts []store.PlannedMount, runSettings, runResults string) (string, error)
}

// Facade dispatches placement requests. Runs for the same layout are
// serialized at commit; a newer run invalidates any older uncommitted one.
type Facade struct {
	store     MountStore
	http      httputil.HTTPClient
	solverURL string

	mu  sync.Mutex
	gen map[string]uint64
}

// New creates a facade. An empty solverURL means the greedy fallback is
// always used.
func New(s MountStore, hc httputil.HTTPClient, solverURL string) *Facade {
	if hc == nil {
		hc = httputil.NewStandardClient(&http.Client{})
	}
	return &Facade{store: s, http: hc, solverURL: solverURL, gen: make(map[string]uint64)}
}

func (f *Facade) normalize(req *Request) error {
	if len(req.ROI) < 3 {
		return fmt.Errorf("roiPolygon requires at least 3 vertices, got %d", len(req.ROI))
	}
	s := &req.Settings
	if s.MountHeight <= 0 {
		s.MountHeight = 3.0
	}
	if s.SampleSpacing <= 0 {
		s.SampleSpacing = 0.5
	}
	if s.CandidateSpacing <= 0 {
		s.CandidateSpacing = 1.4 * EffectiveRadius(&req.Model, s.MountHeight)
	}
	if s.OverlapMode == "" {
		s.OverlapMode = OverlapEverywhere
	}
	if s.KRequired <= 0 {
		s.KRequired = 1
	}
	if s.LOSCellSize <= 0 {
		s.LOSCellSize = 0.5
	}
	if s.YawStepDeg <= 0 {
		s.YawStepDeg = 30
	}
	if s.MaxSensors <= 0 {
		s.MaxSensors = 20
	}
	return nil
}

// Run executes one placement request end to end: normalize, dispatch or fall
// back, simulate coverage, persist. The returned run ID identifies the
// placement_run audit row.
func (f *Facade) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := f.normalize(req); err != nil {
		return nil, err
	}
	myGen := f.bumpGen(req.VenueID, req.LayoutID)

	var (
		warnings   []string
		placements []Placement
		status     string
	)
	if f.solverURL == "" {
		placements, status = Greedy(req)
	} else {
		var solverWarnings []string
		var err error
		placements, status, solverWarnings, err = f.dispatch(ctx, req)
		if err != nil {
			monitoring.Logf("place: external solver failed (%v); using greedy fallback", err)
			warnings = append(warnings, fmt.Sprintf("external solver unavailable: %v", err))
			placements, status = Greedy(req)
		} else {
			warnings = append(warnings, solverWarnings...)
		}
	}

	obstacles := obstaclePolygons(req.Fixtures)
	cov := Simulate(req.ROI, obstacles, placements, &req.Model, &req.Settings)

	result := &Result{
		Placements:   placements,
		SolverStatus: status,
		SensorCount:  len(placements),
		CoveragePct:  cov.CoveragePct,
		KCoveragePct: cov.KCoveragePct,
		Warnings:     warnings,
	}

	// A newer run for this layout owns the layout now; discard ours without
	// touching the store.
	if !f.genCurrent(req.VenueID, req.LayoutID, myGen) {
		return nil, ErrSuperseded
	}

	mounts := make([]store.PlannedMount, len(placements))
	for i, p := range placements {
		mounts[i] = store.PlannedMount{
			ModelID:      req.Model.ID,
			X:            p.X,
			Z:            p.Z,
			YawRad:       p.YawRad,
			MountHeightM: req.Settings.MountHeight,
		}
	}
	settingsJSON, _ := json.Marshal(req.Settings)
	resultsJSON, _ := json.Marshal(map[string]interface{}{
		"coveragePct":       result.CoveragePct,
		"kCoveragePct":      result.KCoveragePct,
		"sensorCount":       result.SensorCount,
		"solverStatus":      result.SolverStatus,
		"warnings":          result.Warnings,
		"effectiveRadiusM":  EffectiveRadius(&req.Model, req.Settings.MountHeight),
		"totalSamplePoints": cov.TotalCells,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen[req.VenueID+"|"+req.LayoutID] != myGen {
		return nil, ErrSuperseded
	}
	runID, err := f.store.ReplaceAutoMounts(req.VenueID, req.LayoutID, mounts, string(settingsJSON), string(resultsJSON))
	if err != nil {
		return nil, err
	}
	result.RunID = runID
	return result, nil
}

func (f *Facade) bumpGen(venueID, layoutID string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := venueID + "|" + layoutID
	f.gen[key]++
	return f.gen[key]
}

func (f *Facade) genCurrent(venueID, layoutID string, gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen[venueID+"|"+layoutID] == gen
}

// dispatch posts the request to the external solver. Any failure, including
// success=false in the response, sends the caller to the greedy fallback. A
// solver that relaxed k-coverage to reach feasibility reports it; the
// relaxation is surfaced as a warning, not a failure.
func (f *Facade) dispatch(ctx context.Context, req *Request) ([]Placement, string, []string, error) {
	if f.solverURL == "" {
		return nil, "", nil, errors.New("no solver configured")
	}

	ctx, cancel := context.WithTimeout(ctx, solverDeadline)
	defer cancel()

	body := map[string]interface{}{
		"roiPolygon": req.ROI,
		"obstacles":  obstaclePolygons(req.Fixtures),
		"sensorModel": map[string]interface{}{
			"hfov":     req.Model.HFOVDeg,
			"vfov":     req.Model.VFOVDeg,
			"range":    req.Model.RangeM,
			"domeMode": req.Model.DomeMode,
		},
		"settings": req.Settings,
	}
	if len(req.Critical) >= 3 {
		body["criticalPolygon"] = req.Critical
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", nil, err
	}
	httpReq, err := httputil.NewJSONRequest(ctx, http.MethodPost, f.solverURL+"/solve", payload)
	if err != nil {
		return nil, "", nil, err
	}
	resp, err := f.http.Do(httpReq)
	if err != nil {
		return nil, "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", nil, fmt.Errorf("solver returned %d", resp.StatusCode)
	}

	var decoded struct {
		Success     bool        `json:"success"`
		Error       string      `json:"error"`
		Placements  []Placement `json:"placements"`
		RelaxedToK1 bool        `json:"relaxedToK1"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, "", nil, fmt.Errorf("decoding solver response: %w", err)
	}
	if !decoded.Success {
		return nil, "", nil, fmt.Errorf("solver reported failure: %s", decoded.Error)
	}
	var warnings []string
	if decoded.RelaxedToK1 {
		warnings = append(warnings,
			fmt.Sprintf("solver relaxed overlap requirement from k=%d to k=1", req.Settings.KRequired))
	}
	return decoded.Placements, StatusExternal, warnings, nil
}

// Greedy is the internal fallback: grid candidates inside the ROI, an
// area-based target count, even-stride selection, yaw zero. An ROI too small
// for the grid gets a single sensor at its centroid.
func Greedy(req *Request) ([]Placement, string) {
	s := &req.Settings
	obstacles := obstaclePolygons(req.Fixtures)
	candidates := candidateGrid(req.ROI, obstacles, s.CandidateSpacing, s.Keepout)

	if len(candidates) == 0 {
		c := PolygonCentroid(req.ROI)
		return []Placement{{X: c.X, Z: c.Y}}, StatusCentroid
	}

	radius := EffectiveRadius(&req.Model, s.MountHeight)
	area := PolygonArea(req.ROI)
	target := int(math.Ceil(area * float64(s.KRequired) / (math.Pi * radius * radius)))
	if target < 1 {
		target = 1
	}
	if target > s.MaxSensors {
		target = s.MaxSensors
	}
	if target > len(candidates) {
		target = len(candidates)
	}

	placements := make([]Placement, 0, target)
	stride := float64(len(candidates)) / float64(target)
	for i := 0; i < target; i++ {
		c := candidates[int(float64(i)*stride)]
		placements = append(placements, Placement{X: c.X, Z: c.Y})
	}
	return placements, StatusGreedy
}

// candidateGrid samples the ROI bounding box at the given spacing, keeping
// points inside the polygon and outside every obstacle's keepout band.
func candidateGrid(roi []store.Vertex, obstacles [][]store.Vertex, spacing, keepout float64) []r2.Vec {
	minX, minZ, maxX, maxZ := roi[0].X, roi[0].Z, roi[0].X, roi[0].Z
	for _, v := range roi[1:] {
		minX = math.Min(minX, v.X)
		minZ = math.Min(minZ, v.Z)
		maxX = math.Max(maxX, v.X)
		maxZ = math.Max(maxZ, v.Z)
	}

	var candidates []r2.Vec
	for x := minX + spacing/2; x < maxX; x += spacing {
		for z := minZ + spacing/2; z < maxZ; z += spacing {
			p := r2.Vec{X: x, Y: z}
			if !PointInPolygon(p, roi) {
				continue
			}
			blocked := false
			for _, obs := range obstacles {
				if DistanceToPolygon(p, obs) <= keepout {
					blocked = true
					break
				}
			}
			if !blocked {
				candidates = append(candidates, p)
			}
		}
	}
	return candidates
}

func obstaclePolygons(fixtures []Fixture) [][]store.Vertex {
	var out [][]store.Vertex
	for i := range fixtures {
		if poly := fixtures[i].Polygon(); poly != nil {
			out = append(out, poly)
		}
	}
	return out
}
