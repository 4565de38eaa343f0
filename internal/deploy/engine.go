// Package deploy assembles extrinsics bundles, hashes them, applies them to
// edge gateways, and keeps the append-only deployment audit trail.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lnesto74/hyperspace-sub000/internal/config"
	"github.com/lnesto74/hyperspace-sub000/internal/frame"
	"github.com/lnesto74/hyperspace-sub000/internal/mesh"
	"github.com/lnesto74/hyperspace-sub000/internal/monitoring"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// ExportBrokerPlaceholder replaces the MQTT broker URL in exported bundles so
// an offline handoff never leaks environment-specific endpoints.
const ExportBrokerPlaceholder = "__MQTT_BROKER_URL__"

// ErrNoLidars means every pairing for the target gateway failed to resolve.
var ErrNoLidars = errors.New("no valid lidars to deploy")

// GatewayResolver gates deploys on gateway reachability.
type GatewayResolver interface {
	Resolve(ctx context.Context, gatewayID string) (*mesh.Gateway, error)
}

// BundleApplier posts a bundle to a gateway.
type BundleApplier interface {
	ApplyConfig(ctx context.Context, meshAddress string, bundle []byte) (json.RawMessage, error)
}

// Engine builds and applies deploy bundles. Deploys to the same
// (venue, gateway) are serialized so audit records are totally ordered.
type Engine struct {
	store    *store.Store
	resolver GatewayResolver
	applier  BundleApplier
	cfg      *config.Config

	now func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	lastNS map[string]int64
}

// New creates a deployment engine.
func New(s *store.Store, resolver GatewayResolver, applier BundleApplier, cfg *config.Config) *Engine {
	return &Engine{
		store:    s,
		resolver: resolver,
		applier:  applier,
		cfg:      cfg,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		lastNS:   make(map[string]int64),
	}
}

// Result is the outcome of a successful deploy.
type Result struct {
	DeploymentID      string   `json:"deploymentId"`
	BundleHash        string   `json:"bundleHash"`
	AppliedBundleHash string   `json:"appliedBundleHash"`
	LidarCount        int      `json:"lidarCount"`
	Warnings          []string `json:"warnings,omitempty"`
}

// BuildBundle assembles the bundle for a (venue, gateway) pair without
// applying it. The returned map omits deploymentId so its hash is stable
// across invocations; Deploy injects the ID after hashing. Pairings whose
// planned mount or sensor model cannot be resolved are skipped with a
// warning.
func (e *Engine) BuildBundle(venueID, gatewayID string) (map[string]interface{}, []string, error) {
	venue, err := e.store.GetVenue(venueID)
	if err != nil {
		return nil, nil, err
	}
	layoutID := activeLayout(venue)

	roi, err := e.store.GetROI(venueID, layoutID)
	if err != nil {
		return nil, nil, err
	}
	mounts, err := e.store.ListMounts(venueID, layoutID)
	if err != nil {
		return nil, nil, err
	}
	minX, minZ, maxX, maxZ, boundsOK, err := e.store.LayoutBounds(venueID, layoutID)
	if err != nil {
		return nil, nil, err
	}
	f := frame.Resolve(roi, mounts, venue, minX, minZ, maxX, maxZ, boundsOK)

	mountByID := make(map[string]*store.PlannedMount, len(mounts))
	for i := range mounts {
		mountByID[mounts[i].ID] = &mounts[i]
	}
	models, err := e.store.ListSensorModels()
	if err != nil {
		return nil, nil, err
	}
	modelByID := make(map[string]*store.SensorModel, len(models))
	for i := range models {
		modelByID[models[i].ID] = &models[i]
	}
	sensors, err := e.store.ListCommissionedSensors(venueID)
	if err != nil {
		return nil, nil, err
	}
	sensorByID := make(map[string]*store.CommissionedSensor, len(sensors))
	for i := range sensors {
		sensorByID[sensors[i].ID] = &sensors[i]
	}

	pairings, err := e.store.ListPairings(venueID, gatewayID)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	lidars := make([]interface{}, 0, len(pairings))
	for _, p := range pairings {
		mount, ok := mountByID[p.PlannedMountID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("pairing %s: planned mount %s not found, skipping", p.ID, p.PlannedMountID))
			continue
		}
		model, ok := modelByID[mount.ModelID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("pairing %s: sensor model %s not found, skipping", p.ID, mount.ModelID))
			continue
		}
		ip := ""
		if p.SensorAddress != nil {
			ip = *p.SensorAddress
		} else if s, ok := sensorByID[p.SensorID]; ok {
			ip = s.AssignedAddress
		}
		if ip == "" {
			warnings = append(warnings, fmt.Sprintf("pairing %s: no sensor address, skipping", p.ID))
			continue
		}

		tm := f.TransformMount(mount)
		lidars = append(lidars, map[string]interface{}{
			"lidarId": p.SensorID,
			"ip":      ip,
			"model": map[string]interface{}{
				"label":    model.Label,
				"hfov":     model.HFOVDeg,
				"vfov":     model.VFOVDeg,
				"range":    model.RangeM,
				"domeMode": model.DomeMode,
			},
			"extrinsics": map[string]interface{}{
				"x_m":       tm.XM,
				"y_m":       tm.YM,
				"z_m":       tm.ZM,
				"yaw_deg":   tm.YawDeg,
				"pitch_deg": 0.0,
				"roll_deg":  0.0,
			},
			"dwgCoordinates": map[string]interface{}{
				"x_m": tm.DwgX,
				"z_m": tm.DwgZ,
			},
		})
	}
	if len(lidars) == 0 {
		return nil, warnings, fmt.Errorf("gateway %s in venue %s: %w", gatewayID, venueID, ErrNoLidars)
	}

	var roiVertices interface{}
	if f.ROI != nil {
		verts := make([]interface{}, len(f.ROI))
		for i, v := range f.ROI {
			verts[i] = map[string]interface{}{"x": v.X, "z": v.Z}
		}
		roiVertices = verts
	}

	params := e.cfg.OperationalParams()
	bundle := map[string]interface{}{
		"gatewayId": gatewayID,
		"venueId":   venueID,
		"mqtt": map[string]interface{}{
			"broker": e.cfg.MQTTBrokerURL,
			"topic":  "hyperspace/trajectories/" + gatewayID,
			"qos":    1,
		},
		"lidars": lidars,
		"coordinateFrame": map[string]interface{}{
			"origin":    "ROI SW corner at floor level",
			"roiOffset": map[string]interface{}{"x": f.Offset.X, "z": f.Offset.Y},
			"axis":      "X-East, Y-Up, Z-North",
			"units":     "meters",
		},
		"venueBounds": map[string]interface{}{
			"width":    f.Width,
			"depth":    f.Depth,
			"minX":     0.0,
			"maxX":     f.Width,
			"minZ":     0.0,
			"maxZ":     f.Depth,
			"floorY":   0.0,
			"ceilingY": params.CeilingY,
		},
		"roiVertices": roiVertices,
		"operationalParams": map[string]interface{}{
			"groundPlaneY":       params.GroundPlaneY,
			"ceilingY":           params.CeilingY,
			"minDetectionHeight": params.MinDetectionHeight,
			"maxDetectionHeight": params.MaxDetectionHeight,
			"publishRateHz":      params.PublishRateHz,
		},
	}
	return bundle, warnings, nil
}

// Deploy builds the bundle, applies it to the gateway, and writes exactly one
// audit record whatever the outcome.
func (e *Engine) Deploy(ctx context.Context, venueID, gatewayID string) (*Result, error) {
	lock := e.lockFor(venueID, gatewayID)
	lock.Lock()
	defer lock.Unlock()

	// Even an unresolvable venue leaves a failed audit row, keyed by the
	// caller-supplied IDs.
	bundle, warnings, err := e.BuildBundle(venueID, gatewayID)
	if err != nil {
		e.record(venueID, gatewayID, "", "{}", store.DeployStatusFailed, nil, err)
		return nil, err
	}
	for _, w := range warnings {
		monitoring.Logf("deploy: %s", w)
	}

	hash, err := CanonicalHash(bundle)
	if err != nil {
		e.record(venueID, gatewayID, "", "{}", store.DeployStatusFailed, nil, err)
		return nil, err
	}

	deploymentID := uuid.NewString()
	bundle["deploymentId"] = deploymentID
	payload, err := json.Marshal(bundle)
	if err != nil {
		err = fmt.Errorf("failed to serialize bundle: %w", err)
		e.record(venueID, gatewayID, hash, "{}", store.DeployStatusFailed, nil, err)
		return nil, err
	}

	gw, err := e.resolver.Resolve(ctx, gatewayID)
	if err != nil {
		e.record(venueID, gatewayID, hash, string(payload), store.DeployStatusFailed, nil, err)
		return nil, err
	}

	response, err := e.applier.ApplyConfig(ctx, gw.MeshAddress, payload)
	if err != nil {
		e.record(venueID, gatewayID, hash, string(payload), store.DeployStatusFailed, nil, err)
		return nil, fmt.Errorf("apply to gateway %s failed: %w", gatewayID, err)
	}

	e.record(venueID, gatewayID, hash, string(payload), store.DeployStatusApplied, response, nil)

	applied := hash
	var ack struct {
		AppliedConfigHash string `json:"appliedConfigHash"`
	}
	if json.Unmarshal(response, &ack) == nil && ack.AppliedConfigHash != "" {
		applied = ack.AppliedConfigHash
	}

	return &Result{
		DeploymentID:      deploymentID,
		BundleHash:        hash,
		AppliedBundleHash: applied,
		LidarCount:        lidarCount(bundle),
		Warnings:          warnings,
	}, nil
}

// Export emits the bundle for offline handoff: the broker URL is replaced by
// a placeholder, nothing is applied, and no record is written.
func (e *Engine) Export(venueID, gatewayID string) (map[string]interface{}, []string, error) {
	bundle, warnings, err := e.BuildBundle(venueID, gatewayID)
	if err != nil {
		return nil, warnings, err
	}
	bundle["mqtt"].(map[string]interface{})["broker"] = ExportBrokerPlaceholder
	bundle["deploymentId"] = uuid.NewString()
	return bundle, warnings, nil
}

// History returns the audit trail for a venue, optionally scoped to one
// gateway, newest first.
func (e *Engine) History(venueID, gatewayID string, limit int) ([]store.DeploymentRecord, error) {
	return e.store.ListDeploymentRecords(venueID, gatewayID, limit)
}

// record writes one audit row. Failures to write the audit trail are logged,
// never propagated: the deploy outcome is already decided.
func (e *Engine) record(venueID, gatewayID, hash, bundle, status string, response json.RawMessage, cause error) {
	rec := &store.DeploymentRecord{
		ID:         uuid.NewString(),
		VenueID:    venueID,
		GatewayID:  gatewayID,
		BundleHash: hash,
		Bundle:     bundle,
		Status:     status,
		CreatedAt:  e.stamp(venueID, gatewayID),
	}
	if response != nil {
		s := string(response)
		rec.GatewayResponse = &s
	}
	if cause != nil {
		s := cause.Error()
		rec.ErrorMessage = &s
	}
	if err := e.store.AppendDeploymentRecord(rec); err != nil {
		monitoring.Logf("deploy: failed to write audit record for %s/%s: %v", venueID, gatewayID, err)
	}
}

// stamp produces a timestamp strictly greater than any previously issued for
// the same (venue, gateway), so audit rows are totally ordered even under
// clock granularity.
func (e *Engine) stamp(venueID, gatewayID string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := venueID + "|" + gatewayID
	ns := e.now().UnixNano()
	if ns <= e.lastNS[key] {
		ns = e.lastNS[key] + 1
	}
	e.lastNS[key] = ns
	return time.Unix(0, ns)
}

func (e *Engine) lockFor(venueID, gatewayID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := venueID + "|" + gatewayID
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

func lidarCount(bundle map[string]interface{}) int {
	if l, ok := bundle["lidars"].([]interface{}); ok {
		return len(l)
	}
	return 0
}

// activeLayout returns the venue's active layout, defaulting to "default"
// for venues created before layouts existed.
func activeLayout(v *store.Venue) string {
	if v.ActiveLayoutID != nil && *v.ActiveLayoutID != "" {
		return *v.ActiveLayoutID
	}
	return "default"
}
