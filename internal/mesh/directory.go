// Package mesh enumerates edge gateways reachable over the mesh VPN and
// resolves gateway identities to reachable addresses.
//
// The directory shells out to the tailscale CLI and decodes its status JSON;
// the decoded peer list is filtered to gateways by hostname substring or ACL
// tag. Operator display-name overrides come from the store and survive the
// gateway going offline or dropping out of the mesh entirely.
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"

	"github.com/lnesto74/hyperspace-sub000/internal/monitoring"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// Directory errors.
var (
	ErrDirectoryUnavailable = errors.New("mesh directory unavailable")
	ErrGatewayNotFound      = errors.New("gateway not found")
	ErrGatewayOffline       = errors.New("gateway offline")
)

// cacheTTL bounds the staleness of the in-process directory snapshot.
const cacheTTL = 5 * time.Second

// Gateway is one mesh-discovered edge gateway.
type Gateway struct {
	GatewayID    string    `json:"gateway_id"`
	HostnameHint string    `json:"hostname_hint"`
	MeshAddress  string    `json:"mesh_address"`
	DisplayName  string    `json:"display_name,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Online       bool      `json:"online"`
	LastSeen     time.Time `json:"last_seen"`
}

// NameStore is the subset of the store used for display-name overrides.
type NameStore interface {
	UpsertGatewayName(g *store.GatewayName) error
	ListGatewayNames() (map[string]store.GatewayName, error)
}

// Directory lists and resolves edge gateways.
type Directory struct {
	names            NameStore
	hostnamePatterns []string
	gatewayTag       string
	mockFallback     bool

	// statusFn runs the mesh status command; replaced in tests.
	statusFn func(ctx context.Context) ([]byte, error)

	mu      sync.Mutex
	cached  []Gateway
	expires time.Time
}

// New creates a directory using the tailscale CLI as the status source.
func New(names NameStore, hostnamePatterns []string, gatewayTag string, mockFallback bool) *Directory {
	return &Directory{
		names:            names,
		hostnamePatterns: hostnamePatterns,
		gatewayTag:       gatewayTag,
		mockFallback:     mockFallback,
		statusFn:         runTailscaleStatus,
	}
}

func runTailscaleStatus(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tailscale", "status", "--json")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("tailscale status: %w", err)
	}
	return out, nil
}

// List returns the gateways currently visible in the mesh, unioned with
// persisted display-name overrides.
func (d *Directory) List(ctx context.Context) ([]Gateway, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Now().Before(d.expires) && d.cached != nil {
		out := make([]Gateway, len(d.cached))
		copy(out, d.cached)
		return out, nil
	}

	gateways, err := d.refreshLocked(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Gateway, len(gateways))
	copy(out, gateways)
	return out, nil
}

// refreshLocked re-runs the status command and rebuilds the cache. Caller
// holds d.mu.
func (d *Directory) refreshLocked(ctx context.Context) ([]Gateway, error) {
	raw, err := d.statusFn(ctx)
	if err != nil {
		if d.mockFallback {
			monitoring.Logf("mesh: status command failed (%v); serving mock directory", err)
			gateways := mockGateways()
			d.applyNames(gateways)
			d.cached = gateways
			d.expires = time.Now().Add(cacheTTL)
			return gateways, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	var status ipnstate.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: decoding status: %v", ErrDirectoryUnavailable, err)
	}

	var gateways []Gateway
	for _, peer := range status.Peer {
		if peer == nil || !d.isGateway(peer) {
			continue
		}
		gw := Gateway{
			GatewayID:    string(peer.ID),
			HostnameHint: peer.HostName,
			Online:       peer.Online,
			LastSeen:     peer.LastSeen,
		}
		if len(peer.TailscaleIPs) > 0 {
			gw.MeshAddress = peer.TailscaleIPs[0].String()
		}
		gateways = append(gateways, gw)
	}
	sort.Slice(gateways, func(i, j int) bool { return gateways[i].GatewayID < gateways[j].GatewayID })

	d.applyNames(gateways)
	d.cached = gateways
	d.expires = time.Now().Add(cacheTTL)
	return gateways, nil
}

// isGateway reports whether a mesh peer is an edge gateway, by tag first and
// hostname substring second.
func (d *Directory) isGateway(peer *ipnstate.PeerStatus) bool {
	if d.gatewayTag != "" && peer.Tags != nil {
		for _, tag := range peer.Tags.AsSlice() {
			if tag == d.gatewayTag {
				return true
			}
		}
	}
	host := strings.ToLower(peer.HostName)
	for _, pattern := range d.hostnamePatterns {
		if strings.Contains(host, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func (d *Directory) applyNames(gateways []Gateway) {
	names, err := d.names.ListGatewayNames()
	if err != nil {
		monitoring.Logf("mesh: failed to load gateway names: %v", err)
		return
	}
	for i := range gateways {
		if n, ok := names[gateways[i].GatewayID]; ok {
			gateways[i].DisplayName = n.DisplayName
			if n.Notes != nil {
				gateways[i].Notes = *n.Notes
			}
		}
	}
}

// Resolve returns the gateway for an ID, gating on reachability. Offline is
// an explicit failure distinct from NotFound: callers must not retry forever.
func (d *Directory) Resolve(ctx context.Context, gatewayID string) (*Gateway, error) {
	gateways, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range gateways {
		if gateways[i].GatewayID == gatewayID {
			if !gateways[i].Online {
				return nil, fmt.Errorf("gateway %s: %w", gatewayID, ErrGatewayOffline)
			}
			if gateways[i].MeshAddress == "" {
				return nil, fmt.Errorf("gateway %s has no mesh address: %w", gatewayID, ErrGatewayOffline)
			}
			return &gateways[i], nil
		}
	}
	return nil, fmt.Errorf("gateway %s: %w", gatewayID, ErrGatewayNotFound)
}

// Rename persists an operator display-name override and invalidates the
// cache so the next List reflects it. Works regardless of gateway state.
func (d *Directory) Rename(gatewayID, displayName string, notes *string) error {
	if displayName == "" {
		return fmt.Errorf("display name must not be empty")
	}
	if err := d.names.UpsertGatewayName(&store.GatewayName{
		GatewayID:   gatewayID,
		DisplayName: displayName,
		Notes:       notes,
	}); err != nil {
		return err
	}
	d.Invalidate()
	return nil
}

// Invalidate drops the cached directory snapshot. Called on rename and by
// callers that hit a stale-address error talking to a gateway.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expires = time.Time{}
	d.cached = nil
}

// mockGateways is the deterministic two-gateway directory served when the
// status command is unavailable and the mock fallback is enabled.
func mockGateways() []Gateway {
	return []Gateway{
		{
			GatewayID:    "mock-gw-1",
			HostnameHint: "edge-gateway-mock-1",
			MeshAddress:  "100.64.0.1",
			Online:       true,
			LastSeen:     time.Unix(0, 0),
		},
		{
			GatewayID:    "mock-gw-2",
			HostnameHint: "edge-gateway-mock-2",
			MeshAddress:  "100.64.0.2",
			Online:       false,
			LastSeen:     time.Unix(0, 0),
		},
	}
}
