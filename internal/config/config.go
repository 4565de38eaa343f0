// Package config loads environment configuration for the control plane.
//
// The configuration is read once at startup and treated as immutable. The
// only runtime-mutable piece is the operational parameter set embedded in
// deploy bundles, which is held behind an atomic pointer so handlers observe
// a consistent snapshot for the duration of one request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Config holds the environment configuration recognised by the control plane.
type Config struct {
	// EdgePort is the HTTP port of the edge gateway API.
	EdgePort int
	// EdgeWSPort is the WebSocket port of the edge gateway point-cloud stream.
	EdgeWSPort int
	// HostnamePatterns are substrings matched against mesh peer hostnames to
	// identify edge gateways.
	HostnamePatterns []string
	// GatewayTag identifies gateways by mesh ACL tag (e.g. "tag:edge").
	GatewayTag string
	// SolverURL is the external placement solver base URL. Empty means the
	// internal greedy fallback is always used.
	SolverURL string
	// MQTTBrokerURL is embedded in deploy bundles.
	MQTTBrokerURL string
	// AddressPoolBase is the /24 prefix used for sensor address assignment,
	// without the last octet (e.g. "192.168.1").
	AddressPoolBase string
	// FactoryAddress is the default address probed when scanning for a
	// factory-fresh sensor.
	FactoryAddress string

	Features Features

	params atomic.Pointer[OperationalParams]
}

// Features gates optional subsystems. A disabled feature's routes are not
// mounted, so requests to them return 404.
type Features struct {
	MockMesh      bool
	Solver        bool
	PCLRelay      bool
	Commissioning bool
}

// OperationalParams are the runtime parameters embedded in every deploy
// bundle. The struct is immutable; updates swap the whole snapshot.
type OperationalParams struct {
	GroundPlaneY       float64 `json:"groundPlaneY"`
	CeilingY           float64 `json:"ceilingY"`
	MinDetectionHeight float64 `json:"minDetectionHeight"`
	MaxDetectionHeight float64 `json:"maxDetectionHeight"`
	PublishRateHz      int     `json:"publishRateHz"`
}

// DefaultOperationalParams returns the stock parameter set.
func DefaultOperationalParams() OperationalParams {
	return OperationalParams{
		GroundPlaneY:       0,
		CeilingY:           4.0,
		MinDetectionHeight: 0.3,
		MaxDetectionHeight: 2.2,
		PublishRateHz:      10,
	}
}

// Load reads the configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		EdgePort:        8080,
		EdgeWSPort:      8081,
		AddressPoolBase: "192.168.1",
		FactoryAddress:  "192.168.1.200",
	}

	var err error
	if cfg.EdgePort, err = envInt("EDGE_PORT", cfg.EdgePort); err != nil {
		return nil, err
	}
	if cfg.EdgeWSPort, err = envInt("EDGE_WS_PORT", cfg.EdgeWSPort); err != nil {
		return nil, err
	}

	if v := os.Getenv("EDGE_HOSTNAME_PATTERNS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.HostnamePatterns = append(cfg.HostnamePatterns, p)
			}
		}
	} else {
		cfg.HostnamePatterns = []string{"edge", "gateway"}
	}
	cfg.GatewayTag = os.Getenv("EDGE_GATEWAY_TAG")

	cfg.SolverURL = os.Getenv("SOLVER_URL")
	cfg.MQTTBrokerURL = os.Getenv("MQTT_BROKER_URL")
	if v := os.Getenv("SENSOR_POOL_PREFIX"); v != "" {
		cfg.AddressPoolBase = strings.TrimSuffix(v, ".")
	}
	if v := os.Getenv("SENSOR_FACTORY_ADDRESS"); v != "" {
		cfg.FactoryAddress = v
	}

	cfg.Features = Features{
		MockMesh:      envBool("FEATURE_MOCK_MESH", false),
		Solver:        envBool("FEATURE_SOLVER", true),
		PCLRelay:      envBool("FEATURE_PCL_RELAY", true),
		Commissioning: envBool("FEATURE_COMMISSIONING", true),
	}

	p := DefaultOperationalParams()
	cfg.params.Store(&p)
	return cfg, nil
}

// OperationalParams returns the current parameter snapshot. The returned
// value is a copy; callers never observe a half-updated set.
func (c *Config) OperationalParams() OperationalParams {
	return *c.params.Load()
}

// SetOperationalParams atomically replaces the parameter snapshot.
func (c *Config) SetOperationalParams(p OperationalParams) error {
	if p.MaxDetectionHeight <= p.MinDetectionHeight {
		return fmt.Errorf("maxDetectionHeight %.2f must exceed minDetectionHeight %.2f",
			p.MaxDetectionHeight, p.MinDetectionHeight)
	}
	if p.PublishRateHz <= 0 {
		return fmt.Errorf("publishRateHz must be positive, got %d", p.PublishRateHz)
	}
	c.params.Store(&p)
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
