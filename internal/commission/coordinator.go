// Package commission drives the sensor address-assignment state machine:
// scan a factory-addressed sensor, reassign its IP out of the venue pool,
// wait out the reboot, and verify it came back at the new address.
package commission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lnesto74/hyperspace-sub000/internal/edge"
	"github.com/lnesto74/hyperspace-sub000/internal/monitoring"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// State machine states. One machine runs at a time per venue.
type State string

const (
	StateIdle        State = "IDLE"
	StateScanning    State = "SCANNING"
	StateFound       State = "FOUND"
	StateConfiguring State = "CONFIGURING"
	StateRebooting   State = "REBOOTING"
	StateVerifying   State = "VERIFYING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Timing and pool constants. The reboot wait is fixed; verification retries a
// bounded number of times with a fixed backoff, then fails outright.
const (
	rebootWait     = 15 * time.Second
	verifyBackoff  = 5 * time.Second
	maxVerifyTries = 4
	poolFirstOctet = 201
	poolLastOctet  = 254
)

var (
	ErrCoordinatorBusy      = errors.New("sensor assignment already in progress for venue")
	ErrAddressPoolExhausted = errors.New("sensor address pool exhausted")
	ErrSensorNotFound       = errors.New("sensor not found at target address")
	ErrVerifyFailed         = errors.New("sensor did not reappear at new address")
)

// Prober is the edge-client surface the coordinator needs.
type Prober interface {
	ScanLidar(ctx context.Context, meshAddress, sensorAddress string) (*edge.ScanResult, error)
	SetAddress(ctx context.Context, meshAddress, currentAddress, newAddress string) (bool, error)
}

// SensorStore persists commissioning outcomes.
type SensorStore interface {
	ListCommissionedSensors(venueID string) ([]store.CommissionedSensor, error)
	CreateCommissionedSensor(c *store.CommissionedSensor) error
}

// Coordinator serializes address reassignment per venue. Scans are read-only
// and run freely; Assign holds the venue lock from CONFIGURING to
// DONE/FAILED.
type Coordinator struct {
	store    SensorStore
	prober   Prober
	poolBase string
	factory  string

	// sleep is replaced in tests so reboot waits and backoffs don't run on
	// the wall clock.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	busy  map[string]bool
	state map[string]State
}

// New creates a coordinator. poolBase is the /24 prefix without the last
// octet ("192.168.1"); factory is the default scan target.
func New(s SensorStore, prober Prober, poolBase, factory string) *Coordinator {
	return &Coordinator{
		store:    s,
		prober:   prober,
		poolBase: poolBase,
		factory:  factory,
		sleep:    sleepCtx,
		busy:     make(map[string]bool),
		state:    make(map[string]State),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Status reports the venue's current state-machine state.
func (c *Coordinator) Status(venueID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state[venueID]; ok {
		return s
	}
	return StateIdle
}

func (c *Coordinator) setState(venueID string, s State) {
	c.mu.Lock()
	c.state[venueID] = s
	c.mu.Unlock()
}

// scanState records scan progress for a venue. It never disturbs an
// in-flight assignment's state, and a scan without a venue leaves no trace.
func (c *Coordinator) scanState(venueID string, s State) {
	if venueID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[venueID] {
		return
	}
	c.state[venueID] = s
}

// Scan probes a specific sensor address through the gateway. An empty target
// probes the factory default. Scans never take the venue lock: they are
// read-only and permitted during an in-flight assignment.
func (c *Coordinator) Scan(ctx context.Context, venueID, meshAddress, target string) (*edge.ScanResult, error) {
	if target == "" {
		target = c.factory
	}
	c.scanState(venueID, StateScanning)
	result, err := c.prober.ScanLidar(ctx, meshAddress, target)
	if err != nil {
		c.scanState(venueID, StateIdle)
		return nil, err
	}
	if !result.Found {
		c.scanState(venueID, StateIdle)
		return result, fmt.Errorf("address %s: %w", target, ErrSensorNotFound)
	}
	monitoring.Logf("commission: found %s at %s", result.Model, target)
	c.scanState(venueID, StateFound)
	return result, nil
}

// NextAddress returns the next free pool address for the venue: one past the
// highest last octet ever commissioned, starting at .201. Retired sensors
// still advance the pool so an address is never re-issued while stale edge
// configs may reference it.
func (c *Coordinator) NextAddress(venueID string) (string, error) {
	sensors, err := c.store.ListCommissionedSensors(venueID)
	if err != nil {
		return "", err
	}
	next := poolFirstOctet
	for _, s := range sensors {
		if o, ok := lastOctet(s.AssignedAddress); ok && o >= next {
			next = o + 1
		}
	}
	if next > poolLastOctet {
		return "", ErrAddressPoolExhausted
	}
	return fmt.Sprintf("%s.%d", c.poolBase, next), nil
}

func lastOctet(addr string) (int, bool) {
	i := strings.LastIndexByte(addr, '.')
	if i < 0 {
		return 0, false
	}
	o, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return 0, false
	}
	return o, true
}

// Assign runs the reassignment state machine for one sensor: allocate the
// next pool address, send set-ip (timeout means the sensor rebooted), wait
// out the reboot, then verify at the new address with bounded retries. A
// second concurrent Assign for the same venue fails immediately with
// ErrCoordinatorBusy.
func (c *Coordinator) Assign(ctx context.Context, venueID, gatewayID, meshAddress, currentAddress string) (*store.CommissionedSensor, error) {
	c.mu.Lock()
	if c.busy[venueID] {
		c.mu.Unlock()
		return nil, ErrCoordinatorBusy
	}
	c.busy[venueID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.busy, venueID)
		c.mu.Unlock()
	}()

	if currentAddress == "" {
		currentAddress = c.factory
	}

	newAddress, err := c.NextAddress(venueID)
	if err != nil {
		c.setState(venueID, StateFailed)
		return nil, err
	}

	c.setState(venueID, StateConfiguring)
	rebooted, err := c.prober.SetAddress(ctx, meshAddress, currentAddress, newAddress)
	if err != nil {
		c.setState(venueID, StateFailed)
		return nil, fmt.Errorf("set-address %s -> %s: %w", currentAddress, newAddress, err)
	}
	if rebooted {
		monitoring.Logf("commission: sensor %s rebooting into %s", currentAddress, newAddress)
	}

	c.setState(venueID, StateRebooting)
	if err := c.sleep(ctx, rebootWait); err != nil {
		c.setState(venueID, StateFailed)
		return nil, err
	}

	c.setState(venueID, StateVerifying)
	verified := false
	for attempt := 1; attempt <= maxVerifyTries; attempt++ {
		result, err := c.prober.ScanLidar(ctx, meshAddress, newAddress)
		if err == nil && result.Found {
			verified = true
			break
		}
		monitoring.Logf("commission: verify attempt %d/%d at %s failed", attempt, maxVerifyTries, newAddress)
		if attempt < maxVerifyTries {
			if err := c.sleep(ctx, verifyBackoff); err != nil {
				c.setState(venueID, StateFailed)
				return nil, err
			}
		}
	}
	if !verified {
		c.setState(venueID, StateFailed)
		return nil, fmt.Errorf("address %s after %d attempts: %w", newAddress, maxVerifyTries, ErrVerifyFailed)
	}

	octet, _ := lastOctet(newAddress)
	sensor := &store.CommissionedSensor{
		VenueID:         venueID,
		GatewayID:       gatewayID,
		AssignedAddress: newAddress,
		OriginalAddress: currentAddress,
		Label:           fmt.Sprintf("LiDAR-%d", octet),
	}
	if err := c.store.CreateCommissionedSensor(sensor); err != nil {
		c.setState(venueID, StateFailed)
		return nil, err
	}
	c.setState(venueID, StateDone)
	return sensor, nil
}
