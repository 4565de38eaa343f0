// Package relay forwards point-cloud data between the operator and an edge
// gateway: a two-hop HTTP snapshot path (JSON, binary, PLY) and a
// bidirectional WebSocket stream that preserves frame boundaries and the
// binary/text bit of every frame.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/monitoring"
)

// snapshotDeadline bounds the upstream snapshot fetch. The deadline is
// detached from the client's context: once bytes stream, a client disconnect
// must not truncate the upstream transfer.
const snapshotDeadline = 15 * time.Second

// Snapshot formats.
const (
	FormatJSON   = "json"
	FormatBinary = "binary"
	FormatPLY    = "ply"
)

// Relay proxies snapshots and streams to edge gateways.
type Relay struct {
	http     httputil.HTTPClient
	edgePort int
	wsPort   int

	upgrader websocket.Upgrader
	// dial opens the upstream WebSocket; replaced in tests.
	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// New creates a relay talking to gateway HTTP on edgePort and gateway
// WebSocket streams on wsPort.
func New(hc httputil.HTTPClient, edgePort, wsPort int) *Relay {
	if hc == nil {
		hc = httputil.NewStandardClient(&http.Client{})
	}
	return &Relay{
		http:     hc,
		edgePort: edgePort,
		wsPort:   wsPort,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			// Operators reach this through the control plane UI or curl;
			// the mesh is the trust boundary.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dial: func(ctx context.Context, u string) (*websocket.Conn, error) {
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			return conn, err
		},
	}
}

// SnapshotParams identify one snapshot request.
type SnapshotParams struct {
	GatewayAddress string
	SensorAddress  string
	Format         string
	Duration       string
	MaxPoints      string
	Downsample     string
	ModelHint      string
}

// hostPort appends a default port unless the address already carries one.
// Test gateways listen on ephemeral ports.
func hostPort(addr string, port int) string {
	if strings.Contains(addr, ":") {
		return addr
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// Snapshot fetches one point-cloud capture from the gateway and writes it to
// the client, preserving the framing of the chosen format.
func (rl *Relay) Snapshot(ctx context.Context, w http.ResponseWriter, p SnapshotParams) error {
	if p.GatewayAddress == "" || p.SensorAddress == "" {
		return fmt.Errorf("gatewayAddress and sensorAddress are required")
	}
	format := p.Format
	if format == "" {
		format = FormatJSON
	}

	q := url.Values{}
	q.Set("sensorAddress", p.SensorAddress)
	q.Set("format", format)
	for key, val := range map[string]string{
		"duration": p.Duration, "maxPoints": p.MaxPoints,
		"downsample": p.Downsample, "model": p.ModelHint,
	} {
		if val != "" {
			q.Set(key, val)
		}
	}
	upstream := fmt.Sprintf("http://%s/api/edge/pcl/snapshot?%s",
		hostPort(p.GatewayAddress, rl.edgePort), q.Encode())

	// Detach from the client context so a mid-transfer disconnect cannot
	// leave the gateway half-way through a capture.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotDeadline)
	defer cancel()

	req, err := httputil.NewJSONRequest(ctx, http.MethodGet, upstream, nil)
	if err != nil {
		return err
	}
	resp, err := rl.http.Do(req)
	if err != nil {
		return fmt.Errorf("snapshot fetch from %s: %w", p.GatewayAddress, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway snapshot returned %d: %s", resp.StatusCode, body)
	}

	switch format {
	case FormatJSON:
		var points []interface{}
		if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
			return fmt.Errorf("invalid snapshot payload: %w", err)
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(points)

	case FormatBinary:
		w.Header().Set("Content-Type", "application/octet-stream")
		if count := resp.Header.Get("X-Point-Count"); count != "" {
			w.Header().Set("X-Point-Count", count)
		}
		_, err := io.Copy(w, resp.Body)
		return err

	case FormatPLY:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="pointcloud-%s.ply"`,
				strings.ReplaceAll(p.SensorAddress, ".", "-")))
		_, err := io.Copy(w, resp.Body)
		return err

	default:
		return fmt.Errorf("unknown snapshot format %q", format)
	}
}

type wsEnvelope struct {
	Type           string `json:"type"`
	GatewayAddress string `json:"gatewayAddress,omitempty"`
	SensorAddress  string `json:"sensorAddress,omitempty"`
	Error          string `json:"error,omitempty"`
}

// HandleStream upgrades the client connection and relays frames between the
// operator and the gateway's point-cloud stream. The relay owns only its own
// path; other WebSocket subsystems on the same server are untouched.
func (rl *Relay) HandleStream(w http.ResponseWriter, r *http.Request) {
	client, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("relay: upgrade failed: %v", err)
		return
	}
	defer client.Close()

	q := r.URL.Query()
	gatewayAddress := q.Get("gatewayAddress")
	sensorAddress := q.Get("sensorAddress")
	modelHint := q.Get("modelHint")
	downsample := q.Get("downsample")
	if gatewayAddress == "" || sensorAddress == "" || modelHint == "" || downsample == "" {
		rl.closeWithError(client, "gatewayAddress, sensorAddress, modelHint and downsample are required")
		return
	}

	preamble, _ := json.Marshal(wsEnvelope{
		Type:           "connected",
		GatewayAddress: gatewayAddress,
		SensorAddress:  sensorAddress,
	})
	if err := client.WriteMessage(websocket.TextMessage, preamble); err != nil {
		return
	}

	// The gateway's stream server takes the sensor parameters at its root.
	uq := url.Values{}
	uq.Set("ip", sensorAddress)
	uq.Set("model", modelHint)
	uq.Set("downsample", downsample)
	upstreamURL := fmt.Sprintf("ws://%s/?%s",
		hostPort(gatewayAddress, rl.wsPort), uq.Encode())

	upstream, err := rl.dial(r.Context(), upstreamURL)
	if err != nil {
		monitoring.Logf("relay: upstream dial %s failed: %v", gatewayAddress, err)
		rl.closeWithError(client, fmt.Sprintf("gateway stream unavailable: %v", err))
		return
	}
	defer upstream.Close()

	// Upstream to client: the only writer to the client socket from here on,
	// so the error frame on the way out races nothing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, data, err := upstream.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					frame, _ := json.Marshal(wsEnvelope{Type: "error", Error: err.Error()})
					client.WriteMessage(websocket.TextMessage, frame)
				}
				client.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}()

	// Client to upstream: also detects client disconnect, which must reach
	// the gateway within one frame interval.
	for {
		msgType, data, err := client.ReadMessage()
		if err != nil {
			upstream.Close()
			break
		}
		if err := upstream.WriteMessage(msgType, data); err != nil {
			break
		}
	}
	<-done
}

// closeWithError sends a JSON error frame followed by a policy-violation
// close (1008).
func (rl *Relay) closeWithError(conn *websocket.Conn, msg string) {
	frame, _ := json.Marshal(wsEnvelope{Type: "error", Error: msg})
	conn.WriteMessage(websocket.TextMessage, frame)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
}
