package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
)

func TestSnapshotBinaryPassthrough(t *testing.T) {
	payload := make([]byte, 16*1024)
	rand.Read(payload)

	mock := httputil.NewMockHTTPClient()
	mock.Responses = append(mock.Responses, &httputil.MockResponse{
		StatusCode: 200,
		Body:       string(payload),
		Headers:    http.Header{"X-Point-Count": []string{"4096"}},
	})
	rl := New(mock, 8080, 8081)

	rec := httptest.NewRecorder()
	err := rl.Snapshot(context.Background(), rec, SnapshotParams{
		GatewayAddress: "100.101.1.7",
		SensorAddress:  "192.168.1.201",
		Format:         FormatBinary,
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if rec.Header().Get("Content-Type") != "application/octet-stream" {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("X-Point-Count") != "4096" {
		t.Error("X-Point-Count header not propagated")
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("binary payload modified in transit")
	}

	req := mock.GetRequest(0)
	if !strings.Contains(req.URL.RawQuery, "sensorAddress=192.168.1.201") {
		t.Errorf("sensor address missing from upstream query: %s", req.URL.RawQuery)
	}
	if req.URL.Host != "100.101.1.7:8080" {
		t.Errorf("unexpected upstream host %s", req.URL.Host)
	}
}

func TestSnapshotPLYDisposition(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, "ply\nformat ascii 1.0\nend_header\n")
	rl := New(mock, 8080, 8081)

	rec := httptest.NewRecorder()
	err := rl.Snapshot(context.Background(), rec, SnapshotParams{
		GatewayAddress: "100.101.1.7",
		SensorAddress:  "192.168.1.203",
		Format:         FormatPLY,
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "attachment") || !strings.Contains(cd, "192-168-1-203.ply") {
		t.Errorf("unexpected disposition %q", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), "ply\n") {
		t.Error("PLY body modified in transit")
	}
}

func TestSnapshotJSONReencode(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `[[1.0,2.0,3.0,0.5],[4.0,5.0,6.0,0.9]]`)
	rl := New(mock, 8080, 8081)

	rec := httptest.NewRecorder()
	err := rl.Snapshot(context.Background(), rec, SnapshotParams{
		GatewayAddress: "100.101.1.7",
		SensorAddress:  "192.168.1.201",
		Format:         FormatJSON,
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	var points [][]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(points) != 2 || points[1][3] != 0.9 {
		t.Errorf("unexpected points: %v", points)
	}
}

func TestSnapshotGatewayErrorPropagates(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(503, "sensor busy")
	rl := New(mock, 8080, 8081)

	rec := httptest.NewRecorder()
	err := rl.Snapshot(context.Background(), rec, SnapshotParams{
		GatewayAddress: "100.101.1.7",
		SensorAddress:  "192.168.1.201",
		Format:         FormatJSON,
	})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected gateway error to surface, got %v", err)
	}
}

// newUpstream starts a fake gateway stream that sends the given frames after
// accepting a connection.
func newUpstream(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upstream upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// Drain until the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialRelay(t *testing.T, rl *Relay, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(rl.HandleStream))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/pcl?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial relay failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamRelayPassthrough(t *testing.T) {
	frames := make([][]byte, 100)
	for i := range frames {
		frames[i] = make([]byte, 4096)
		rand.Read(frames[i])
	}
	upstream := newUpstream(t, frames)
	gatewayAddr := strings.TrimPrefix(upstream.URL, "http://")

	rl := New(nil, 8080, 8081)
	conn := dialRelay(t, rl,
		"gatewayAddress="+gatewayAddr+"&sensorAddress=192.168.1.201&modelHint=qt128&downsample=1")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading preamble: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("preamble must be a text frame, got type %d", msgType)
	}
	var hello wsEnvelope
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != "connected" {
		t.Fatalf("unexpected preamble %s", data)
	}
	if hello.SensorAddress != "192.168.1.201" {
		t.Errorf("preamble missing sensor address: %+v", hello)
	}

	for i := 0; i < len(frames); i++ {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if msgType != websocket.BinaryMessage {
			t.Fatalf("frame %d lost its binary bit", i)
		}
		if !bytes.Equal(data, frames[i]) {
			t.Fatalf("frame %d corrupted in transit", i)
		}
	}
}

func TestStreamRejectsMissingParams(t *testing.T) {
	rl := New(nil, 8080, 8081)
	conn := dialRelay(t, rl, "gatewayAddress=100.101.1.7&sensorAddress=192.168.1.201")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected an error frame before close: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("error frame must be text, got %d", msgType)
	}
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "error" {
		t.Fatalf("unexpected frame %s", data)
	}

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("expected close 1008, got %v", err)
	}
}

func TestStreamUpstreamFailureEmitsErrorFrame(t *testing.T) {
	rl := New(nil, 8080, 8081)
	rl.dial = func(ctx context.Context, u string) (*websocket.Conn, error) {
		return nil, context.DeadlineExceeded
	}
	conn := dialRelay(t, rl,
		"gatewayAddress=100.101.1.7&sensorAddress=192.168.1.201&modelHint=qt128&downsample=1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Preamble first, then the error frame.
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading preamble: %v", err)
	}
	var hello wsEnvelope
	json.Unmarshal(data, &hello)
	if hello.Type != "connected" {
		t.Fatalf("expected connected preamble, got %s", data)
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected error frame: %v", err)
	}
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "error" {
		t.Errorf("unexpected frame %s", data)
	}
}
