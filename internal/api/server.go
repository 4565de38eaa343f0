// Package api is the HTTP surface of the control plane. Routes are mounted
// under /api; subsystems behind a disabled feature flag are simply not
// mounted, so their routes answer 404.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lnesto74/hyperspace-sub000/internal/commission"
	"github.com/lnesto74/hyperspace-sub000/internal/config"
	"github.com/lnesto74/hyperspace-sub000/internal/deploy"
	"github.com/lnesto74/hyperspace-sub000/internal/edge"
	"github.com/lnesto74/hyperspace-sub000/internal/httputil"
	"github.com/lnesto74/hyperspace-sub000/internal/mesh"
	"github.com/lnesto74/hyperspace-sub000/internal/monitoring"
	"github.com/lnesto74/hyperspace-sub000/internal/place"
	"github.com/lnesto74/hyperspace-sub000/internal/relay"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// ANSI escape codes for the access log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server wires every subsystem behind the HTTP surface.
type Server struct {
	store       *store.Store
	cfg         *config.Config
	directory   *mesh.Directory
	edge        *edge.Client
	relay       *relay.Relay
	coordinator *commission.Coordinator
	engine      *deploy.Engine
	facade      *place.Facade
}

// NewServer creates the API server.
func NewServer(s *store.Store, cfg *config.Config, directory *mesh.Directory, edgeClient *edge.Client, rl *relay.Relay, coordinator *commission.Coordinator, engine *deploy.Engine, facade *place.Facade) *Server {
	return &Server{
		store:       s,
		cfg:         cfg,
		directory:   directory,
		edge:        edgeClient,
		relay:       rl,
		coordinator: coordinator,
		engine:      engine,
		facade:      facade,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration. WebSocket
// upgrades bypass the status recorder because Upgrade needs the raw
// http.Hijacker.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux builds the route table. Feature-gated subsystems are left
// unmounted when disabled.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Mesh directory and gateway proxies.
	mux.HandleFunc("GET /api/edge/scan", s.handleListGateways)
	mux.HandleFunc("GET /api/edge/{id}/name", s.handleGetGatewayName)
	mux.HandleFunc("PUT /api/edge/{id}/name", s.handleRenameGateway)
	mux.HandleFunc("GET /api/edge/{id}/inventory", s.handleInventory)
	mux.HandleFunc("POST /api/edge/{id}/scan-lidars", s.handleScanLidars)
	mux.HandleFunc("GET /api/edge/{id}/status", s.handleGatewayStatus)

	// Venues, ROI, planned mounts, sensor models, operational params.
	mux.HandleFunc("GET /api/venues", s.handleListVenues)
	mux.HandleFunc("POST /api/venues", s.handleCreateVenue)
	mux.HandleFunc("GET /api/venues/{id}", s.handleGetVenue)
	mux.HandleFunc("PUT /api/venues/{id}/active-layout", s.handleSetActiveLayout)
	mux.HandleFunc("GET /api/venues/{id}/roi", s.handleGetROI)
	mux.HandleFunc("PUT /api/venues/{id}/roi", s.handlePutROI)
	mux.HandleFunc("GET /api/placements", s.handleListPlacements)
	mux.HandleFunc("POST /api/mounts", s.handleCreateMount)
	mux.HandleFunc("DELETE /api/mounts/{id}", s.handleDeleteMount)
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("POST /api/models", s.handleCreateModel)
	mux.HandleFunc("PUT /api/models", s.handleUpdateModel)
	mux.HandleFunc("GET /api/operational-params", s.handleGetParams)
	mux.HandleFunc("PUT /api/operational-params", s.handlePutParams)

	// Pairings.
	mux.HandleFunc("GET /api/pairings", s.handleListPairings)
	mux.HandleFunc("POST /api/pairings", s.handleUpsertPairing)
	mux.HandleFunc("DELETE /api/pairings", s.handleRemovePairing)
	mux.HandleFunc("DELETE /api/pairings/cleanup-orphaned", s.handleSweepPairings)

	// Deployment.
	mux.HandleFunc("POST /api/edge/{id}/deploy", s.handleDeploy)
	mux.HandleFunc("GET /api/export-config", s.handleExportConfig)
	mux.HandleFunc("GET /api/deploy-history", s.handleDeployHistory)

	if s.cfg.Features.Commissioning {
		mux.HandleFunc("GET /api/commissioned-lidars", s.handleListCommissioned)
		mux.HandleFunc("POST /api/commissioned-lidars", s.handleAssign)
		mux.HandleFunc("DELETE /api/commissioned-lidars/{id}", s.handleDeleteCommissioned)
		mux.HandleFunc("GET /api/next-available-ip", s.handleNextAddress)
	}

	if s.cfg.Features.Solver {
		mux.HandleFunc("POST /api/autoplace", s.handleAutoplace)
		mux.HandleFunc("POST /api/simulate", s.handleSimulate)
		mux.HandleFunc("GET /debug/coverage", s.handleCoverageDebug)
	}

	if s.cfg.Features.PCLRelay {
		mux.HandleFunc("GET /api/pcl/snapshot", s.handleSnapshot)
		mux.HandleFunc("POST /api/pcl/snapshot", s.handleSnapshot)
		mux.HandleFunc("/ws/pcl", s.relay.HandleStream)
	}

	s.store.AttachAdminRoutes(mux)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError maps subsystem errors onto the HTTP failure surface.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, mesh.ErrGatewayNotFound):
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, mesh.ErrDirectoryUnavailable):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, mesh.ErrGatewayOffline), errors.Is(err, deploy.ErrNoLidars):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, commission.ErrCoordinatorBusy), errors.Is(err, place.ErrSuperseded):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, commission.ErrAddressPoolExhausted):
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, commission.ErrSensorNotFound):
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, commission.ErrVerifyFailed):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	case isRemoteError(err), errors.Is(err, edge.ErrTimeout), errors.Is(err, edge.ErrTransport):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	case isUniquenessViolation(err):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func isRemoteError(err error) bool {
	var remote *edge.RemoteError
	return errors.As(err, &remote)
}

func isUniquenessViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}
