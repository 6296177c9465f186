package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string                      `json:"status"`
	Version     string                      `json:"version"`
	Connections *datasource.ConnectionStats `json:"connections,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string                   `json:"status"`
	Version     string                   `json:"version"`
	Service     string                   `json:"service"`
	GoVersion   string                   `json:"go_version"`
	Hostname    string                   `json:"hostname"`
	Environment string                   `json:"environment"`
	Adapters    []datasource.AdapterInfo `json:"adapters"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	connMgr *datasource.ConnectionManager
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. connMgr may be nil.
func NewHealthHandler(cfg *config.Config, connMgr *datasource.ConnectionManager, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, connMgr: connMgr, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests, reporting datasource pool usage when
// a connection manager is configured.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok", Version: h.cfg.Version}
	if h.connMgr != nil {
		stats := h.connMgr.GetStats()
		response.Connections = &stats
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-bi",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Adapters:    datasource.RegisteredAdapters(),
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
