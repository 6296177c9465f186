package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/services"
)

// CreateDatasourceRequest for POST body.
type CreateDatasourceRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ListDatasourcesResponse wraps the array for frontend compatibility.
type ListDatasourcesResponse struct {
	Datasources []*models.DataSource `json:"datasources"`
}

// DatasourcesHandler handles datasource-related HTTP requests.
type DatasourcesHandler struct {
	datasourceService services.DataSourceService
	schemaService     services.SchemaService
	logger            *zap.Logger
}

// NewDatasourcesHandler creates a new datasources handler.
func NewDatasourcesHandler(datasourceService services.DataSourceService, schemaService services.SchemaService, logger *zap.Logger) *DatasourcesHandler {
	return &DatasourcesHandler{
		datasourceService: datasourceService,
		schemaService:     schemaService,
		logger:            logger,
	}
}

// RegisterRoutes registers the datasources handler's routes on the given mux.
// Every route is owner scoped by the middleware wrapping the mux.
func (h *DatasourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/datasources", h.List)
	mux.HandleFunc("POST /api/datasources", h.Create)
	mux.HandleFunc("GET /api/datasources/{id}", h.Get)
	mux.HandleFunc("DELETE /api/datasources/{id}", h.Delete)
	mux.HandleFunc("POST /api/datasources/{id}/connection", h.Connect)
	mux.HandleFunc("GET /api/datasources/{id}/schema", h.Schema)
}

// List handles GET /api/datasources
func (h *DatasourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	datasources, err := h.datasourceService.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "list datasources", h.logger)
		return
	}
	if datasources == nil {
		datasources = []*models.DataSource{}
	}
	writeData(w, http.StatusOK, ListDatasourcesResponse{Datasources: datasources}, h.logger)
}

// Create handles POST /api/datasources
func (h *DatasourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDatasourceRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Datasource name is required", h.logger)
		return
	}
	kind := models.DataSourceKind(req.Kind)
	if req.Kind == "" {
		kind = models.DataSourceFile
	}

	ds, err := h.datasourceService.Create(r.Context(), req.Name, kind)
	if err != nil {
		writeServiceError(w, err, "create datasource", h.logger, zap.String("name", req.Name))
		return
	}
	writeData(w, http.StatusCreated, ds, h.logger)
}

// Get handles GET /api/datasources/{id}
func (h *DatasourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}
	ds, err := h.datasourceService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get datasource", h.logger, zap.String("datasource_id", id.String()))
		return
	}
	writeData(w, http.StatusOK, ds, h.logger)
}

// Delete handles DELETE /api/datasources/{id}
// Dataset schemas of FILE datasources are dropped with the record.
func (h *DatasourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.datasourceService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "delete datasource", h.logger, zap.String("datasource_id", id.String()))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"datasource_id": id.String()}, h.logger)
}

// Connect handles POST /api/datasources/{id}/connection
// The connection is verified before it is stored.
func (h *DatasourcesHandler) Connect(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}
	var req services.ExternalConnectionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	conn, err := h.datasourceService.CreateExternalConnection(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err, "store connection", h.logger, zap.String("datasource_id", id.String()))
		return
	}
	writeData(w, http.StatusCreated, conn, h.logger)
}

// Schema handles GET /api/datasources/{id}/schema[?row_counts=true]
func (h *DatasourcesHandler) Schema(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}
	withRowCounts := false
	if v := r.URL.Query().Get("row_counts"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_row_counts", "row_counts must be a boolean", h.logger)
			return
		}
		withRowCounts = parsed
	}

	view, err := h.schemaService.Describe(r.Context(), id, nil, withRowCounts)
	if err != nil {
		writeServiceError(w, err, "describe schema", h.logger, zap.String("datasource_id", id.String()))
		return
	}
	writeData(w, http.StatusOK, view, h.logger)
}
