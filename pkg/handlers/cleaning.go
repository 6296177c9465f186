package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/services"
)

// CleaningRequest is the body of the cleaning routes.
type CleaningRequest struct {
	Table        string `json:"table"`
	Instructions string `json:"instructions"`
	SampleRows   int    `json:"sample_rows,omitempty"`
	// Plan, when present on apply, is executed instead of asking for a new one.
	Plan *models.CleaningPlan `json:"plan,omitempty"`
}

// CleaningHandler serves plan suggestion and application.
type CleaningHandler struct {
	cleaningService services.CleaningService
	logger          *zap.Logger
}

// NewCleaningHandler creates a cleaning handler.
func NewCleaningHandler(cleaningService services.CleaningService, logger *zap.Logger) *CleaningHandler {
	return &CleaningHandler{cleaningService: cleaningService, logger: logger}
}

// RegisterRoutes registers the cleaning routes on the given mux.
func (h *CleaningHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasources/{id}/cleaning/suggest", h.Suggest)
	mux.HandleFunc("POST /api/datasources/{id}/cleaning/apply", h.Apply)
}

func (h *CleaningHandler) parse(w http.ResponseWriter, r *http.Request) (services.CleaningRequest, *models.CleaningPlan, bool) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return services.CleaningRequest{}, nil, false
	}
	var body CleaningRequest
	if !decodeBody(w, r, &body, h.logger) {
		return services.CleaningRequest{}, nil, false
	}
	return services.CleaningRequest{
		DataSourceID: id,
		Table:        body.Table,
		Instructions: body.Instructions,
		SampleRows:   body.SampleRows,
	}, body.Plan, true
}

// Suggest handles POST /api/datasources/{id}/cleaning/suggest
func (h *CleaningHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	req, _, ok := h.parse(w, r)
	if !ok {
		return
	}
	suggestion, err := h.cleaningService.Suggest(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, "suggest cleaning plan", h.logger,
			zap.String("datasource_id", req.DataSourceID.String()),
			zap.String("table", req.Table))
		return
	}
	writeData(w, http.StatusOK, suggestion, h.logger)
}

// Apply handles POST /api/datasources/{id}/cleaning/apply
func (h *CleaningHandler) Apply(w http.ResponseWriter, r *http.Request) {
	req, plan, ok := h.parse(w, r)
	if !ok {
		return
	}

	var (
		ack *services.CleaningAck
		err error
	)
	if plan != nil {
		ack, err = h.cleaningService.ApplyPlan(r.Context(), req.DataSourceID, req.Table, plan)
	} else {
		ack, err = h.cleaningService.Apply(r.Context(), req)
	}
	if err != nil {
		writeServiceError(w, err, "apply cleaning plan", h.logger,
			zap.String("datasource_id", req.DataSourceID.String()),
			zap.String("table", req.Table))
		return
	}
	writeData(w, http.StatusOK, ack, h.logger)
}
