package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/services"
)

// DuplicateDiagramRequest is the optional body of the duplicate route.
type DuplicateDiagramRequest struct {
	Title string `json:"title"`
}

// SetActiveRequest toggles dashboard visibility.
type SetActiveRequest struct {
	Active *bool `json:"active"`
}

// ListDiagramsResponse wraps the array for frontend compatibility.
type ListDiagramsResponse struct {
	Diagrams []*models.Diagram `json:"diagrams"`
}

// DiagramsHandler serves stored and automatic diagrams.
type DiagramsHandler struct {
	diagramService services.DiagramService
	logger         *zap.Logger
}

// NewDiagramsHandler creates a diagrams handler.
func NewDiagramsHandler(diagramService services.DiagramService, logger *zap.Logger) *DiagramsHandler {
	return &DiagramsHandler{diagramService: diagramService, logger: logger}
}

// RegisterRoutes registers the diagram routes on the given mux.
func (h *DiagramsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/datasources/{id}/diagrams", h.List)
	mux.HandleFunc("POST /api/datasources/{id}/diagrams", h.Generate)
	mux.HandleFunc("POST /api/diagrams/{did}/refresh", h.Refresh)
	mux.HandleFunc("POST /api/diagrams/{did}/duplicate", h.Duplicate)
	mux.HandleFunc("PATCH /api/diagrams/{did}/active", h.SetActive)
	mux.HandleFunc("DELETE /api/diagrams/{did}", h.Delete)
}

// List handles GET /api/datasources/{id}/diagrams
func (h *DiagramsHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}
	diagrams, err := h.diagramService.List(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "list diagrams", h.logger, zap.String("datasource_id", id.String()))
		return
	}
	if diagrams == nil {
		diagrams = []*models.Diagram{}
	}
	writeData(w, http.StatusOK, ListDiagramsResponse{Diagrams: diagrams}, h.logger)
}

// Generate handles POST /api/datasources/{id}/diagrams
// It plans and stores up to three automatic charts for the imported table.
func (h *DiagramsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}
	diagrams, err := h.diagramService.GenerateAutomatic(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "generate diagrams", h.logger, zap.String("datasource_id", id.String()))
		return
	}
	if diagrams == nil {
		diagrams = []*models.Diagram{}
	}
	writeData(w, http.StatusCreated, ListDiagramsResponse{Diagrams: diagrams}, h.logger)
}

// Refresh handles POST /api/diagrams/{did}/refresh
func (h *DiagramsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDiagramID(w, r, h.logger)
	if !ok {
		return
	}
	diagram, err := h.diagramService.Refresh(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "refresh diagram", h.logger, zap.String("diagram_id", id.String()))
		return
	}
	writeData(w, http.StatusOK, diagram, h.logger)
}

// Duplicate handles POST /api/diagrams/{did}/duplicate. The body is optional.
func (h *DiagramsHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDiagramID(w, r, h.logger)
	if !ok {
		return
	}
	var req DuplicateDiagramRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req, h.logger) {
		return
	}
	diagram, err := h.diagramService.Duplicate(r.Context(), id, req.Title)
	if err != nil {
		writeServiceError(w, err, "duplicate diagram", h.logger, zap.String("diagram_id", id.String()))
		return
	}
	writeData(w, http.StatusCreated, diagram, h.logger)
}

// SetActive handles PATCH /api/diagrams/{did}/active
func (h *DiagramsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDiagramID(w, r, h.logger)
	if !ok {
		return
	}
	var req SetActiveRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "missing_active", "active is required", h.logger)
		return
	}
	if err := h.diagramService.SetActive(r.Context(), id, *req.Active); err != nil {
		writeServiceError(w, err, "update diagram", h.logger, zap.String("diagram_id", id.String()))
		return
	}
	writeData(w, http.StatusOK, map[string]any{"diagram_id": id.String(), "is_active": *req.Active}, h.logger)
}

// Delete handles DELETE /api/diagrams/{did}
func (h *DiagramsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDiagramID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.diagramService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "delete diagram", h.logger, zap.String("diagram_id", id.String()))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"diagram_id": id.String()}, h.logger)
}
