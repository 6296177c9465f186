package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/services"
)

// ChatRequest is the body of POST /api/datasources/{id}/chat.
type ChatRequest struct {
	Message string `json:"message"`
	// Save persists a chart outcome as a CHAT diagram.
	Save bool `json:"save"`
}

// ChatResponse carries the outcome and, when saved, the stored diagram.
type ChatResponse struct {
	Outcome *services.ChatOutcome `json:"outcome"`
	Diagram *models.Diagram       `json:"diagram,omitempty"`
}

// ChatHandler turns natural-language questions into charts.
type ChatHandler struct {
	chatService    services.ChatService
	diagramService services.DiagramService
	logger         *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chatService services.ChatService, diagramService services.DiagramService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chatService: chatService, diagramService: diagramService, logger: logger}
}

// RegisterRoutes registers the chat route on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasources/{id}/chat", h.Ask)
}

// Ask handles POST /api/datasources/{id}/chat.
// Clarifications, rejections and empty results are successful outcomes;
// only an unreachable database or generation service is an error.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}
	var req ChatRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	outcome, err := h.chatService.Ask(r.Context(), services.ChatRequest{DataSourceID: id, Message: req.Message})
	if err != nil {
		writeServiceError(w, err, "answer question", h.logger, zap.String("datasource_id", id.String()))
		return
	}

	response := ChatResponse{Outcome: outcome}
	if req.Save && outcome.Kind == services.OutcomeChart {
		diagram, err := h.diagramService.SaveChat(r.Context(), id, outcome)
		if err != nil {
			writeServiceError(w, err, "save chart", h.logger, zap.String("datasource_id", id.String()))
			return
		}
		response.Diagram = diagram
	}
	writeData(w, http.StatusOK, response, h.logger)
}
