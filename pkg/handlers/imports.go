package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/services"
)

// uploadField is the multipart field carrying the dump or sheet.
const uploadField = "file"

// ImportHandler accepts dataset uploads for FILE datasources.
type ImportHandler struct {
	importService  services.ImportService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewImportHandler creates an import handler. Request bodies larger than
// maxUploadBytes plus multipart framing are refused.
func NewImportHandler(importService services.ImportService, maxUploadBytes int64, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{importService: importService, maxUploadBytes: maxUploadBytes, logger: logger}
}

// RegisterRoutes registers the import route on the given mux.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasources/{id}/import", h.Import)
}

// Import handles POST /api/datasources/{id}/import (multipart field "file").
// .sql dumps go through the statement pipeline; .csv, .tsv, .txt and .xlsx
// through the tabular loader.
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	// 1 MiB of headroom for the multipart envelope.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "Upload exceeds the configured size limit", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "missing_file", "A multipart field named \"file\" is required", h.logger)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable_file", "Failed to read uploaded file", h.logger)
		return
	}

	report, err := h.importService.ImportDataSource(r.Context(), id, header.Filename, data)
	if err != nil {
		writeServiceError(w, err, "import dataset", h.logger,
			zap.String("datasource_id", id.String()),
			zap.String("filename", header.Filename))
		return
	}
	writeData(w, http.StatusOK, report, h.logger)
}
