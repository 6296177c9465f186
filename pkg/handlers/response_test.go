package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, ErrorResponse(rec, http.StatusNotFound, "not_found", "resource not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"error": "not_found", "message": "resource not found"}, decodeError(t, rec))
}

func TestWriteJSON_UnencodableData(t *testing.T) {
	rec := httptest.NewRecorder()

	assert.Error(t, WriteJSON(rec, http.StatusOK, make(chan int)))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"security", apperrors.NewSecurityViolation("forbidden statement", "GRANT", "GRANT ALL"), http.StatusUnprocessableEntity, "security_violation"},
		{"not found", fmt.Errorf("diagram: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"key mismatch", apperrors.ErrCredentialsKeyMismatch, http.StatusFailedDependency, "credentials_key_mismatch"},
		{"connectivity", apperrors.Connectivity("db:5432", errors.New("refused")), http.StatusBadGateway, "connectivity_error"},
		{"invalid input", fmt.Errorf("%w: table is required", apperrors.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"execution", apperrors.Execution("INSERT", errors.New(`relation "x" does not exist`)), http.StatusBadRequest, "execution_error"},
		{"contract", apperrors.Contract("not json"), http.StatusBadGateway, "contract_violation"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteServiceError_SecurityViolationCarriesKeyword(t *testing.T) {
	rec := httptest.NewRecorder()

	writeServiceError(rec, apperrors.NewSecurityViolation("forbidden statement", "TRUNCATE", "TRUNCATE t"), "import dataset", zap.NewNop())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "TRUNCATE", body["keyword"])
	assert.Equal(t, "forbidden statement", body["message"])
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	rec := httptest.NewRecorder()

	writeServiceError(rec, errors.New("dial postgres://bi:hunter2@db/x failed"), "list diagrams", zap.New(core))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to list diagrams", decodeError(t, rec)["message"])
	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap()["error"], "hunter2")
}

func TestWriteServiceError_RedactsClientMessage(t *testing.T) {
	rec := httptest.NewRecorder()

	writeServiceError(rec, apperrors.Connectivity("postgres://bi:hunter2@db:5432/x", errors.New("timeout")), "answer question", zap.NewNop())

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, decodeError(t, rec)["message"], "hunter2")
}

func TestParseDiagramID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/diagrams/nope", nil)
	req.SetPathValue("did", "nope")
	rec := httptest.NewRecorder()

	_, ok := ParseDiagramID(rec, req, zap.NewNop())

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_diagram_id", decodeError(t, rec)["error"])
}
