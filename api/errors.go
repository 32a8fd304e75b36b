package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/user"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

var statusByCode = map[derrors.Code]int{
	derrors.CodeValidation:      http.StatusBadRequest,
	derrors.CodeNotFound:        http.StatusNotFound,
	derrors.CodeUnauthorized:    http.StatusUnauthorized,
	derrors.CodeForbidden:       http.StatusForbidden,
	derrors.CodeExternalService: http.StatusBadGateway,
	derrors.CodeSignature:       http.StatusBadRequest,
	derrors.CodeConflict:        http.StatusConflict,
}

func statusFor(err error) int {
	if s, ok := statusByCode[derrors.CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// mapError writes err as a JSON error. Internal errors are logged and
// answered with a generic message.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *user.LockedError
	if errors.As(err, &locked) {
		writeRateLimited(w, locked.RetryAfter)
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("error", err.Error()))
		writeJSON(w, status, ErrorResponse{Error: "internal server error", Code: string(derrors.CodeInternal)})
		return
	}
	if status == http.StatusBadGateway {
		a.logger.WarnContext(r.Context(), "collaborator failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, ErrorResponse{Error: derrors.Message(err), Code: string(derrors.CodeOf(err))})
}
