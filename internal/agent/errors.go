package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/register"
	"github.com/roach88/tillguard/internal/store"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeInvalidOrder    = string(engine.ErrCodeInvalidOrder)
	CodeCardOffline     = string(engine.ErrCodeCardOffline)
	CodeOrderRejected   = string(engine.ErrCodeRejected)
	CodeCashCapReached  = string(engine.ErrCodeCashCapReached)
	CodeNoActiveSession = "NO_ACTIVE_SESSION"
	CodeOffline         = "OFFLINE"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeFailure maps a domain error to a status and code. Unknown errors are
// logged and reported without detail.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, register.ErrCashCapReached):
		writeError(w, http.StatusConflict, CodeCashCapReached, err.Error())
	case engine.IsCardOffline(err):
		writeError(w, http.StatusConflict, CodeCardOffline, err.Error())
	case engine.IsInvalidOrder(err):
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidOrder, err.Error())
	case engine.IsRejected(err):
		writeError(w, http.StatusUnprocessableEntity, CodeOrderRejected, err.Error())
	case errors.Is(err, store.ErrNoActiveSession):
		writeError(w, http.StatusConflict, CodeNoActiveSession, "no offline session is open")
	case errors.Is(err, exposure.ErrManagerRequired), errors.Is(err, exposure.ErrInvalidCap):
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "request cancelled")
	default:
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "an unexpected error occurred")
	}
}
