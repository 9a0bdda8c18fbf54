package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flockd-io/flockd/internal/coordinator"
	"github.com/flockd-io/flockd/internal/logging"
)

// Operator is the coordinator surface the operator API drives. It is
// satisfied by *coordinator.Coordinator.
type Operator interface {
	StartDiscovery(ctx context.Context) error
	EndDiscovery(ctx context.Context) error
	SetEntityCount(ctx context.Context, n int) error
	Kill(ctx context.Context) error
	Status() coordinator.Status
}

// operatorTimeout bounds how long a request waits for the coordinator loop
// to take a command.
const operatorTimeout = 5 * time.Second

// UserInfoRequest is the body of POST /v1/user-info.
type UserInfoRequest struct {
	Entities int `json:"entities"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewOperatorHandler serves the operator API:
//
//	GET  /v1/status
//	POST /v1/discovery/start
//	POST /v1/discovery/end
//	POST /v1/user-info   {"entities": n}
//	POST /v1/kill
func NewOperatorHandler(op Operator, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(map[string]any{"component": "operator"})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, op.Status())
	})
	mux.HandleFunc("POST /v1/discovery/start", command(logger, "start discovery", op.StartDiscovery))
	mux.HandleFunc("POST /v1/discovery/end", command(logger, "end discovery", op.EndDiscovery))
	mux.HandleFunc("POST /v1/kill", command(logger, "kill", op.Kill))
	mux.HandleFunc("POST /v1/user-info", func(w http.ResponseWriter, r *http.Request) {
		var req UserInfoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
			return
		}
		if req.Entities < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entities must not be negative"})
			return
		}
		command(logger, "user info", func(ctx context.Context) error {
			return op.SetEntityCount(ctx, req.Entities)
		})(w, r)
	})
	return withRequestContext(mux)
}

func command(logger *logging.Logger, name string, fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), operatorTimeout)
		defer cancel()

		fields := map[string]any{
			"command":   name,
			"requestId": RequestIDFromContext(r.Context()),
			"remote":    RemoteAddrFromContext(r.Context()),
		}
		if err := fn(ctx); err != nil {
			fields["error"] = err.Error()
			logger.Warnf("operator command failed", fields)
			writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
			return
		}
		logger.Infof("operator command accepted", fields)
		w.WriteHeader(http.StatusAccepted)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := WithRemoteAddr(WithRequestID(r.Context(), id), r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
