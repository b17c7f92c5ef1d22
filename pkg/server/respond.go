package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON renders v with the given status. Encoding failures are
// logged and otherwise dropped; headers are already on the wire.
func writeJSON(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError maps the error to an HTTP status via its code category and
// renders a JSON body. Authentication failures all collapse into one
// generic message so callers cannot probe which check failed, and
// server-side failures never leak their message. The real error is
// logged here in both cases.
func writeError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	e := pferr.FromError(err)
	status := e.HTTPStatus()

	body := errorBody{Error: e.Message}
	switch {
	case pferr.IsAuthentication(err):
		body.Error = "authentication required"
	case pferr.IsAuthorization(err):
		body.Error = "forbidden"
	case status >= http.StatusInternalServerError:
		body.Error = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed",
			"code", string(e.Code), "status", status, "error", err)
	} else {
		logger.WarnContext(ctx, "request rejected",
			"code", string(e.Code), "status", status, "error", err)
	}

	writeJSON(ctx, logger, w, status, body)
}
