package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/intake"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

const maxBodyBytes = 1 << 20

// Error codes carried in the error envelope.
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeInvalidState   = "invalid_state"
	CodeInvalidSteps   = "invalid_steps"
	CodeQueueFull      = "queue_full"
	CodeInternal       = "internal"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

var errBadRequest = eris.New("api: bad request")

func badRequest(msg string) error {
	return eris.Wrap(errBadRequest, msg)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			zap.L().With(zap.String("component", "api")).Warn("api: encode response", zap.Error(err))
		}
	}
}

// statusFor maps domain errors to an HTTP status and envelope code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, intake.ErrInvalidProject):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, pipeline.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, pipeline.ErrNoSteps), errors.Is(err, pipeline.ErrUnknownStep):
		return http.StatusUnprocessableEntity, CodeInvalidSteps
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable, CodeQueueFull
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().With(zap.String("component", "api")).Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}
