package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"teamledger.io/internal/tenancy"
)

var strictJSON = sonic.Config{
	EscapeHTML:            true,
	ValidateString:        true,
	DisallowUnknownFields: true,
}.Froze()

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is required")
	}
	return strictJSON.Unmarshal(body, dst)
}

// handleServiceError maps tenancy sentinels onto HTTP status codes.
func (a *API) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenancy.ErrInvalidArgument), errors.Is(err, tenancy.ErrTokenInvalid):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenancy.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, tenancy.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, tenancy.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, tenancy.ErrAlreadyExists),
		errors.Is(err, tenancy.ErrAlreadyAccepted),
		errors.Is(err, tenancy.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, tenancy.ErrTokenExpired):
		writeError(w, r, http.StatusGone, err.Error())
	default:
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
