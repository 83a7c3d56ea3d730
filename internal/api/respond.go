package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"agenda/internal/model"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidationFailed), errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrSlotAlreadyTaken):
		return http.StatusConflict
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := ErrorResponse{Error: err.Error()}

	var v *model.ValidationError
	if errors.As(err, &v) {
		body.Fields = v.Fields
	}

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("request failed")
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", model.ErrInvalidInput, err)
	}
	return nil
}
