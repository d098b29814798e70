package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	apperrors "github.com/goliatone/go-errors"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/flow"
)

const codeInternal = "INTERNAL"

// ErrorMapping is the transport view of an engine error.
type ErrorMapping struct {
	Code       string
	HTTPStatus int
}

// ErrorEnvelope is the JSON error body.
type ErrorEnvelope struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	RunID    string         `json:"run_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MapError maps error text codes to HTTP statuses.
func MapError(err error) ErrorMapping {
	code := strings.TrimSpace(dispute.ErrorCode(err))

	switch code {
	case dispute.ErrCodeValidation:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusBadRequest}
	case dispute.ErrCodeNotFound:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusNotFound}
	case dispute.ErrCodePreconditionFailed:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusPreconditionFailed}
	case dispute.ErrCodeVersionConflict, flow.ErrCodeInvalidTransition:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusConflict}
	case dispute.ErrCodeSecurityViolation:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusForbidden}
	case dispute.ErrCodeTransientExternal:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusBadGateway}
	case dispute.ErrCodePersistence:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusServiceUnavailable}
	default:
		return ErrorMapping{Code: codeInternal, HTTPStatus: http.StatusInternalServerError}
	}
}

// HTTPStatusForError returns the mapped HTTP status code for an engine error.
func HTTPStatusForError(err error) int {
	return MapError(err).HTTPStatus
}

func envelopeFor(err error) ErrorEnvelope {
	mapping := MapError(err)
	env := ErrorEnvelope{Code: mapping.Code, Message: err.Error()}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		if msg := strings.TrimSpace(ge.Message); msg != "" {
			env.Message = msg
		}
		if mapping.HTTPStatus < http.StatusInternalServerError {
			env.Metadata = ge.Metadata
		}
	}
	return env
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, HTTPStatusForError(err), envelopeFor(err))
}
