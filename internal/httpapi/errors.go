package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/dshills/orderflow/internal/gateway"
	"github.com/dshills/orderflow/pkg/types"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	// Details carries the gateway's own error message, when it sent one
	Details string `json:"details,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindUnauthorized:
		return http.StatusUnauthorized
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	case types.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status of its kind. Server-side failures
// get a generic message; the detail is logged by the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.KindOf(err)
	resp := ErrorResponse{Error: err.Error()}
	switch kind {
	case types.KindInternal:
		resp.Error = "internal server error"
	case types.KindGateway:
		resp.Error = "payment service unavailable"
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			resp.Details = apiErr.ErrorMessage
		}
	}
	render.Status(r, statusFor(kind))
	render.JSON(w, r, resp)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
