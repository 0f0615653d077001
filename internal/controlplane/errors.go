package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fentz26/escrowd/internal/escrow"
)

// Sentinel errors for control plane operations.
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrBadRequest       = errors.New("malformed request")
	ErrFaucetDisabled   = errors.New("faucet is disabled")
	ErrFaucetLimit      = errors.New("faucet amount must be between 1 and the configured maximum")
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind"`
}

// statusFor maps err to an HTTP status code and response body.
func statusFor(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UnknownOperation", Kind: "request"}
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BadRequest", Kind: "request"}
	case errors.Is(err, ErrFaucetDisabled):
		return http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "FaucetDisabled", Kind: "request"}
	case errors.Is(err, ErrFaucetLimit):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "FaucetLimit", Kind: "request"}
	}

	kind := escrow.KindOf(err)
	body := ErrorResponse{Error: err.Error(), Code: escrow.CodeOf(err), Kind: string(kind)}
	switch kind {
	case escrow.KindValidation:
		return http.StatusBadRequest, body
	case escrow.KindAuthorization:
		return http.StatusForbidden, body
	case escrow.KindNotFound:
		return http.StatusNotFound, body
	case escrow.KindState, escrow.KindConflict:
		return http.StatusConflict, body
	case escrow.KindTiming, escrow.KindQuorum, escrow.KindArithmetic:
		return http.StatusUnprocessableEntity, body
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "Internal", Kind: string(escrow.KindInternal)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
