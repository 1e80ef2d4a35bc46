package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oasisprotocol/chainview/accessor"
	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

var (
	// ErrBadRequest is returned when the provided HTTP request is malformed.
	ErrBadRequest = errors.New("invalid request parameters")
	// ErrNotFound is returned for requests that match no route.
	ErrNotFound = errors.New("not found")
)

// HumanReadableError is the JSON body of every error response.
type HumanReadableError struct {
	Msg string `json:"msg"`
}

func HttpCodeForError(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, accessor.ErrBadCursor),
		errors.Is(err, registry.ErrKeyArity),
		errors.Is(err, registry.ErrWrongKind):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, registry.ErrUnknownItem),
		errors.Is(err, registry.ErrNotPresent),
		errors.Is(err, nodeapi.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		// Decode failures and node errors alike.
		return http.StatusInternalServerError
	}
}

// errorCause is a coarse error class, used as a metrics label.
func errorCause(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, accessor.ErrBadCursor):
		return "bad_request"
	case errors.Is(err, ErrNotFound):
		return "no_route"
	case errors.Is(err, registry.ErrKeyArity):
		return "key_arity"
	case errors.Is(err, registry.ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, registry.ErrUnknownItem):
		return "unknown_item"
	case errors.Is(err, registry.ErrNotPresent):
		return "not_present"
	case errors.Is(err, nodeapi.ErrBlockNotFound):
		return "block_not_found"
	case errors.Is(err, registry.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, dispatch.ErrDecodeFailure):
		return "decode"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "node"
	}
}

// HumanReadableJsonErrorHandler renders `err` as human-readable JSON to the
// HTTP response stream `w`.
func HumanReadableJsonErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	setCause(r.Context(), errorCause(err))

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("x-content-type-options", "nosniff")
	w.WriteHeader(HttpCodeForError(err))

	_ = json.NewEncoder(w).Encode(HumanReadableError{Msg: err.Error()})
}
