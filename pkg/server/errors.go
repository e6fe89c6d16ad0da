package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kadirpekel/conduit/internal/errs"
	"github.com/kadirpekel/conduit/pkg/providers"
)

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusForError maps a conduit error kind to its HTTP status.
// Unrecognized errors default to 500 (something the operator has to
// fix).
func statusForError(err error) int {
	switch {
	case errors.Is(err, errs.ErrProviderExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrProviderFatal):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrCommandUnknown), errors.Is(err, errs.ErrCommandDisabled):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrArgumentInvalid):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrChainRecursion):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrCancelled):
		return 499
	case errors.Is(err, errs.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeHandlerError writes err per statusForError, attaching the tried
// provider list when the router reports an exhaustion.
func writeHandlerError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	body := map[string]any{"error": err.Error()}
	var exhausted *providers.ExhaustedError
	if errors.As(err, &exhausted) {
		body["tried_providers"] = exhausted.Tried
	}
	writeJSON(w, status, body)
}
