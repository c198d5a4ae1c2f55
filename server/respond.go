package server

import (
	"encoding/json"
	"net/http"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/logger"
)

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
	// RetrySave tells the client the work succeeded and only saving failed.
	RetrySave bool `json:"retry_save,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	wire := apperr.WireFrom(err)
	status := apperr.HTTPStatus(wire.Kind)
	if status >= http.StatusInternalServerError {
		logger.C(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]errorBody{"error": {
		Kind:      wire.Kind,
		Message:   wire.Message,
		RetrySave: wire.Kind == apperr.KindPersistence,
	}})
}
