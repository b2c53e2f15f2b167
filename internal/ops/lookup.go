package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsforge/hiera-registry/internal/admin"
)

// errorResponse is the JSON error body of the lookup endpoint.
type errorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// lookupResponse wraps a resolved value.
type lookupResponse struct {
	Key   string `json:"key"`
	Merge bool   `json:"merge"`
	Value any    `json:"value"`
}

// handleLookup serves GET /lookup/{key}. Every query parameter except
// "merge" is taken as a fact.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key")

	merge := false
	facts := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		if name == "merge" {
			merge, _ = strconv.ParseBool(values[0])
			continue
		}
		facts[name] = values[0]
	}

	value, err := s.admin.Lookup(r.Context(), keyID, facts, merge)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Key: keyID, Merge: merge, Value: value})
}

func writeLookupError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var adminErr *admin.Error
	if errors.As(err, &adminErr) {
		switch adminErr.Kind {
		case admin.KindNotFound:
			status = http.StatusNotFound
		case admin.KindInvalidInput:
			status = http.StatusUnprocessableEntity
		case admin.KindUnavailable:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, errorResponse{ErrorCode: status, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
