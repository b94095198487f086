package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// writeJSON encodes v onto the response. Run payloads embed opaque unsigned
// transfer bytes, so HTML escaping stays off.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v) // status is already on the wire
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit/offset query parameters, clamping the limit to
// maxPageLimit. Malformed or missing values fall back to the defaults.
func parseListOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{Limit: defaultPageLimit}
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, maxPageLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		opts.Offset = n
	}
	return opts
}

// pathParam reads a named Go 1.22 route pattern parameter.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
