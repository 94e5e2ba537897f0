package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func pagination(r *http.Request) (limit, offset int64) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n := parsePositiveInt(v); n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n := parsePositiveInt(v); n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func parsePositiveInt(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
