package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/risk"
)

// AssessContract runs (or serves from cache) a risk assessment for the
// address in the query string.
func AssessContract(analyzer risk.Assessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if address == "" {
			http.Error(w, `{"error":"address required"}`, http.StatusBadRequest)
			return
		}

		assessment, err := analyzer.Assess(r.Context(), address)
		if err != nil {
			switch {
			case errors.Is(err, fetcher.ErrInvalidAddress):
				http.Error(w, `{"error":"invalid contract address"}`, http.StatusBadRequest)
			case errors.Is(err, fetcher.ErrDataUnavailable):
				http.Error(w, `{"error":"assessment data unavailable"}`, http.StatusServiceUnavailable)
			default:
				http.Error(w, `{"error":"assessment failed"}`, http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(assessment)
	}
}
