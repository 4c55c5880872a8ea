package handler

import (
	"encoding/json"
	"net/http"

	"defi-advisor/internal/gas"
)

// GasNow serves the latest oracle reading without triggering a fetch.
func GasNow(oracle gas.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reading, ok := oracle.Last()
		if !ok {
			http.Error(w, `{"error":"no gas reading available yet"}`, http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reading)
	}
}
