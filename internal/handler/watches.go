package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/storage"
)

func ListWatches(s storage.WatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
			return
		}

		watches, err := s.ListWatches(r.Context(), userID)
		if err != nil {
			http.Error(w, `{"error":"failed to list watches"}`, http.StatusInternalServerError)
			return
		}
		if watches == nil {
			watches = []storage.WatchedContract{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(watches)
	}
}

func AddWatch(s storage.WatchStore) http.HandlerFunc {
	type request struct {
		Address string `json:"address"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		normalized, err := fetcher.NormalizeAddress(req.Address)
		if err != nil {
			http.Error(w, `{"error":"invalid contract address"}`, http.StatusBadRequest)
			return
		}

		watch, err := s.AddWatch(r.Context(), userID, normalized)
		if err != nil {
			http.Error(w, `{"error":"failed to add watch"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(watch)
	}
}

func RemoveWatch(s storage.WatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
			return
		}

		address := r.URL.Query().Get("address")
		if address == "" {
			http.Error(w, `{"error":"address required"}`, http.StatusBadRequest)
			return
		}
		if normalized, err := fetcher.NormalizeAddress(address); err == nil {
			address = normalized
		}

		if err := s.RemoveWatch(r.Context(), userID, address); err != nil {
			http.Error(w, `{"error":"failed to remove watch"}`, http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
