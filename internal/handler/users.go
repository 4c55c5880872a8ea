package handler

import (
	"encoding/json"
	"net/http"

	"defi-advisor/internal/gas"
	"defi-advisor/internal/storage"
)

func RegisterUser(s storage.UserStore) http.HandlerFunc {
	type request struct {
		Handle        string `json:"handle"`
		ChatID        string `json:"chat_id"`
		GasAlertLevel string `json:"gas_alert_level"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Handle == "" {
			http.Error(w, `{"error":"handle required"}`, http.StatusBadRequest)
			return
		}

		user, err := s.UpsertUser(r.Context(), storage.User{
			Handle:        req.Handle,
			ChatID:        req.ChatID,
			Active:        true,
			GasAlertLevel: string(gas.ParseLevel(req.GasAlertLevel)),
		})
		if err != nil {
			http.Error(w, `{"error":"failed to register user"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(user)
	}
}
