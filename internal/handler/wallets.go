package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/storage"
)

func ListWallets(s storage.WalletStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
			return
		}

		wallets, err := s.ListWallets(r.Context(), userID)
		if err != nil {
			http.Error(w, `{"error":"failed to list wallets"}`, http.StatusInternalServerError)
			return
		}
		if wallets == nil {
			wallets = []storage.Wallet{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wallets)
	}
}

func AddWallet(s storage.WalletStore) http.HandlerFunc {
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
			http.Error(w, `{"error":"invalid wallet address"}`, http.StatusBadRequest)
			return
		}

		wallet, err := s.AddWallet(r.Context(), userID, normalized)
		if err != nil {
			http.Error(w, `{"error":"failed to add wallet"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(wallet)
	}
}

func RemoveWallet(s storage.WalletStore) http.HandlerFunc {
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

		if err := s.RemoveWallet(r.Context(), userID, address); err != nil {
			http.Error(w, `{"error":"failed to remove wallet"}`, http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
