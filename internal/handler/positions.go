package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"defi-advisor/internal/positions"
	"defi-advisor/internal/storage"
)

// positionView decorates a stored position with the derived claim schedule.
type positionView struct {
	storage.Position
	CadenceSeconds int64           `json:"cadence_seconds"`
	NextClaimAt    time.Time       `json:"next_claim_at"`
	ProjectedYield decimal.Decimal `json:"projected_yield"`
}

func viewOf(p storage.Position, asOf time.Time) positionView {
	return positionView{
		Position:       p,
		CadenceSeconds: int64(p.Cadence / time.Second),
		NextClaimAt:    positions.NextClaim(p),
		ProjectedYield: positions.ProjectedYield(p, asOf),
	}
}

func ListPositions(tracker *positions.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
			return
		}

		list, err := tracker.List(r.Context(), userID)
		if err != nil {
			http.Error(w, `{"error":"failed to list positions"}`, http.StatusInternalServerError)
			return
		}

		now := time.Now().UTC()
		views := make([]positionView, 0, len(list))
		for _, p := range list {
			views = append(views, viewOf(p, now))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}

func AddPosition(tracker *positions.Tracker) http.HandlerFunc {
	type request struct {
		Protocol       string          `json:"protocol"`
		Asset          string          `json:"asset"`
		Principal      decimal.Decimal `json:"principal"`
		APY            decimal.Decimal `json:"apy"`
		CadenceSeconds int64           `json:"cadence_seconds"`
		OpenedAt       time.Time       `json:"opened_at"`
		LastClaimAt    time.Time       `json:"last_claim_at"`
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

		position, err := tracker.AddPosition(r.Context(), positions.NewPosition{
			UserID:      userID,
			Protocol:    req.Protocol,
			Asset:       req.Asset,
			Principal:   req.Principal,
			APY:         req.APY,
			Cadence:     time.Duration(req.CadenceSeconds) * time.Second,
			OpenedAt:    req.OpenedAt,
			LastClaimAt: req.LastClaimAt,
		})
		if err != nil {
			if errors.Is(err, positions.ErrInvalidPosition) {
				http.Error(w, `{"error":"invalid position"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"failed to add position"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(viewOf(position, time.Now().UTC()))
	}
}

func ClaimPosition(tracker *positions.Tracker) http.HandlerFunc {
	type request struct {
		ClaimedAt time.Time `json:"claimed_at"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		positionID, err := strconv.ParseInt(chi.URLParam(r, "positionID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid position id"}`, http.StatusBadRequest)
			return
		}

		var req request
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		if err := tracker.RecordClaim(r.Context(), positionID, req.ClaimedAt); err != nil {
			switch {
			case errors.Is(err, positions.ErrInvalidPosition):
				http.Error(w, `{"error":"invalid position id"}`, http.StatusBadRequest)
			case errors.Is(err, pgx.ErrNoRows):
				http.Error(w, `{"error":"position not found"}`, http.StatusNotFound)
			default:
				http.Error(w, `{"error":"failed to record claim"}`, http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func RemovePosition(tracker *positions.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, err := strconv.ParseInt(chi.URLParam(r, "positionID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid position id"}`, http.StatusBadRequest)
			return
		}

		if err := tracker.Remove(r.Context(), positionID); err != nil {
			switch {
			case errors.Is(err, positions.ErrInvalidPosition):
				http.Error(w, `{"error":"invalid position id"}`, http.StatusBadRequest)
			case errors.Is(err, pgx.ErrNoRows):
				http.Error(w, `{"error":"position not found"}`, http.StatusNotFound)
			default:
				http.Error(w, `{"error":"failed to remove position"}`, http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
