package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"defi-advisor/internal/advisor"
)

// Evaluator is the slice of the advisor this handler needs.
type Evaluator interface {
	EvaluateNow(ctx context.Context, userID int64) (advisor.Result, error)
}

// Evaluate runs an on-demand advisory pass for one user. It reports current
// conditions without sending notifications or consuming cooldowns.
func Evaluate(ev Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
			return
		}

		result, err := ev.EvaluateNow(r.Context(), userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"evaluation failed"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}
