package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"defi-advisor/internal/fetcher"
	"defi-advisor/internal/gas"
	"defi-advisor/internal/positions"
	"defi-advisor/internal/storage"
)

// UserAdd registers a user for advisory evaluation.
func (a *App) UserAdd(ctx context.Context, opts UserAddOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	user, err := store.UpsertUser(ctx, storage.User{
		Handle:        opts.Handle,
		ChatID:        opts.ChatID,
		Active:        true,
		GasAlertLevel: string(gas.ParseLevel(opts.GasAlertLevel)),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "user %d (%s) registered, gas alert level %s\n", user.ID, user.Handle, user.GasAlertLevel)
	return nil
}

// PositionAdd registers a yield position.
func (a *App) PositionAdd(ctx context.Context, opts PositionAddOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker, err := positions.NewTracker(positions.Options{Store: store, Logger: a.Logger})
	if err != nil {
		return err
	}

	spec := positions.NewPosition{
		UserID:    opts.UserID,
		Protocol:  opts.Protocol,
		Asset:     opts.Asset,
		Principal: opts.Principal,
		APY:       opts.APY,
		Cadence:   opts.Cadence,
	}
	if opts.OpenedAt != nil {
		spec.OpenedAt = *opts.OpenedAt
	}

	position, err := tracker.AddPosition(ctx, spec)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "position %d registered: %s %s, next claim %s\n",
		position.ID, position.Protocol, position.Asset,
		positions.NextClaim(position).UTC().Format(time.RFC3339))
	return nil
}

// PositionList prints a user's active positions with the derived schedule.
func (a *App) PositionList(ctx context.Context, userID int64) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker, err := positions.NewTracker(positions.Options{Store: store, Logger: a.Logger})
	if err != nil {
		return err
	}

	list, err := tracker.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(os.Stdout, "no active positions")
		return nil
	}

	now := time.Now().UTC()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tProtocol\tAsset\tPrincipal\tAPY\tCadence\tNext claim (UTC)\tProjected yield")
	for _, position := range list {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			position.ID,
			sanitizeInline(position.Protocol),
			sanitizeInline(position.Asset),
			formatDecimal(position.Principal, 2),
			formatDecimal(position.APY, 4),
			position.Cadence,
			positions.NextClaim(position).UTC().Format(time.RFC3339),
			formatDecimal(positions.ProjectedYield(position, now), 6),
		)
	}
	writer.Flush()
	return nil
}

// PositionClaim records a confirmed reward claim.
func (a *App) PositionClaim(ctx context.Context, positionID int64) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker, err := positions.NewTracker(positions.Options{Store: store, Logger: a.Logger})
	if err != nil {
		return err
	}

	if err := tracker.RecordClaim(ctx, positionID, time.Now().UTC()); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "claim recorded for position %d\n", positionID)
	return nil
}

// PositionRemove closes a position; its calendar entry is cleaned up on the
// next advisory pass.
func (a *App) PositionRemove(ctx context.Context, positionID int64) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker, err := positions.NewTracker(positions.Options{Store: store, Logger: a.Logger})
	if err != nil {
		return err
	}

	if err := tracker.Remove(ctx, positionID); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "position %d closed\n", positionID)
	return nil
}

// WatchAdd adds a contract address to the user's risk watchlist.
func (a *App) WatchAdd(ctx context.Context, userID int64, address string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	normalized, err := fetcher.NormalizeAddress(address)
	if err != nil {
		return err
	}

	watch, err := store.AddWatch(ctx, userID, normalized)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "watching %s for user %d\n", watch.Address, userID)
	return nil
}

// WatchList prints the user's watchlist.
func (a *App) WatchList(ctx context.Context, userID int64) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	watches, err := store.ListWatches(ctx, userID)
	if err != nil {
		return err
	}
	if len(watches) == 0 {
		fmt.Fprintln(os.Stdout, "no watched contracts")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Address\tSince (UTC)")
	for _, watch := range watches {
		fmt.Fprintf(writer, "%s\t%s\n", watch.Address, watch.CreatedAt.UTC().Format(time.RFC3339))
	}
	writer.Flush()
	return nil
}

// WatchRemove drops a contract address from the user's watchlist.
func (a *App) WatchRemove(ctx context.Context, userID int64, address string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	normalized, err := fetcher.NormalizeAddress(address)
	if err != nil {
		return err
	}

	if err := store.RemoveWatch(ctx, userID, normalized); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "stopped watching %s for user %d\n", normalized, userID)
	return nil
}
