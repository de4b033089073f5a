package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/buyornot/internal/ledger"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
)

// RebuildLedger recomputes the user's saved total from their skipped
// decisions and restores missing expenses for purchased ones.
func (e *Engine) RebuildLedger(ctx context.Context, userID string) (ledger.RebuildResult, error) {
	var result ledger.RebuildResult
	err := e.locks.Do(userID, func() error {
		decisions, err := e.store.ListDecisions(ctx, userID, service.DecisionFilter{})
		if err != nil {
			return fmt.Errorf("failed to list decisions: %w", err)
		}
		snapshot, err := e.store.GetLedger(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}

		rebuilt, res := e.reconciler.Rebuild(decisions, snapshot)
		result = res
		if len(res.Backfilled) == 0 && res.SavedAfter.Equal(res.SavedBefore) {
			return nil
		}
		if err := e.store.SaveLedger(ctx, rebuilt); err != nil {
			return fmt.Errorf("failed to save ledger: %w", err)
		}

		e.logger.Info("ledger rebuilt",
			"user_id", userID,
			"saved_before", res.SavedBefore.StringFixed(2),
			"saved_after", res.SavedAfter.StringFixed(2),
			"backfilled", len(res.Backfilled))
		return nil
	})
	return result, err
}

// RebuildAll runs RebuildLedger for every known user. Failures for one user
// do not stop the others; they are joined into the returned error.
func (e *Engine) RebuildAll(ctx context.Context) (map[string]ledger.RebuildResult, error) {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	results := make(map[string]ledger.RebuildResult, len(users))
	var errs []error
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.RebuildLedger(ctx, u)
		if err != nil {
			e.logger.Error("ledger rebuild failed", "user_id", u, "error", err)
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
			continue
		}
		results[u] = res
	}
	return results, errors.Join(errs...)
}

// RecomputePreferences rebuilds the user's preference statistics from their
// full decision history and stores them. It runs under the user's ledger lock
// so no transition can resolve a decision between the listing and the write.
func (e *Engine) RecomputePreferences(ctx context.Context, userID string) (model.UserPreferences, error) {
	var prefs model.UserPreferences
	err := e.locks.Do(userID, func() error {
		decisions, err := e.store.ListDecisions(ctx, userID, service.DecisionFilter{})
		if err != nil {
			return fmt.Errorf("failed to list decisions: %w", err)
		}
		prefs, err = e.aggregator.Recompute(userID, decisions)
		if err != nil {
			return err
		}
		err = e.store.UpdatePreferences(ctx, userID, func(*model.UserPreferences) (*model.UserPreferences, error) {
			return &prefs, nil
		})
		if err != nil {
			return fmt.Errorf("failed to save preferences: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.UserPreferences{}, err
	}
	return prefs, nil
}
