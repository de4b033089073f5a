package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/ledger"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddManualExpense records an expense that did not come from a decision.
// A zero date means now.
func (e *Engine) AddManualExpense(ctx context.Context, userID, name string, price decimal.Decimal, date time.Time) (model.ExpenseItem, error) {
	if strings.TrimSpace(name) == "" {
		return model.ExpenseItem{}, ErrEmptyTitle
	}
	if price.IsNegative() {
		return model.ExpenseItem{}, fmt.Errorf("%w: %s", ledger.ErrInvalidPrice, price)
	}
	if date.IsZero() {
		date = e.now()
	}

	item := model.ExpenseItem{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   strings.TrimSpace(name),
		Price:  price.Round(2),
		Date:   date,
	}

	err := e.locks.Do(userID, func() error {
		current, err := e.store.GetLedger(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}
		current.AddExpense(item)
		current.UpdatedAt = e.now()
		return e.store.SaveLedger(ctx, current)
	})
	if err != nil {
		return model.ExpenseItem{}, err
	}

	e.logger.Info("expense added", "user_id", userID, "expense_id", item.ID, "price", item.Price.StringFixed(2))
	return item, nil
}

// DeleteExpense removes an expense. Expenses linked to a decision can be
// removed too; the decision keeps its status.
func (e *Engine) DeleteExpense(ctx context.Context, userID, expenseID string) (model.ExpenseItem, error) {
	var removed model.ExpenseItem
	err := e.locks.Do(userID, func() error {
		current, err := e.store.GetLedger(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}
		item, ok := current.RemoveExpense(expenseID)
		if !ok {
			return fmt.Errorf("expense %s: %w", expenseID, common.ErrNotFound)
		}
		current.UpdatedAt = e.now()
		if err := e.store.SaveLedger(ctx, current); err != nil {
			return err
		}
		removed = item
		return nil
	})
	if err != nil {
		return model.ExpenseItem{}, err
	}

	if removed.DecisionID != nil {
		e.logger.Warn("removed an expense linked to a decision",
			"user_id", userID, "expense_id", expenseID, "decision_id", *removed.DecisionID)
	}
	return removed, nil
}

// Ledger returns the user's current ledger.
func (e *Engine) Ledger(ctx context.Context, userID string) (model.Ledger, error) {
	return e.store.GetLedger(ctx, userID)
}

// LedgerSummary totals the user's ledger and counts decisions by status.
func (e *Engine) LedgerSummary(ctx context.Context, userID string) (service.LedgerSummary, error) {
	current, err := e.store.GetLedger(ctx, userID)
	if err != nil {
		return service.LedgerSummary{}, fmt.Errorf("failed to load ledger: %w", err)
	}
	decisions, err := e.store.ListDecisions(ctx, userID, service.DecisionFilter{})
	if err != nil {
		return service.LedgerSummary{}, fmt.Errorf("failed to list decisions: %w", err)
	}

	summary := service.LedgerSummary{
		UserID:       userID,
		Spent:        current.Spent(),
		Saved:        current.Saved,
		ExpenseCount: len(current.Expenses),
	}
	for _, d := range decisions {
		switch d.Status {
		case model.StatusPending:
			summary.PendingCount++
		case model.StatusPurchased:
			summary.PurchasedCount++
		case model.StatusSkipped:
			summary.SkippedCount++
		}
	}
	return summary, nil
}
