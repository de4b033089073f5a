package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/shopspring/decimal"
)

// Fixtures collects decisions and ledgers to seed into a store.
//
// Example:
//
//	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
//		Fixtures: testutil.NewFixtures("alice").
//			WithDecision("d1", "Laptop", 1200, model.StatusPending).
//			WithSaved(50),
//	})
type Fixtures struct {
	saved     map[string]decimal.Decimal
	expenses  map[string][]model.ExpenseItem
	user      string
	decisions []model.Decision
}

// NewFixtures starts a fixture set whose entries belong to userID.
func NewFixtures(userID string) *Fixtures {
	return &Fixtures{
		user:     userID,
		saved:    make(map[string]decimal.Decimal),
		expenses: make(map[string][]model.ExpenseItem),
	}
}

// ForUser switches the user that following entries belong to.
func (f *Fixtures) ForUser(userID string) *Fixtures {
	f.user = userID
	return f
}

// WithDecision adds a decision. Decisions are created a minute apart in the
// order they are added.
func (f *Fixtures) WithDecision(id, title string, price int64, status model.DecisionStatus) *Fixtures {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(f.decisions)) * time.Minute)
	f.decisions = append(f.decisions, model.Decision{
		ID:        id,
		UserID:    f.user,
		Title:     title,
		Price:     decimal.NewFromInt(price),
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	})
	return f
}

// WithSaved sets the current user's saved total.
func (f *Fixtures) WithSaved(amount int64) *Fixtures {
	f.saved[f.user] = decimal.NewFromInt(amount)
	return f
}

// WithExpense adds an expense to the current user's ledger. An empty
// decisionID makes it a manual expense.
func (f *Fixtures) WithExpense(id, name string, price int64, decisionID string) *Fixtures {
	e := model.ExpenseItem{
		ID:     id,
		UserID: f.user,
		Name:   name,
		Price:  decimal.NewFromInt(price),
		Date:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if decisionID != "" {
		e.DecisionID = &decisionID
	}
	f.expenses[f.user] = append(f.expenses[f.user], e)
	return f
}

// Apply writes the fixtures to store.
func (f *Fixtures) Apply(ctx context.Context, store service.Storage) error {
	for i := range f.decisions {
		if err := store.SaveDecision(ctx, &f.decisions[i]); err != nil {
			return fmt.Errorf("decision %s: %w", f.decisions[i].ID, err)
		}
	}

	users := make(map[string]bool)
	for u := range f.saved {
		users[u] = true
	}
	for u := range f.expenses {
		users[u] = true
	}
	for u := range users {
		saved, ok := f.saved[u]
		if !ok {
			saved = decimal.Zero
		}
		if err := store.SaveLedger(ctx, model.NewLedger(u, saved, f.expenses[u])); err != nil {
			return fmt.Errorf("ledger %s: %w", u, err)
		}
	}
	return nil
}
