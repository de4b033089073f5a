// Package ledger keeps a user's spent and saved totals consistent with the
// status history of their purchase decisions.
package ledger

import (
	"fmt"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validation errors. All of them wrap common.ErrInvalidInput.
var (
	ErrInvalidPrice  = fmt.Errorf("%w: price must be non-negative", common.ErrInvalidInput)
	ErrInvalidStatus = fmt.Errorf("%w: invalid decision status", common.ErrInvalidInput)
	ErrUserMismatch  = fmt.Errorf("%w: decision and ledger belong to different users", common.ErrInvalidInput)
)

// Mutation describes what a reconciliation changed.
type Mutation struct {
	Created      *model.ExpenseItem
	Removed      *model.ExpenseItem
	Old          model.DecisionStatus
	New          model.DecisionStatus
	SavedDelta   decimal.Decimal // Change actually applied to saved, after clamping
	UsedFallback bool            // Removed expense was found by name and price
	Clamped      bool            // Saved would have gone negative
}

// IsNoop reports whether the ledger was left unchanged.
func (m Mutation) IsNoop() bool {
	return m.Created == nil && m.Removed == nil && m.SavedDelta.IsZero()
}

// Reconciler applies decision status transitions to ledger snapshots.
type Reconciler struct {
	newID func() string
	now   func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithIDGenerator overrides how expense ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) { r.newID = fn }
}

// WithClock overrides the time source used for expense dates.
func WithClock(fn func() time.Time) Option {
	return func(r *Reconciler) { r.now = fn }
}

// NewReconciler creates a reconciler using random UUIDs and wall-clock time.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile computes the ledger that results from moving decision from old to
// new. Use model.StatusNone as old for a decision that has never been recorded.
// The snapshot is not modified. The decision's current price is used for every
// delta, so a price edited between transitions takes effect on the next one.
//
//	none/pending -> purchased  create linked expense
//	none/pending -> skipped    saved += price
//	purchased    -> skipped    remove linked expense, saved += price
//	skipped      -> purchased  saved -= price (floored at 0), create linked expense
//
// Every other pair is a no-op.
func (r *Reconciler) Reconcile(old, next model.DecisionStatus, decision model.Decision, snapshot model.Ledger) (model.Ledger, Mutation, error) {
	mutation := Mutation{Old: old, New: next, SavedDelta: decimal.Zero}

	if decision.Price.IsNegative() {
		return snapshot, mutation, fmt.Errorf("%w: %s", ErrInvalidPrice, decision.Price)
	}
	if !next.IsValid() || (old != model.StatusNone && !old.IsValid()) {
		return snapshot, mutation, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, old, next)
	}
	if snapshot.UserID != "" && decision.UserID != "" && snapshot.UserID != decision.UserID {
		return snapshot, mutation, ErrUserMismatch
	}

	ledger := snapshot.Clone()
	if ledger.UserID == "" {
		ledger.UserID = decision.UserID
	}

	open := old == model.StatusNone || old == model.StatusPending

	switch {
	case open && next == model.StatusPurchased:
		r.createExpense(&ledger, decision, &mutation)
	case open && next == model.StatusSkipped:
		credit(&ledger, decision.Price, &mutation)
	case old == model.StatusPurchased && next == model.StatusSkipped:
		removeExpense(&ledger, decision, &mutation)
		credit(&ledger, decision.Price, &mutation)
	case old == model.StatusSkipped && next == model.StatusPurchased:
		debit(&ledger, decision.Price, &mutation)
		r.createExpense(&ledger, decision, &mutation)
	}

	if !mutation.IsNoop() {
		ledger.UpdatedAt = r.now()
	}
	return ledger, mutation, nil
}

// createExpense adds the decision's linked expense unless one already exists.
func (r *Reconciler) createExpense(ledger *model.Ledger, decision model.Decision, m *Mutation) {
	if _, exists := ledger.ExpenseForDecision(decision.ID); exists {
		return
	}
	decisionID := decision.ID
	item := model.ExpenseItem{
		ID:         r.newID(),
		UserID:     decision.UserID,
		DecisionID: &decisionID,
		Name:       decision.Title,
		Price:      decision.Price,
		Date:       r.now(),
	}
	ledger.AddExpense(item)
	m.Created = &item
}

// removeExpense drops the expense linked to the decision. Expenses recorded
// before links existed are matched on name and price instead.
func removeExpense(ledger *model.Ledger, decision model.Decision, m *Mutation) {
	item, ok := ledger.ExpenseForDecision(decision.ID)
	if !ok {
		item, ok = ledger.FindByNameAndPrice(decision.Title, decision.Price, decision.ID)
		if !ok {
			return
		}
		m.UsedFallback = true
	}
	if removed, ok := ledger.RemoveExpense(item.ID); ok {
		m.Removed = &removed
	}
}

func credit(ledger *model.Ledger, amount decimal.Decimal, m *Mutation) {
	ledger.Saved = ledger.Saved.Add(amount)
	m.SavedDelta = m.SavedDelta.Add(amount)
}

// debit subtracts amount from saved, flooring at zero.
func debit(ledger *model.Ledger, amount decimal.Decimal, m *Mutation) {
	if ledger.Saved.LessThan(amount) {
		m.SavedDelta = m.SavedDelta.Sub(ledger.Saved)
		m.Clamped = true
		ledger.Saved = decimal.Zero
		return
	}
	ledger.Saved = ledger.Saved.Sub(amount)
	m.SavedDelta = m.SavedDelta.Sub(amount)
}
