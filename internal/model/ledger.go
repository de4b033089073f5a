package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseItem is a single recorded expense. DecisionID is nil for manually
// entered expenses and set for expenses produced by a purchased decision.
type ExpenseItem struct {
	Date       time.Time
	DecisionID *string
	ID         string
	UserID     string
	Name       string
	Price      decimal.Decimal
}

// LinkedTo reports whether the expense was produced by the given decision.
func (e ExpenseItem) LinkedTo(decisionID string) bool {
	return e.DecisionID != nil && *e.DecisionID == decisionID
}

// Ledger holds a user's saved total and expense list. Spent is derived from
// the expenses. The decision index maps decision ids to linked expense ids.
type Ledger struct {
	UpdatedAt  time.Time
	byDecision map[string]string
	UserID     string
	Expenses   []ExpenseItem
	Saved      decimal.Decimal
}

// NewLedger builds a ledger and indexes its decision-linked expenses.
func NewLedger(userID string, saved decimal.Decimal, expenses []ExpenseItem) Ledger {
	l := Ledger{
		UserID:   userID,
		Saved:    saved,
		Expenses: append([]ExpenseItem(nil), expenses...),
	}
	l.reindex()
	return l
}

func (l *Ledger) reindex() {
	l.byDecision = make(map[string]string, len(l.Expenses))
	for _, e := range l.Expenses {
		if e.DecisionID == nil {
			continue
		}
		if _, exists := l.byDecision[*e.DecisionID]; !exists {
			l.byDecision[*e.DecisionID] = e.ID
		}
	}
}

// Spent is the sum of all expense prices.
func (l Ledger) Spent() decimal.Decimal {
	total := decimal.Zero
	for _, e := range l.Expenses {
		total = total.Add(e.Price)
	}
	return total
}

// Clone returns a deep copy that can be mutated independently.
func (l Ledger) Clone() Ledger {
	c := NewLedger(l.UserID, l.Saved, l.Expenses)
	c.UpdatedAt = l.UpdatedAt
	return c
}

// ExpenseForDecision returns the expense linked to a decision.
func (l Ledger) ExpenseForDecision(decisionID string) (ExpenseItem, bool) {
	if l.byDecision != nil {
		id, ok := l.byDecision[decisionID]
		if !ok {
			return ExpenseItem{}, false
		}
		for _, e := range l.Expenses {
			if e.ID == id {
				return e, true
			}
		}
		return ExpenseItem{}, false
	}
	for _, e := range l.Expenses {
		if e.LinkedTo(decisionID) {
			return e, true
		}
	}
	return ExpenseItem{}, false
}

// FindByNameAndPrice returns the first expense with the given name and price
// that is not linked to some other decision.
func (l Ledger) FindByNameAndPrice(name string, price decimal.Decimal, decisionID string) (ExpenseItem, bool) {
	for _, e := range l.Expenses {
		if e.DecisionID != nil && *e.DecisionID != decisionID {
			continue
		}
		if e.Name == name && e.Price.Equal(price) {
			return e, true
		}
	}
	return ExpenseItem{}, false
}

// AddExpense appends an expense and indexes it.
func (l *Ledger) AddExpense(e ExpenseItem) {
	l.Expenses = append(l.Expenses, e)
	if e.DecisionID == nil {
		return
	}
	if l.byDecision == nil {
		l.reindex()
		return
	}
	if _, exists := l.byDecision[*e.DecisionID]; !exists {
		l.byDecision[*e.DecisionID] = e.ID
	}
}

// RemoveExpense deletes the expense with the given id.
func (l *Ledger) RemoveExpense(id string) (ExpenseItem, bool) {
	for i, e := range l.Expenses {
		if e.ID != id {
			continue
		}
		l.Expenses = append(l.Expenses[:i:i], l.Expenses[i+1:]...)
		l.reindex()
		return e, true
	}
	return ExpenseItem{}, false
}

// LinkedCount returns how many expenses reference the decision.
func (l Ledger) LinkedCount(decisionID string) int {
	n := 0
	for _, e := range l.Expenses {
		if e.LinkedTo(decisionID) {
			n++
		}
	}
	return n
}
