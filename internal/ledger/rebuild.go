package ledger

import (
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/shopspring/decimal"
)

// RebuildResult reports what Rebuild changed.
type RebuildResult struct {
	Backfilled  []model.ExpenseItem
	SavedBefore decimal.Decimal
	SavedAfter  decimal.Decimal
}

// Rebuild recomputes saved from the user's skipped decisions and adds the
// linked expense for any purchased decision that is missing one. Manual
// expenses and existing links are left alone, so running it twice gives the
// same ledger.
func (r *Reconciler) Rebuild(decisions []model.Decision, snapshot model.Ledger) (model.Ledger, RebuildResult) {
	ledger := snapshot.Clone()
	result := RebuildResult{SavedBefore: snapshot.Saved}

	saved := decimal.Zero
	for _, d := range decisions {
		switch d.Status {
		case model.StatusSkipped:
			saved = saved.Add(d.Price)
		case model.StatusPurchased:
			if _, exists := ledger.ExpenseForDecision(d.ID); exists {
				continue
			}
			var m Mutation
			r.createExpense(&ledger, d, &m)
			if m.Created != nil {
				result.Backfilled = append(result.Backfilled, *m.Created)
			}
		}
	}

	ledger.Saved = saved
	result.SavedAfter = saved
	if len(result.Backfilled) > 0 || !saved.Equal(snapshot.Saved) {
		ledger.UpdatedAt = r.now()
	}
	return ledger, result
}
