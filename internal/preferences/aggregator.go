// Package preferences maintains running statistics over a user's resolved
// purchase decisions.
package preferences

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
)

// ErrNotTerminal is returned when a pending decision is folded into preferences.
var ErrNotTerminal = fmt.Errorf("%w: decision is not resolved", common.ErrInvalidInput)

// ErrAlreadyCounted is returned when a decision is already reflected in the
// preferences with the same status and price.
var ErrAlreadyCounted = errors.New("decision already counted")

// Aggregator folds resolved decisions into UserPreferences.
type Aggregator struct {
	now func() time.Time
}

// NewAggregator creates an aggregator using wall-clock time.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Apply returns prev updated with one resolved decision. A nil prev starts
// from zeroed preferences. prev is not modified.
//
// Each decision is counted once. Applying a decision that was counted with
// another status or price moves it between buckets; applying it unchanged
// returns ErrAlreadyCounted. Decisions without an ID are always counted.
func (a *Aggregator) Apply(prev *model.UserPreferences, userID string, decision model.Decision) (model.UserPreferences, error) {
	if !decision.Status.IsTerminal() {
		return model.UserPreferences{}, fmt.Errorf("%w: %s is %s", ErrNotTerminal, decision.ID, decision.Status)
	}
	if decision.Price.IsNegative() {
		return model.UserPreferences{}, fmt.Errorf("%w: negative price %s", common.ErrInvalidInput, decision.Price)
	}

	next := model.NewUserPreferences(userID)
	if prev != nil {
		next = prev.Clone()
		next.UserID = userID
		if next.Counted == nil {
			next.Counted = map[string]model.CountedDecision{}
		}
	}

	price := decision.PriceFloat()
	p := &next.Patterns

	if counted, ok := next.Counted[decision.ID]; ok && decision.ID != "" {
		if counted.Status == decision.Status && counted.Price == price {
			return model.UserPreferences{}, fmt.Errorf("%w: %s", ErrAlreadyCounted, decision.ID)
		}
		uncount(p, counted)
	}

	p.TotalDecisions++
	switch decision.Status {
	case model.StatusPurchased:
		p.BoughtCount++
		p.AveragePriceBought = runningMean(p.AveragePriceBought, p.BoughtCount, price)
		if decision.Category != "" && !next.HasCategory(decision.Category) {
			next.PreferredCategories = append(next.PreferredCategories, decision.Category)
			sort.Strings(next.PreferredCategories)
		}
	case model.StatusSkipped:
		p.SkippedCount++
		p.AveragePriceSkipped = runningMean(p.AveragePriceSkipped, p.SkippedCount, price)
	}

	if next.PriceRange.IsZero() {
		next.PriceRange = model.PriceRange{Min: price, Max: price}
	} else {
		next.PriceRange.Min = min(next.PriceRange.Min, price)
		next.PriceRange.Max = max(next.PriceRange.Max, price)
	}

	if decision.ID != "" {
		next.Counted[decision.ID] = model.CountedDecision{Status: decision.Status, Price: price}
	}
	next.LastUpdated = a.now()
	return next, nil
}

// Fold returns a store update that applies decision to the stored
// preferences. A decision that is already counted leaves them untouched.
func (a *Aggregator) Fold(userID string, decision model.Decision) service.PreferencesUpdate {
	return func(prev *model.UserPreferences) (*model.UserPreferences, error) {
		next, err := a.Apply(prev, userID, decision)
		if errors.Is(err, ErrAlreadyCounted) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &next, nil
	}
}

// Recompute rebuilds preferences from scratch over the resolved decisions,
// oldest first. Pending decisions are ignored.
func (a *Aggregator) Recompute(userID string, decisions []model.Decision) (model.UserPreferences, error) {
	ordered := append([]model.Decision(nil), decisions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	prefs := model.NewUserPreferences(userID)
	prefs.LastUpdated = a.now()
	for _, d := range ordered {
		if !d.Status.IsTerminal() {
			continue
		}
		next, err := a.Apply(&prefs, userID, d)
		if errors.Is(err, ErrAlreadyCounted) {
			continue
		}
		if err != nil {
			return model.UserPreferences{}, err
		}
		prefs = next
	}
	return prefs, nil
}

// uncount removes a previously counted decision from the running statistics.
// The price range and preferred categories keep what they have seen.
func uncount(p *model.DecisionPatterns, c model.CountedDecision) {
	p.TotalDecisions = max(p.TotalDecisions-1, 0)
	switch c.Status {
	case model.StatusPurchased:
		p.AveragePriceBought = removeFromMean(p.AveragePriceBought, p.BoughtCount, c.Price)
		p.BoughtCount = max(p.BoughtCount-1, 0)
	case model.StatusSkipped:
		p.AveragePriceSkipped = removeFromMean(p.AveragePriceSkipped, p.SkippedCount, c.Price)
		p.SkippedCount = max(p.SkippedCount-1, 0)
	}
}

// runningMean folds x into a mean over n values, where avg covers the first n-1.
func runningMean(avg float64, n int, x float64) float64 {
	return (avg*float64(n-1) + x) / float64(n)
}

// removeFromMean takes x back out of a mean over n values.
func removeFromMean(avg float64, n int, x float64) float64 {
	if n <= 1 {
		return 0
	}
	return (avg*float64(n) - x) / float64(n-1)
}
