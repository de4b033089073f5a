package model

import "time"

// PriceRange is the span of prices seen across resolved decisions.
// The zero value means no price has been recorded yet.
type PriceRange struct {
	Min float64
	Max float64
}

// IsZero reports whether the range has never been initialized.
func (r PriceRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// DecisionPatterns are running statistics over resolved decisions.
type DecisionPatterns struct {
	TotalDecisions      int
	BoughtCount         int
	SkippedCount        int
	AveragePriceBought  float64
	AveragePriceSkipped float64
}

// BuyRatio is BoughtCount / TotalDecisions, or 0 when there are no decisions.
func (p DecisionPatterns) BuyRatio() float64 {
	if p.TotalDecisions == 0 {
		return 0
	}
	return float64(p.BoughtCount) / float64(p.TotalDecisions)
}

// CountedDecision is how one decision is currently reflected in Patterns.
type CountedDecision struct {
	Status DecisionStatus `json:"status"`
	Price  float64        `json:"price"`
}

// UserPreferences aggregates a user's purchasing behavior.
type UserPreferences struct {
	LastUpdated         time.Time
	Counted             map[string]CountedDecision // By decision ID
	UserID              string
	PreferredCategories []string
	PriceRange          PriceRange
	Patterns            DecisionPatterns
}

// NewUserPreferences returns zeroed preferences for a user.
func NewUserPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:              userID,
		PreferredCategories: []string{},
		Counted:             map[string]CountedDecision{},
	}
}

// Clone returns a copy that shares no slices or maps with p.
func (p UserPreferences) Clone() UserPreferences {
	p.PreferredCategories = append([]string{}, p.PreferredCategories...)
	counted := make(map[string]CountedDecision, len(p.Counted))
	for id, c := range p.Counted {
		counted[id] = c
	}
	p.Counted = counted
	return p
}

// HasCategory reports whether the category is already preferred.
func (p UserPreferences) HasCategory(category string) bool {
	for _, c := range p.PreferredCategories {
		if c == category {
			return true
		}
	}
	return false
}
