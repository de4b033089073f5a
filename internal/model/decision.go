// Package model defines the core domain models used throughout the application.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownStatus is returned when a status string does not name a decision status.
var ErrUnknownStatus = errors.New("unknown decision status")

// DecisionStatus is the disposition of a proposed purchase.
type DecisionStatus string

// Decision status constants. StatusNone marks a decision that has no prior status.
const (
	StatusNone      DecisionStatus = ""
	StatusPending   DecisionStatus = "pending"
	StatusSkipped   DecisionStatus = "skipped"
	StatusPurchased DecisionStatus = "purchased"
)

// IsValid reports whether s is one of the three persisted statuses.
func (s DecisionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSkipped, StatusPurchased:
		return true
	}
	return false
}

// IsTerminal reports whether the decision has been resolved.
func (s DecisionStatus) IsTerminal() bool {
	return s == StatusSkipped || s == StatusPurchased
}

func (s DecisionStatus) String() string {
	if s == StatusNone {
		return "none"
	}
	return string(s)
}

// ParseDecisionStatus converts user input into a DecisionStatus.
// "bought" and "buy" are accepted as aliases for purchased, "skip" for skipped.
func ParseDecisionStatus(s string) (DecisionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "skipped", "skip":
		return StatusSkipped, nil
	case "purchased", "bought", "buy":
		return StatusPurchased, nil
	default:
		return StatusNone, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// Decision is a proposed purchase the user is considering.
type Decision struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	ID        string
	UserID    string
	Title     string
	Category  string // Optional, feeds preferred categories
	Status    DecisionStatus
	Price     decimal.Decimal
}

// NewDecision creates a pending decision with a fresh identifier.
func NewDecision(userID, title string, price decimal.Decimal, category string) Decision {
	now := time.Now()
	return Decision{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Category:  strings.TrimSpace(category),
		Price:     price,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PriceFloat returns the price as a float64 for statistics and display.
func (d Decision) PriceFloat() float64 {
	f, _ := d.Price.Float64()
	return f
}

// Label renders the decision as "Title ($12.34)".
func (d Decision) Label() string {
	return fmt.Sprintf("%s ($%s)", d.Title, d.Price.StringFixed(2))
}
