// Package storage provides the SQLite persistence layer for decisions,
// ledgers, conversations and preferences.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
)

// Validation errors. All of them match common.ErrInvalidInput.
var (
	ErrNilContext          = fmt.Errorf("%w: context cannot be nil", common.ErrInvalidInput)
	ErrEmptyString         = fmt.Errorf("%w: string parameter cannot be empty", common.ErrInvalidInput)
	ErrNilParameter        = fmt.Errorf("%w: parameter cannot be nil", common.ErrInvalidInput)
	ErrInvalidDecision     = fmt.Errorf("%w: invalid decision", common.ErrInvalidInput)
	ErrInvalidLedger       = fmt.Errorf("%w: invalid ledger", common.ErrInvalidInput)
	ErrInvalidEmbedding    = fmt.Errorf("%w: invalid embedding", common.ErrInvalidInput)
	ErrInvalidConversation = fmt.Errorf("%w: invalid conversation", common.ErrInvalidInput)
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateDecision(d *model.Decision) error {
	if d == nil {
		return fmt.Errorf("%w: decision", ErrNilParameter)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDecision)
	}
	if strings.TrimSpace(d.UserID) == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidDecision)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidDecision)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: status %q", ErrInvalidDecision, d.Status)
	}
	if d.Price.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrInvalidDecision)
	}
	return nil
}

func validateLedger(l model.Ledger) error {
	if strings.TrimSpace(l.UserID) == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidLedger)
	}
	if l.Saved.IsNegative() {
		return fmt.Errorf("%w: negative saved total", ErrInvalidLedger)
	}
	seen := make(map[string]bool, len(l.Expenses))
	for i, e := range l.Expenses {
		if e.ID == "" {
			return fmt.Errorf("%w: expense at index %d has no ID", ErrInvalidLedger, i)
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: duplicate expense %s", ErrInvalidLedger, e.ID)
		}
		seen[e.ID] = true
		if e.UserID != "" && e.UserID != l.UserID {
			return fmt.Errorf("%w: expense %s belongs to another user", ErrInvalidLedger, e.ID)
		}
	}
	return nil
}

func validateConversation(c *model.Conversation) error {
	if c == nil {
		return fmt.Errorf("%w: conversation", ErrNilParameter)
	}
	if c.ID == "" || c.DecisionID == "" || strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("%w: id, decision and user are required", ErrInvalidConversation)
	}
	return nil
}

func validateEmbedding(e *model.ConversationEmbedding) error {
	if e == nil {
		return fmt.Errorf("%w: embedding", ErrNilParameter)
	}
	if e.ID == "" || e.DecisionID == "" || strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: id, decision and user are required", ErrInvalidEmbedding)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	return nil
}

func validatePreferences(p *model.UserPreferences) error {
	if p == nil {
		return fmt.Errorf("%w: preferences", ErrNilParameter)
	}
	return validateString(p.UserID, "userID")
}
