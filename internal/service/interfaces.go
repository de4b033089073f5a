// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/buyornot/internal/model"
	"github.com/shopspring/decimal"
)

// DecisionFilter narrows decision listings.
type DecisionFilter struct {
	Status model.DecisionStatus // StatusNone means any
	Limit  int
	Offset int
}

// DecisionStore persists decisions.
type DecisionStore interface {
	SaveDecision(ctx context.Context, decision *model.Decision) error
	// GetDecision returns common.ErrNotFound when the decision does not exist.
	GetDecision(ctx context.Context, userID, id string) (*model.Decision, error)
	ListDecisions(ctx context.Context, userID string, filter DecisionFilter) ([]model.Decision, error)
	ListUsers(ctx context.Context) ([]string, error)
}

// LedgerStore persists a user's saved total and expenses.
type LedgerStore interface {
	// GetLedger returns an empty ledger for users with no recorded activity.
	GetLedger(ctx context.Context, userID string) (model.Ledger, error)
	SaveLedger(ctx context.Context, ledger model.Ledger) error
	// CommitTransition saves a decision and the ledger it produced atomically.
	CommitTransition(ctx context.Context, decision *model.Decision, ledger model.Ledger) error
}

// PreferencesUpdate derives new preferences from the stored ones, which are
// nil when the user has none. Returning nil leaves the stored value as is.
type PreferencesUpdate func(prev *model.UserPreferences) (*model.UserPreferences, error)

// ConversationStore persists conversation threads, embeddings and preferences.
// Load methods return nil with no error when nothing is stored.
type ConversationStore interface {
	LoadConversation(ctx context.Context, userID, decisionID string) (*model.Conversation, error)
	SaveConversation(ctx context.Context, conversation *model.Conversation) error
	// LoadEmbeddings returns the newest embedding per decision, newest first.
	LoadEmbeddings(ctx context.Context, userID string, limit int) ([]model.ConversationEmbedding, error)
	SaveEmbedding(ctx context.Context, embedding *model.ConversationEmbedding) error
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	LoadPreferences(ctx context.Context, userID string) (*model.UserPreferences, error)
	SavePreferences(ctx context.Context, preferences *model.UserPreferences) error
	// UpdatePreferences runs fn on the stored preferences and saves the
	// result. Updates for one user are serialized against each other.
	UpdatePreferences(ctx context.Context, userID string, fn PreferencesUpdate) error
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	DecisionStore
	LedgerStore
	ConversationStore

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for remote calls.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// LedgerSummary contains aggregate information for a user's ledger.
type LedgerSummary struct {
	UserID         string
	Spent          decimal.Decimal
	Saved          decimal.Decimal
	ExpenseCount   int
	PendingCount   int
	PurchasedCount int
	SkippedCount   int
}
