// Package engine coordinates purchase decisions and the ledger they feed.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/ledger"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/preferences"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyTitle is returned when a decision or expense has no name.
	ErrEmptyTitle = fmt.Errorf("%w: title is required", common.ErrInvalidInput)
	// ErrResolved is returned when a bought or skipped decision is moved back
	// to pending.
	ErrResolved = fmt.Errorf("%w: a resolved decision cannot return to pending", ledger.ErrInvalidStatus)
)

// Engine applies decision changes and keeps each user's ledger consistent
// with them. Ledger writes for one user never run concurrently.
type Engine struct {
	store      service.Storage
	reconciler *ledger.Reconciler
	aggregator *preferences.Aggregator
	locks      *ledger.Locks
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithReconciler replaces the default reconciler.
func WithReconciler(r *ledger.Reconciler) Option {
	return func(e *Engine) { e.reconciler = r }
}

// WithClock overrides the time source for decision timestamps.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// New creates an engine backed by store.
func New(store service.Storage, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:      store,
		reconciler: ledger.NewReconciler(),
		aggregator: preferences.NewAggregator(),
		locks:      ledger.NewLocks(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Proposal is a purchase the user wants to think about.
type Proposal struct {
	Title    string
	Category string
	Price    decimal.Decimal
}

// ProposeDecision records a new pending decision. Pending decisions do not
// touch the ledger.
func (e *Engine) ProposeDecision(ctx context.Context, userID string, p Proposal) (model.Decision, error) {
	if strings.TrimSpace(userID) == "" {
		return model.Decision{}, fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}
	if strings.TrimSpace(p.Title) == "" {
		return model.Decision{}, ErrEmptyTitle
	}
	if p.Price.IsNegative() {
		return model.Decision{}, fmt.Errorf("%w: %s", ledger.ErrInvalidPrice, p.Price)
	}

	d := model.NewDecision(userID, p.Title, p.Price.Round(2), p.Category)
	now := e.now()
	d.CreatedAt, d.UpdatedAt = now, now
	if err := e.store.SaveDecision(ctx, &d); err != nil {
		return model.Decision{}, fmt.Errorf("failed to save decision: %w", err)
	}

	e.logger.Info("decision proposed",
		"user_id", userID,
		"decision_id", d.ID,
		"title", d.Title,
		"price", d.Price.StringFixed(2))
	return d, nil
}

// Edits are optional changes applied to a decision during a transition.
// The last edit wins: the ledger delta of the transition uses the edited price.
type Edits struct {
	Title    *string
	Category *string
	Price    *decimal.Decimal
}

func (ed Edits) apply(d *model.Decision) (bool, error) {
	changed := false
	if ed.Title != nil {
		title := strings.TrimSpace(*ed.Title)
		if title == "" {
			return false, ErrEmptyTitle
		}
		if title != d.Title {
			d.Title = title
			changed = true
		}
	}
	if ed.Category != nil && strings.TrimSpace(*ed.Category) != d.Category {
		d.Category = strings.TrimSpace(*ed.Category)
		changed = true
	}
	if ed.Price != nil {
		if ed.Price.IsNegative() {
			return false, fmt.Errorf("%w: %s", ledger.ErrInvalidPrice, *ed.Price)
		}
		price := ed.Price.Round(2)
		if !price.Equal(d.Price) {
			d.Price = price
			changed = true
		}
	}
	return changed, nil
}

// TransitionResult describes the outcome of TransitionDecision.
type TransitionResult struct {
	Decision model.Decision
	Ledger   model.Ledger
	Mutation ledger.Mutation
	Changed  bool // Status changed
}

// TransitionDecision moves a stored decision to status next, applying edits
// first. The previous status is read from storage, so repeating a transition
// is a no-op. The decision and the resulting ledger are saved together.
// Resolved decisions may switch between purchased and skipped but never
// return to pending. Every resolved decision is then folded into the user's
// preferences; a failed preference update is logged and does not undo the
// transition.
func (e *Engine) TransitionDecision(ctx context.Context, userID, decisionID string, next model.DecisionStatus, edits Edits) (TransitionResult, error) {
	if !next.IsValid() {
		return TransitionResult{}, fmt.Errorf("%w: %q", ledger.ErrInvalidStatus, next)
	}

	var result TransitionResult
	err := e.locks.Do(userID, func() error {
		stored, err := e.store.GetDecision(ctx, userID, decisionID)
		if err != nil {
			return err
		}
		d := *stored

		edited, err := edits.apply(&d)
		if err != nil {
			return err
		}

		old := d.Status
		if old.IsTerminal() && next == model.StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrResolved, d.ID, old)
		}
		if old == next {
			if edited {
				d.UpdatedAt = e.now()
				if err := e.store.SaveDecision(ctx, &d); err != nil {
					return fmt.Errorf("failed to save decision: %w", err)
				}
				if d.Status.IsTerminal() {
					e.foldPreferences(ctx, userID, d)
				}
			}
			snapshot, err := e.store.GetLedger(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}
			result = TransitionResult{Decision: d, Ledger: snapshot, Mutation: ledger.Mutation{Old: old, New: next}}
			return nil
		}

		snapshot, err := e.store.GetLedger(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}

		updated, mutation, err := e.reconciler.Reconcile(old, next, d, snapshot)
		if err != nil {
			return err
		}

		d.Status = next
		d.UpdatedAt = e.now()
		if err := e.store.CommitTransition(ctx, &d, updated); err != nil {
			return fmt.Errorf("failed to commit transition: %w", err)
		}

		if mutation.Clamped {
			e.logger.Warn("saved total clamped at zero",
				"user_id", userID, "decision_id", d.ID, "price", d.Price.StringFixed(2))
		}
		if mutation.UsedFallback {
			e.logger.Warn("removed an unlinked expense matched by name and price",
				"user_id", userID, "decision_id", d.ID)
		}
		e.logger.Info("decision transitioned",
			"user_id", userID,
			"decision_id", d.ID,
			"from", old,
			"to", next,
			"saved_delta", mutation.SavedDelta.StringFixed(2))

		if next.IsTerminal() {
			e.foldPreferences(ctx, userID, d)
		}

		result = TransitionResult{Decision: d, Ledger: updated, Mutation: mutation, Changed: true}
		return nil
	})
	return result, err
}

// foldPreferences counts a resolved decision in its owner's preferences.
func (e *Engine) foldPreferences(ctx context.Context, userID string, d model.Decision) {
	if err := e.store.UpdatePreferences(ctx, userID, e.aggregator.Fold(userID, d)); err != nil {
		e.logger.Warn("failed to update preferences",
			"user_id", userID, "decision_id", d.ID, "status", d.Status, "error", err)
	}
}

// GetDecision returns one of the user's decisions.
func (e *Engine) GetDecision(ctx context.Context, userID, decisionID string) (model.Decision, error) {
	d, err := e.store.GetDecision(ctx, userID, decisionID)
	if err != nil {
		return model.Decision{}, err
	}
	return *d, nil
}

// ListDecisions returns the user's decisions, newest first.
func (e *Engine) ListDecisions(ctx context.Context, userID string, filter service.DecisionFilter) ([]model.Decision, error) {
	return e.store.ListDecisions(ctx, userID, filter)
}
