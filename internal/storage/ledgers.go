package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/shopspring/decimal"
)

// GetLedger loads a user's saved total and expenses. Users with no recorded
// activity get an empty ledger.
func (s *SQLiteStorage) GetLedger(ctx context.Context, userID string) (model.Ledger, error) {
	if err := validateContext(ctx); err != nil {
		return model.Ledger{}, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return model.Ledger{}, err
	}
	return s.getLedgerTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getLedgerTx(ctx context.Context, q queryable, userID string) (model.Ledger, error) {
	saved := decimal.Zero
	var updatedAt time.Time
	err := q.QueryRowContext(ctx, `SELECT saved, updated_at FROM ledgers WHERE user_id = ?`, userID).
		Scan(&saved, &updatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Ledger{}, common.Transient("get ledger", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, name, price, date, decision_id
		FROM expenses
		WHERE user_id = ?
		ORDER BY position, date
	`, userID)
	if err != nil {
		return model.Ledger{}, common.Transient("get expenses", err)
	}
	defer func() { _ = rows.Close() }()

	var expenses []model.ExpenseItem
	for rows.Next() {
		var (
			e          model.ExpenseItem
			decisionID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.Price, &e.Date, &decisionID); err != nil {
			return model.Ledger{}, fmt.Errorf("failed to scan expense: %w", err)
		}
		if decisionID.Valid {
			id := decisionID.String
			e.DecisionID = &id
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return model.Ledger{}, common.Transient("get expenses", err)
	}

	ledger := model.NewLedger(userID, saved, expenses)
	ledger.UpdatedAt = updatedAt
	return ledger, nil
}

// SaveLedger replaces the stored ledger for ledger.UserID.
func (s *SQLiteStorage) SaveLedger(ctx context.Context, ledger model.Ledger) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedger(ledger); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveLedgerTx(ctx, tx, ledger)
	})
}

// CommitTransition saves a decision together with the ledger it produced. Either
// both are stored or neither is.
func (s *SQLiteStorage) CommitTransition(ctx context.Context, decision *model.Decision, ledger model.Ledger) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDecision(decision); err != nil {
		return err
	}
	if err := validateLedger(ledger); err != nil {
		return err
	}
	if decision.UserID != ledger.UserID {
		return fmt.Errorf("%w: decision user %s does not own ledger %s", ErrInvalidLedger, decision.UserID, ledger.UserID)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.saveDecisionTx(ctx, tx, decision); err != nil {
			return err
		}
		return s.saveLedgerTx(ctx, tx, ledger)
	})
}

func (s *SQLiteStorage) saveLedgerTx(ctx context.Context, tx *sql.Tx, ledger model.Ledger) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledgers (user_id, saved, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET saved = excluded.saved, updated_at = excluded.updated_at
	`, ledger.UserID, ledger.Saved.String(), utc(ledger.UpdatedAt))
	if err != nil {
		return common.Transient("save ledger", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE user_id = ?`, ledger.UserID); err != nil {
		return common.Transient("clear expenses", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO expenses (id, user_id, name, price, date, decision_id, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, e := range ledger.Expenses {
		var decisionID sql.NullString
		if e.DecisionID != nil {
			decisionID = sql.NullString{String: *e.DecisionID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, ledger.UserID, e.Name, e.Price.String(), utc(e.Date), decisionID, i); err != nil {
			return common.Transient("save expense", err)
		}
	}
	return nil
}
