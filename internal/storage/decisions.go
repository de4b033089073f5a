package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
)

// SaveDecision inserts or replaces a decision.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, decision *model.Decision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDecision(decision); err != nil {
		return err
	}
	return s.saveDecisionTx(ctx, s.db, decision)
}

func (s *SQLiteStorage) saveDecisionTx(ctx context.Context, q queryable, d *model.Decision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO decisions (id, user_id, title, category, price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			price = excluded.price,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE decisions.user_id = excluded.user_id
	`, d.ID, d.UserID, d.Title, d.Category, d.Price.String(), string(d.Status), utc(d.CreatedAt), utc(d.UpdatedAt))
	if err != nil {
		return common.Transient("save decision", err)
	}
	return nil
}

// GetDecision retrieves a decision owned by userID.
func (s *SQLiteStorage) GetDecision(ctx context.Context, userID, id string) (*model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, category, price, status, created_at, updated_at
		FROM decisions
		WHERE id = ? AND user_id = ?
	`, id, userID)

	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.Transient("get decision", err)
	}
	return &d, nil
}

// ListDecisions returns a user's decisions, newest first.
func (s *SQLiteStorage) ListDecisions(ctx context.Context, userID string, filter service.DecisionFilter) ([]model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	var query strings.Builder
	args := []any{userID}
	query.WriteString(`
		SELECT id, user_id, title, category, price, status, created_at, updated_at
		FROM decisions
		WHERE user_id = ?`)
	if filter.Status != model.StatusNone {
		query.WriteString(" AND status = ?")
		args = append(args, string(filter.Status))
	}
	query.WriteString(" ORDER BY created_at DESC, id")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, common.Transient("list decisions", err)
	}
	defer func() { _ = rows.Close() }()

	decisions := []model.Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Transient("list decisions", err)
	}
	return decisions, nil
}

// ListUsers returns every user with a decision or a ledger.
func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM decisions
		UNION
		SELECT user_id FROM ledgers
		ORDER BY user_id
	`)
	if err != nil {
		return nil, common.Transient("list users", err)
	}
	defer func() { _ = rows.Close() }()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (model.Decision, error) {
	var (
		d      model.Decision
		status string
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Category, &d.Price, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return model.Decision{}, err
	}
	d.Status = model.DecisionStatus(status)
	return d, nil
}
