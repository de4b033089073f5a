package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
)

// LoadPreferences returns a user's preferences, or nil if none are stored.
func (s *SQLiteStorage) LoadPreferences(ctx context.Context, userID string) (*model.UserPreferences, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	if cached, ok := s.getCachedPreferences(userID); ok {
		return &cached, nil
	}

	gen := s.preferencesGeneration(userID)
	p, err := s.loadPreferences(ctx, s.db, userID)
	if err != nil || p == nil {
		return nil, err
	}

	s.cachePreferences(*p, gen)
	return p, nil
}

// SavePreferences replaces a user's preferences.
func (s *SQLiteStorage) SavePreferences(ctx context.Context, preferences *model.UserPreferences) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePreferences(preferences); err != nil {
		return err
	}

	if err := s.savePreferences(ctx, s.db, preferences); err != nil {
		return err
	}
	s.storePreferences(*preferences)
	return nil
}

// UpdatePreferences reads, updates and writes a user's preferences in one
// transaction. The cache is bypassed for the read and refreshed after commit.
func (s *SQLiteStorage) UpdatePreferences(ctx context.Context, userID string, fn service.PreferencesUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: update function", ErrNilParameter)
	}

	var saved *model.UserPreferences
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.loadPreferences(ctx, tx, userID)
		if err != nil {
			return err
		}
		next, err := fn(prev)
		if err != nil || next == nil {
			return err
		}
		if err := validatePreferences(next); err != nil {
			return err
		}
		if next.UserID != userID {
			return fmt.Errorf("%w: preferences for %s returned for %s", common.ErrInvalidInput, next.UserID, userID)
		}
		if err := s.savePreferences(ctx, tx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return err
	}

	if saved != nil {
		s.storePreferences(*saved)
	}
	return nil
}

func (s *SQLiteStorage) loadPreferences(ctx context.Context, q queryable, userID string) (*model.UserPreferences, error) {
	var (
		p          model.UserPreferences
		categories string
		counted    string
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, preferred_categories, counted_decisions, price_min, price_max,
		       total_decisions, bought_count, skipped_count,
		       average_price_bought, average_price_skipped, last_updated
		FROM user_preferences
		WHERE user_id = ?
	`, userID).Scan(
		&p.UserID,
		&categories,
		&counted,
		&p.PriceRange.Min,
		&p.PriceRange.Max,
		&p.Patterns.TotalDecisions,
		&p.Patterns.BoughtCount,
		&p.Patterns.SkippedCount,
		&p.Patterns.AveragePriceBought,
		&p.Patterns.AveragePriceSkipped,
		&p.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Transient("load preferences", err)
	}

	if err := decodePreferenceSets(&p, categories, counted); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStorage) savePreferences(ctx context.Context, q queryable, preferences *model.UserPreferences) error {
	categories, counted, err := encodePreferenceSets(preferences)
	if err != nil {
		return err
	}

	p := preferences.Patterns
	_, err = q.ExecContext(ctx, `
		INSERT INTO user_preferences (
			user_id, preferred_categories, counted_decisions, price_min, price_max,
			total_decisions, bought_count, skipped_count,
			average_price_bought, average_price_skipped, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			preferred_categories = excluded.preferred_categories,
			counted_decisions = excluded.counted_decisions,
			price_min = excluded.price_min,
			price_max = excluded.price_max,
			total_decisions = excluded.total_decisions,
			bought_count = excluded.bought_count,
			skipped_count = excluded.skipped_count,
			average_price_bought = excluded.average_price_bought,
			average_price_skipped = excluded.average_price_skipped,
			last_updated = excluded.last_updated
	`, preferences.UserID, categories, counted, preferences.PriceRange.Min, preferences.PriceRange.Max,
		p.TotalDecisions, p.BoughtCount, p.SkippedCount,
		p.AveragePriceBought, p.AveragePriceSkipped, utc(preferences.LastUpdated))
	if err != nil {
		return common.Transient("save preferences", err)
	}
	return nil
}

// encodePreferenceSets serializes the category list and counted decisions.
// Both backends store them as JSON text.
func encodePreferenceSets(p *model.UserPreferences) (string, string, error) {
	categories := p.PreferredCategories
	if categories == nil {
		categories = []string{}
	}
	catData, err := json.Marshal(categories)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode preferred categories: %w", err)
	}

	counted := p.Counted
	if counted == nil {
		counted = map[string]model.CountedDecision{}
	}
	countedData, err := json.Marshal(counted)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode counted decisions: %w", err)
	}
	return string(catData), string(countedData), nil
}

func decodePreferenceSets(p *model.UserPreferences, categories, counted string) error {
	if err := json.Unmarshal([]byte(categories), &p.PreferredCategories); err != nil {
		return fmt.Errorf("failed to decode preferred categories: %w", err)
	}
	if p.PreferredCategories == nil {
		p.PreferredCategories = []string{}
	}
	if counted == "" {
		counted = "{}"
	}
	if err := json.Unmarshal([]byte(counted), &p.Counted); err != nil {
		return fmt.Errorf("failed to decode counted decisions: %w", err)
	}
	if p.Counted == nil {
		p.Counted = map[string]model.CountedDecision{}
	}
	return nil
}
