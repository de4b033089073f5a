package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Row types for the Postgres backend. Table names match the SQLite schema.

type decisionRow struct {
	CreatedAt time.Time       `gorm:"not null;index:idx_decisions_user_created,priority:2"`
	UpdatedAt time.Time       `gorm:"not null"`
	ID        string          `gorm:"primaryKey;type:text"`
	UserID    string          `gorm:"type:text;not null;index:idx_decisions_user_created,priority:1"`
	Title     string          `gorm:"type:text;not null"`
	Category  string          `gorm:"type:text;not null;default:''"`
	Status    string          `gorm:"type:text;not null"`
	Price     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
}

func (decisionRow) TableName() string { return "decisions" }

type ledgerRow struct {
	UpdatedAt time.Time       `gorm:"not null"`
	UserID    string          `gorm:"primaryKey;type:text"`
	Saved     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
}

func (ledgerRow) TableName() string { return "ledgers" }

type expenseRow struct {
	Date       time.Time       `gorm:"not null"`
	DecisionID *string         `gorm:"type:text;index"`
	ID         string          `gorm:"primaryKey;type:text"`
	UserID     string          `gorm:"type:text;not null;index"`
	Name       string          `gorm:"type:text;not null"`
	Price      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Position   int             `gorm:"not null"`
}

func (expenseRow) TableName() string { return "expenses" }

type conversationRow struct {
	LastUpdated time.Time `gorm:"not null"`
	ID          string    `gorm:"primaryKey;type:text"`
	UserID      string    `gorm:"type:text;not null;uniqueIndex:idx_conversations_user_decision"`
	DecisionID  string    `gorm:"type:text;not null;uniqueIndex:idx_conversations_user_decision"`
	Messages    string    `gorm:"type:jsonb;not null"`
	IsActive    bool      `gorm:"not null"`
}

func (conversationRow) TableName() string { return "conversations" }

type embeddingRow struct {
	CreatedAt  time.Time `gorm:"not null;index:idx_embeddings_user_created,priority:2,sort:desc"`
	ID         string    `gorm:"primaryKey;type:text"`
	UserID     string    `gorm:"type:text;not null;index:idx_embeddings_user_created,priority:1"`
	DecisionID string    `gorm:"type:text;not null;index"`
	Text       string    `gorm:"type:text;not null"`
	Summary    string    `gorm:"type:text;not null"`
	Vector     []byte    `gorm:"type:bytea;not null"`
	Dimension  int       `gorm:"not null"`
}

func (embeddingRow) TableName() string { return "conversation_embeddings" }

type preferencesRow struct {
	LastUpdated         time.Time `gorm:"not null"`
	UserID              string    `gorm:"primaryKey;type:text"`
	PreferredCategories string    `gorm:"type:jsonb;not null"`
	CountedDecisions    string    `gorm:"type:jsonb;not null;default:'{}'"`
	PriceMin            float64   `gorm:"not null"`
	PriceMax            float64   `gorm:"not null"`
	TotalDecisions      int       `gorm:"not null"`
	BoughtCount         int       `gorm:"not null"`
	SkippedCount        int       `gorm:"not null"`
	AveragePriceBought  float64   `gorm:"not null"`
	AveragePriceSkipped float64   `gorm:"not null"`
}

func (preferencesRow) TableName() string { return "user_preferences" }

// PostgresStorage implements service.Storage on PostgreSQL through gorm.
type PostgresStorage struct {
	db *gorm.DB
}

var _ service.Storage = (*PostgresStorage)(nil)

// NewPostgresStorage connects to dsn. Slow statements and query errors are
// reported through log.
func NewPostgresStorage(dsn string, log *slog.Logger) (*PostgresStorage, error) {
	if err := validateString(dsn, "dsn"); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.NewSlogLogger(log, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

// Migrate creates or updates the tables.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	err := p.db.WithContext(ctx).AutoMigrate(
		&decisionRow{},
		&ledgerRow{},
		&expenseRow{},
		&conversationRow{},
		&embeddingRow{},
		&preferencesRow{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDecision inserts or replaces a decision.
func (p *PostgresStorage) SaveDecision(ctx context.Context, decision *model.Decision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDecision(decision); err != nil {
		return err
	}
	return p.saveDecision(p.db.WithContext(ctx), decision)
}

func (p *PostgresStorage) saveDecision(tx *gorm.DB, d *model.Decision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	row := toDecisionRow(d)
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "category", "price", "status", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "decisions.user_id = excluded.user_id"},
		}},
	}).Create(&row).Error
	if err != nil {
		return common.Transient("save decision", err)
	}
	return nil
}

// GetDecision retrieves a decision owned by userID.
func (p *PostgresStorage) GetDecision(ctx context.Context, userID, id string) (*model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var row decisionRow
	err := p.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("decision %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.Transient("get decision", err)
	}
	d := fromDecisionRow(row)
	return &d, nil
}

// ListDecisions returns a user's decisions, newest first.
func (p *PostgresStorage) ListDecisions(ctx context.Context, userID string, filter service.DecisionFilter) ([]model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := p.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Status != model.StatusNone {
		query = query.Where("status = ?", string(filter.Status))
	}
	query = query.Order("created_at DESC, id")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []decisionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, common.Transient("list decisions", err)
	}
	decisions := make([]model.Decision, 0, len(rows))
	for _, r := range rows {
		decisions = append(decisions, fromDecisionRow(r))
	}
	return decisions, nil
}

// ListUsers returns every user with a decision or a ledger.
func (p *PostgresStorage) ListUsers(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	users := []string{}
	err := p.db.WithContext(ctx).
		Raw(`SELECT user_id FROM decisions UNION SELECT user_id FROM ledgers ORDER BY user_id`).
		Scan(&users).Error
	if err != nil {
		return nil, common.Transient("list users", err)
	}
	return users, nil
}

// GetLedger loads a user's saved total and expenses.
func (p *PostgresStorage) GetLedger(ctx context.Context, userID string) (model.Ledger, error) {
	if err := validateContext(ctx); err != nil {
		return model.Ledger{}, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return model.Ledger{}, err
	}

	db := p.db.WithContext(ctx)
	var header ledgerRow
	err := db.Where("user_id = ?", userID).First(&header).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Ledger{}, common.Transient("get ledger", err)
	}

	var rows []expenseRow
	if err := db.Where("user_id = ?", userID).Order("position, date").Find(&rows).Error; err != nil {
		return model.Ledger{}, common.Transient("get expenses", err)
	}

	return fromLedgerRows(userID, header, rows), nil
}

// SaveLedger replaces the stored ledger for ledger.UserID.
func (p *PostgresStorage) SaveLedger(ctx context.Context, ledger model.Ledger) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedger(ledger); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return p.saveLedger(tx, ledger)
	})
}

// CommitTransition saves a decision together with the ledger it produced.
func (p *PostgresStorage) CommitTransition(ctx context.Context, decision *model.Decision, ledger model.Ledger) error {
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

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.saveDecision(tx, decision); err != nil {
			return err
		}
		return p.saveLedger(tx, ledger)
	})
}

func (p *PostgresStorage) saveLedger(tx *gorm.DB, ledger model.Ledger) error {
	header, expenses := toLedgerRows(ledger)

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"saved", "updated_at"}),
	}).Create(&header).Error
	if err != nil {
		return common.Transient("save ledger", err)
	}

	if err := tx.Where("user_id = ?", ledger.UserID).Delete(&expenseRow{}).Error; err != nil {
		return common.Transient("clear expenses", err)
	}
	if len(expenses) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(expenses, 100).Error; err != nil {
		return common.Transient("save expenses", err)
	}
	return nil
}

// LoadConversation returns the thread for a decision, or nil if none exists.
func (p *PostgresStorage) LoadConversation(ctx context.Context, userID, decisionID string) (*model.Conversation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(decisionID, "decisionID"); err != nil {
		return nil, err
	}

	var row conversationRow
	err := p.db.WithContext(ctx).Where("user_id = ? AND decision_id = ?", userID, decisionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Transient("load conversation", err)
	}
	c, err := fromConversationRow(row)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConversation stores a thread, replacing the messages of an existing one.
func (p *PostgresStorage) SaveConversation(ctx context.Context, conversation *model.Conversation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateConversation(conversation); err != nil {
		return err
	}

	row, err := toConversationRow(conversation)
	if err != nil {
		return err
	}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "decision_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages", "is_active", "last_updated"}),
	}).Create(&row).Error
	if err != nil {
		return common.Transient("save conversation", err)
	}
	return nil
}

// ListConversations returns a user's threads, most recently updated first.
func (p *PostgresStorage) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	var rows []conversationRow
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).Order("last_updated DESC").Find(&rows).Error; err != nil {
		return nil, common.Transient("list conversations", err)
	}
	conversations := make([]model.Conversation, 0, len(rows))
	for _, r := range rows {
		c, err := fromConversationRow(r)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, nil
}

// SaveEmbedding appends an embedding record.
func (p *PostgresStorage) SaveEmbedding(ctx context.Context, embedding *model.ConversationEmbedding) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEmbedding(embedding); err != nil {
		return err
	}
	row := toEmbeddingRow(embedding)
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return common.Transient("save embedding", err)
	}
	return nil
}

// LoadEmbeddings returns the newest embedding per decision, newest first.
// A limit of zero or less loads everything.
func (p *PostgresStorage) LoadEmbeddings(ctx context.Context, userID string, limit int) ([]model.ConversationEmbedding, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	latest := p.db.WithContext(ctx).
		Model(&embeddingRow{}).
		Select("DISTINCT ON (decision_id) *").
		Where("user_id = ?", userID).
		Order("decision_id, created_at DESC, id DESC")

	query := p.db.WithContext(ctx).Table("(?) AS latest", latest).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []embeddingRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, common.Transient("load embeddings", err)
	}

	embeddings := make([]model.ConversationEmbedding, 0, len(rows))
	for _, r := range rows {
		e, err := fromEmbeddingRow(r)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, e)
	}
	return embeddings, nil
}

// LoadPreferences returns a user's preferences, or nil if none are stored.
func (p *PostgresStorage) LoadPreferences(ctx context.Context, userID string) (*model.UserPreferences, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	var row preferencesRow
	err := p.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Transient("load preferences", err)
	}
	prefs, err := fromPreferencesRow(row)
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

// SavePreferences replaces a user's preferences.
func (p *PostgresStorage) SavePreferences(ctx context.Context, preferences *model.UserPreferences) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePreferences(preferences); err != nil {
		return err
	}

	row, err := toPreferencesRow(preferences)
	if err != nil {
		return err
	}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return common.Transient("save preferences", err)
	}
	return nil
}

// UpdatePreferences reads, updates and writes a user's preferences in one
// transaction holding a per-user advisory lock.
func (p *PostgresStorage) UpdatePreferences(ctx context.Context, userID string, fn service.PreferencesUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: update function", ErrNilParameter)
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "user_preferences:"+userID).Error; err != nil {
			return common.Transient("lock preferences", err)
		}

		var (
			row  preferencesRow
			prev *model.UserPreferences
		)
		err := tx.Where("user_id = ?", userID).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return common.Transient("load preferences", err)
		default:
			loaded, err := fromPreferencesRow(row)
			if err != nil {
				return err
			}
			prev = &loaded
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

		updated, err := toPreferencesRow(next)
		if err != nil {
			return err
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).Create(&updated).Error
		if err != nil {
			return common.Transient("save preferences", err)
		}
		return nil
	})
}

func toDecisionRow(d *model.Decision) decisionRow {
	return decisionRow{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		Category:  d.Category,
		Status:    string(d.Status),
		Price:     d.Price,
		CreatedAt: utc(d.CreatedAt),
		UpdatedAt: utc(d.UpdatedAt),
	}
}

func fromDecisionRow(r decisionRow) model.Decision {
	return model.Decision{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Category:  r.Category,
		Status:    model.DecisionStatus(r.Status),
		Price:     r.Price,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func toLedgerRows(l model.Ledger) (ledgerRow, []expenseRow) {
	header := ledgerRow{UserID: l.UserID, Saved: l.Saved, UpdatedAt: utc(l.UpdatedAt)}
	expenses := make([]expenseRow, 0, len(l.Expenses))
	for i, e := range l.Expenses {
		expenses = append(expenses, expenseRow{
			ID:         e.ID,
			UserID:     l.UserID,
			Name:       e.Name,
			Price:      e.Price,
			Date:       utc(e.Date),
			DecisionID: e.DecisionID,
			Position:   i,
		})
	}
	return header, expenses
}

func fromLedgerRows(userID string, header ledgerRow, rows []expenseRow) model.Ledger {
	expenses := make([]model.ExpenseItem, 0, len(rows))
	for _, r := range rows {
		expenses = append(expenses, model.ExpenseItem{
			ID:         r.ID,
			UserID:     r.UserID,
			Name:       r.Name,
			Price:      r.Price,
			Date:       r.Date.UTC(),
			DecisionID: r.DecisionID,
		})
	}
	ledger := model.NewLedger(userID, header.Saved, expenses)
	ledger.UpdatedAt = header.UpdatedAt
	return ledger
}

func toConversationRow(c *model.Conversation) (conversationRow, error) {
	messages, err := encodeMessages(c.Messages)
	if err != nil {
		return conversationRow{}, err
	}
	return conversationRow{
		ID:          c.ID,
		UserID:      c.UserID,
		DecisionID:  c.DecisionID,
		Messages:    messages,
		IsActive:    c.IsActive,
		LastUpdated: utc(c.LastUpdated),
	}, nil
}

func fromConversationRow(r conversationRow) (model.Conversation, error) {
	messages, err := decodeMessages(r.Messages)
	if err != nil {
		return model.Conversation{}, err
	}
	return model.Conversation{
		ID:          r.ID,
		UserID:      r.UserID,
		DecisionID:  r.DecisionID,
		Messages:    messages,
		IsActive:    r.IsActive,
		LastUpdated: r.LastUpdated.UTC(),
	}, nil
}

func toEmbeddingRow(e *model.ConversationEmbedding) embeddingRow {
	return embeddingRow{
		ID:         e.ID,
		UserID:     e.UserID,
		DecisionID: e.DecisionID,
		Text:       e.Text,
		Summary:    e.Summary,
		Vector:     packEmbedding(e.Vector),
		Dimension:  len(e.Vector),
		CreatedAt:  utc(e.CreatedAt),
	}
}

func fromEmbeddingRow(r embeddingRow) (model.ConversationEmbedding, error) {
	vector, err := unpackEmbedding(r.Vector)
	if err != nil {
		return model.ConversationEmbedding{}, fmt.Errorf("embedding %s: %w", r.ID, err)
	}
	return model.ConversationEmbedding{
		ID:         r.ID,
		UserID:     r.UserID,
		DecisionID: r.DecisionID,
		Text:       r.Text,
		Summary:    r.Summary,
		Vector:     vector,
		CreatedAt:  r.CreatedAt.UTC(),
	}, nil
}

func toPreferencesRow(p *model.UserPreferences) (preferencesRow, error) {
	categories, counted, err := encodePreferenceSets(p)
	if err != nil {
		return preferencesRow{}, err
	}
	return preferencesRow{
		UserID:              p.UserID,
		PreferredCategories: categories,
		CountedDecisions:    counted,
		PriceMin:            p.PriceRange.Min,
		PriceMax:            p.PriceRange.Max,
		TotalDecisions:      p.Patterns.TotalDecisions,
		BoughtCount:         p.Patterns.BoughtCount,
		SkippedCount:        p.Patterns.SkippedCount,
		AveragePriceBought:  p.Patterns.AveragePriceBought,
		AveragePriceSkipped: p.Patterns.AveragePriceSkipped,
		LastUpdated:         utc(p.LastUpdated),
	}, nil
}

func fromPreferencesRow(r preferencesRow) (model.UserPreferences, error) {
	prefs := model.UserPreferences{
		UserID:     r.UserID,
		PriceRange: model.PriceRange{Min: r.PriceMin, Max: r.PriceMax},
		Patterns: model.DecisionPatterns{
			TotalDecisions:      r.TotalDecisions,
			BoughtCount:         r.BoughtCount,
			SkippedCount:        r.SkippedCount,
			AveragePriceBought:  r.AveragePriceBought,
			AveragePriceSkipped: r.AveragePriceSkipped,
		},
		LastUpdated: r.LastUpdated.UTC(),
	}
	if err := decodePreferenceSets(&prefs, r.PreferredCategories, r.CountedDecisions); err != nil {
		return model.UserPreferences{}, err
	}
	return prefs, nil
}
