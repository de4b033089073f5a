package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/shopspring/decimal"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name    string
		str     string
		wantErr bool
	}{
		{name: "valid string", str: "alice", wantErr: false},
		{name: "empty string", str: "", wantErr: true},
		{name: "whitespace only", str: " \t\n", wantErr: true},
		{name: "padded value", str: "  bob  ", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateString(tt.str, "userID")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrEmptyString) {
				t.Errorf("validateString() error = %v, want ErrEmptyString", err)
			}
		})
	}
}

func TestValidateDecision(t *testing.T) {
	valid := func() *model.Decision {
		return &model.Decision{
			ID:     "d1",
			UserID: "alice",
			Title:  "Camera",
			Price:  decimal.NewFromInt(500),
			Status: model.StatusPending,
		}
	}

	tests := []struct {
		mutate func(d *model.Decision)
		name   string
		want   error
	}{
		{name: "valid", mutate: func(*model.Decision) {}},
		{name: "zero price is allowed", mutate: func(d *model.Decision) { d.Price = decimal.Zero }},
		{name: "missing id", mutate: func(d *model.Decision) { d.ID = "" }, want: ErrInvalidDecision},
		{name: "missing user", mutate: func(d *model.Decision) { d.UserID = " " }, want: ErrInvalidDecision},
		{name: "missing title", mutate: func(d *model.Decision) { d.Title = "" }, want: ErrInvalidDecision},
		{name: "no status", mutate: func(d *model.Decision) { d.Status = model.StatusNone }, want: ErrInvalidDecision},
		{name: "unknown status", mutate: func(d *model.Decision) { d.Status = "maybe" }, want: ErrInvalidDecision},
		{name: "negative price", mutate: func(d *model.Decision) { d.Price = decimal.NewFromInt(-1) }, want: ErrInvalidDecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := validateDecision(d)
			if tt.want == nil {
				if err != nil {
					t.Errorf("validateDecision() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("validateDecision() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, common.ErrInvalidInput) {
				t.Errorf("validateDecision() error = %v does not match ErrInvalidInput", err)
			}
		})
	}

	if err := validateDecision(nil); !errors.Is(err, ErrNilParameter) {
		t.Errorf("validateDecision(nil) error = %v, want ErrNilParameter", err)
	}
}

func TestValidateLedger(t *testing.T) {
	expense := func(id, user string) model.ExpenseItem {
		return model.ExpenseItem{ID: id, UserID: user, Name: "x", Price: decimal.NewFromInt(1)}
	}

	tests := []struct {
		name    string
		ledger  model.Ledger
		wantErr bool
	}{
		{
			name:   "empty ledger",
			ledger: model.NewLedger("alice", decimal.Zero, nil),
		},
		{
			name:   "expenses without user id inherit the ledger owner",
			ledger: model.NewLedger("alice", decimal.Zero, []model.ExpenseItem{expense("e1", "")}),
		},
		{
			name:    "missing user",
			ledger:  model.NewLedger("", decimal.Zero, nil),
			wantErr: true,
		},
		{
			name:    "negative saved",
			ledger:  model.NewLedger("alice", decimal.NewFromInt(-5), nil),
			wantErr: true,
		},
		{
			name:    "expense without id",
			ledger:  model.NewLedger("alice", decimal.Zero, []model.ExpenseItem{expense("", "alice")}),
			wantErr: true,
		},
		{
			name:    "duplicate expense ids",
			ledger:  model.NewLedger("alice", decimal.Zero, []model.ExpenseItem{expense("e1", "alice"), expense("e1", "alice")}),
			wantErr: true,
		},
		{
			name:    "expense of another user",
			ledger:  model.NewLedger("alice", decimal.Zero, []model.ExpenseItem{expense("e1", "bob")}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLedger(tt.ledger)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateLedger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLedger) {
				t.Errorf("validateLedger() error = %v, want ErrInvalidLedger", err)
			}
		})
	}
}

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		embedding *model.ConversationEmbedding
		name      string
		wantErr   bool
	}{
		{
			name:      "valid",
			embedding: &model.ConversationEmbedding{ID: "e", UserID: "u", DecisionID: "d", Vector: []float32{1}},
		},
		{name: "nil", wantErr: true},
		{
			name:      "missing decision",
			embedding: &model.ConversationEmbedding{ID: "e", UserID: "u", Vector: []float32{1}},
			wantErr:   true,
		},
		{
			name:      "empty vector",
			embedding: &model.ConversationEmbedding{ID: "e", UserID: "u", DecisionID: "d"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEmbedding(tt.embedding)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateEmbedding() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStorageRejectsInvalidInput(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	//nolint:staticcheck // nil context is the case under test
	if _, err := store.GetLedger(nil, "alice"); !errors.Is(err, ErrNilContext) {
		t.Errorf("GetLedger(nil ctx) error = %v, want ErrNilContext", err)
	}

	ctx := context.Background()
	if _, err := store.GetDecision(ctx, "", "d1"); !errors.Is(err, ErrEmptyString) {
		t.Errorf("GetDecision(empty user) error = %v, want ErrEmptyString", err)
	}
	if err := store.SaveConversation(ctx, &model.Conversation{UserID: "alice"}); !errors.Is(err, ErrInvalidConversation) {
		t.Errorf("SaveConversation(no ids) error = %v, want ErrInvalidConversation", err)
	}
	if err := store.SavePreferences(ctx, &model.UserPreferences{}); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("SavePreferences(no user) error = %v, want invalid input", err)
	}
}
