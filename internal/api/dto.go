package api

import (
	"time"

	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/rag"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/shopspring/decimal"
)

type decisionJSON struct {
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Category  string          `json:"category,omitempty"`
	Status    string          `json:"status"`
	Price     decimal.Decimal `json:"price"`
}

func toDecisionJSON(d model.Decision) decisionJSON {
	return decisionJSON{
		ID:        d.ID,
		Title:     d.Title,
		Category:  d.Category,
		Status:    string(d.Status),
		Price:     d.Price,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type expenseJSON struct {
	Date       time.Time       `json:"date"`
	DecisionID *string         `json:"decision_id,omitempty"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
}

func toExpenseJSON(e model.ExpenseItem) expenseJSON {
	return expenseJSON{ID: e.ID, Name: e.Name, Price: e.Price, Date: e.Date, DecisionID: e.DecisionID}
}

type ledgerJSON struct {
	Expenses []expenseJSON   `json:"expenses"`
	Spent    decimal.Decimal `json:"spent"`
	Saved    decimal.Decimal `json:"saved"`
}

func toLedgerJSON(l model.Ledger) ledgerJSON {
	out := ledgerJSON{Spent: l.Spent(), Saved: l.Saved, Expenses: make([]expenseJSON, 0, len(l.Expenses))}
	for _, e := range l.Expenses {
		out.Expenses = append(out.Expenses, toExpenseJSON(e))
	}
	return out
}

type summaryJSON struct {
	Spent          decimal.Decimal `json:"spent"`
	Saved          decimal.Decimal `json:"saved"`
	ExpenseCount   int             `json:"expense_count"`
	PendingCount   int             `json:"pending_count"`
	PurchasedCount int             `json:"purchased_count"`
	SkippedCount   int             `json:"skipped_count"`
}

func toSummaryJSON(s service.LedgerSummary) summaryJSON {
	return summaryJSON{
		Spent:          s.Spent,
		Saved:          s.Saved,
		ExpenseCount:   s.ExpenseCount,
		PendingCount:   s.PendingCount,
		PurchasedCount: s.PurchasedCount,
		SkippedCount:   s.SkippedCount,
	}
}

type messageJSON struct {
	Time          time.Time `json:"time"`
	ID            string    `json:"id,omitempty"`
	Role          string    `json:"role"`
	Text          string    `json:"text"`
	ImageMIMEType string    `json:"image_mime_type,omitempty"`
	Image         []byte    `json:"image,omitempty"`
}

func toMessagesJSON(messages []model.ChatMessage) []messageJSON {
	out := make([]messageJSON, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageJSON{
			ID:            m.ID,
			Role:          string(m.Role),
			Text:          m.Text,
			Time:          m.Time,
			ImageMIMEType: m.ImageMIMEType,
			Image:         m.Image,
		})
	}
	return out
}

func fromMessagesJSON(messages []messageJSON) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, model.ChatMessage{
			ID:            m.ID,
			Role:          model.MessageRole(m.Role),
			Text:          m.Text,
			Time:          m.Time,
			ImageMIMEType: m.ImageMIMEType,
			Image:         m.Image,
		})
	}
	return out
}

type matchJSON struct {
	DecisionID string  `json:"decision_id"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
}

type contextJSON struct {
	Preferences *preferencesJSON `json:"preferences,omitempty"`
	Prompt      string           `json:"prompt"`
	Similar     []matchJSON      `json:"similar"`
}

type preferencesJSON struct {
	PreferredCategories []string `json:"preferred_categories"`
	PriceMin            float64  `json:"price_min"`
	PriceMax            float64  `json:"price_max"`
	TotalDecisions      int      `json:"total_decisions"`
	BoughtCount         int      `json:"bought_count"`
	SkippedCount        int      `json:"skipped_count"`
	BuyRatio            float64  `json:"buy_ratio"`
}

func toContextJSON(b rag.ContextBundle, prompt string) contextJSON {
	out := contextJSON{Prompt: prompt, Similar: make([]matchJSON, 0, len(b.Similar))}
	for _, m := range b.Similar {
		out.Similar = append(out.Similar, matchJSON{
			DecisionID: m.Embedding.DecisionID,
			Summary:    m.Embedding.Summary,
			Similarity: m.Similarity,
		})
	}
	if p := b.Preferences; p != nil {
		out.Preferences = &preferencesJSON{
			PreferredCategories: p.PreferredCategories,
			PriceMin:            p.PriceRange.Min,
			PriceMax:            p.PriceRange.Max,
			TotalDecisions:      p.Patterns.TotalDecisions,
			BoughtCount:         p.Patterns.BoughtCount,
			SkippedCount:        p.Patterns.SkippedCount,
			BuyRatio:            p.Patterns.BuyRatio(),
		}
	}
	return out
}
