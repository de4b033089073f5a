package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestLedger_IndexAndSpent(t *testing.T) {
	l := NewLedger("u1", decimal.NewFromInt(10), []ExpenseItem{
		{ID: "e1", Name: "Coffee", Price: decimal.RequireFromString("4.50")},
		{ID: "e2", Name: "Headphones", Price: decimal.NewFromInt(200), DecisionID: strPtr("d1")},
	})

	assert.True(t, l.Spent().Equal(decimal.RequireFromString("204.50")))

	e, ok := l.ExpenseForDecision("d1")
	require.True(t, ok)
	assert.Equal(t, "e2", e.ID)

	_, ok = l.ExpenseForDecision("missing")
	assert.False(t, ok)
}

func TestLedger_CloneIsIndependent(t *testing.T) {
	l := NewLedger("u1", decimal.Zero, []ExpenseItem{
		{ID: "e1", Name: "Lamp", Price: decimal.NewFromInt(30), DecisionID: strPtr("d1")},
	})

	c := l.Clone()
	_, removed := c.RemoveExpense("e1")
	require.True(t, removed)

	assert.Len(t, l.Expenses, 1)
	assert.Empty(t, c.Expenses)
	_, ok := l.ExpenseForDecision("d1")
	assert.True(t, ok)
	_, ok = c.ExpenseForDecision("d1")
	assert.False(t, ok)
}

func TestLedger_FindByNameAndPriceSkipsOtherDecisions(t *testing.T) {
	l := NewLedger("u1", decimal.Zero, []ExpenseItem{
		{ID: "e1", Name: "Lamp", Price: decimal.NewFromInt(30), DecisionID: strPtr("other")},
		{ID: "e2", Name: "Lamp", Price: decimal.NewFromInt(30)},
	})

	e, ok := l.FindByNameAndPrice("Lamp", decimal.NewFromInt(30), "d1")
	require.True(t, ok)
	assert.Equal(t, "e2", e.ID)

	_, ok = l.FindByNameAndPrice("Lamp", decimal.NewFromInt(31), "d1")
	assert.False(t, ok)
}

func TestLedger_ZeroValueFallsBackToScan(t *testing.T) {
	l := Ledger{Expenses: []ExpenseItem{{ID: "e1", DecisionID: strPtr("d1")}}}

	e, ok := l.ExpenseForDecision("d1")
	require.True(t, ok)
	assert.Equal(t, "e1", e.ID)

	l.AddExpense(ExpenseItem{ID: "e2", DecisionID: strPtr("d2")})
	e, ok = l.ExpenseForDecision("d2")
	require.True(t, ok)
	assert.Equal(t, "e2", e.ID)
}

func TestDecisionPatterns_BuyRatio(t *testing.T) {
	assert.Zero(t, DecisionPatterns{}.BuyRatio())
	assert.InDelta(t, 0.25, DecisionPatterns{TotalDecisions: 4, BoughtCount: 1}.BuyRatio(), 1e-9)
}

func TestParseDecisionStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    DecisionStatus
		wantErr bool
	}{
		{"pending", StatusPending, false},
		{"Bought", StatusPurchased, false},
		{" skip ", StatusSkipped, false},
		{"purchased", StatusPurchased, false},
		{"maybe", StatusNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecisionStatus(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranscript(t *testing.T) {
	got := Transcript([]ChatMessage{
		{Role: RoleUser, Text: "Should I buy it?"},
		{Role: RoleAssistant, Text: "Maybe wait."},
	})
	assert.Equal(t, "User: Should I buy it?\nAssistant: Maybe wait.", got)
}
