package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/ledger"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/Veraticus/buyornot/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, fixtures *testutil.Fixtures) (*Engine, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{Fixtures: fixtures})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return New(db.Storage, logger, WithClock(func() time.Time { return clock })), db
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestEngine_ProposeDecision(t *testing.T) {
	e, db := newTestEngine(t, nil)
	ctx := context.Background()

	d, err := e.ProposeDecision(ctx, "alice", Proposal{Title: "  Drone ", Price: dec("499.999"), Category: "Gadgets"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Equal(t, "Drone", d.Title)
	assert.True(t, d.Price.Equal(dec("500")), "price is rounded to cents")

	stored := db.MustGetDecision("alice", d.ID)
	assert.Equal(t, d.Title, stored.Title)

	l := db.MustGetLedger("alice")
	assert.True(t, l.Saved.IsZero())
	assert.Empty(t, l.Expenses, "pending decisions do not touch the ledger")

	_, err = e.ProposeDecision(ctx, "alice", Proposal{Title: "", Price: dec("1")})
	assert.ErrorIs(t, err, ErrEmptyTitle)
	_, err = e.ProposeDecision(ctx, "alice", Proposal{Title: "x", Price: dec("-1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidPrice)
	_, err = e.ProposeDecision(ctx, " ", Proposal{Title: "x", Price: dec("1")})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestEngine_TransitionRoundTrip(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("alice").
		WithDecision("d1", "Laptop", 1500, model.StatusPending))
	ctx := context.Background()

	res, err := e.TransitionDecision(ctx, "alice", "d1", model.StatusSkipped, Edits{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Ledger.Saved.Equal(dec("1500")))

	res, err = e.TransitionDecision(ctx, "alice", "d1", model.StatusPurchased, Edits{})
	require.NoError(t, err)
	assert.True(t, res.Ledger.Saved.IsZero())
	require.NotNil(t, res.Mutation.Created)
	assert.True(t, res.Ledger.Spent().Equal(dec("1500")))

	res, err = e.TransitionDecision(ctx, "alice", "d1", model.StatusSkipped, Edits{})
	require.NoError(t, err)
	assert.True(t, res.Ledger.Saved.Equal(dec("1500")))
	assert.Empty(t, res.Ledger.Expenses)

	stored := db.MustGetLedger("alice")
	assert.True(t, stored.Saved.Equal(dec("1500")))
	assert.Empty(t, stored.Expenses)
	assert.Equal(t, model.StatusSkipped, db.MustGetDecision("alice", "d1").Status)
}

func TestEngine_TransitionIsIdempotent(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("bob").
		WithDecision("d1", "Headphones", 300, model.StatusPending))
	ctx := context.Background()

	for range 3 {
		_, err := e.TransitionDecision(ctx, "bob", "d1", model.StatusPurchased, Edits{})
		require.NoError(t, err)
	}

	l := db.MustGetLedger("bob")
	assert.Len(t, l.Expenses, 1)
	assert.Equal(t, 1, l.LinkedCount("d1"))

	res, err := e.TransitionDecision(ctx, "bob", "d1", model.StatusPurchased, Edits{})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.True(t, res.Mutation.IsNoop())
}

func TestEngine_TransitionClampsSaved(t *testing.T) {
	e, _ := newTestEngine(t, testutil.NewFixtures("carol").
		WithDecision("d1", "Camera", 800, model.StatusSkipped).
		WithSaved(200))
	ctx := context.Background()

	res, err := e.TransitionDecision(ctx, "carol", "d1", model.StatusPurchased, Edits{})
	require.NoError(t, err)
	assert.True(t, res.Mutation.Clamped)
	assert.True(t, res.Ledger.Saved.IsZero())
	assert.True(t, res.Mutation.SavedDelta.Equal(dec("-200")))
}

func TestEngine_TransitionWithEdits(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("dave").
		WithDecision("d1", "Couch", 900, model.StatusPending))
	ctx := context.Background()

	price := dec("750")
	title := "Sofa"
	res, err := e.TransitionDecision(ctx, "dave", "d1", model.StatusSkipped, Edits{Price: &price, Title: &title})
	require.NoError(t, err)
	assert.True(t, res.Ledger.Saved.Equal(dec("750")), "the edited price is used for the delta")
	assert.Equal(t, "Sofa", db.MustGetDecision("dave", "d1").Title)

	// Editing without a status change stores the edit and leaves the ledger alone
	newPrice := dec("700")
	res, err = e.TransitionDecision(ctx, "dave", "d1", model.StatusSkipped, Edits{Price: &newPrice})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.True(t, db.MustGetDecision("dave", "d1").Price.Equal(dec("700")))
	assert.True(t, db.MustGetLedger("dave").Saved.Equal(dec("750")))

	// Moving back to purchased debits the latest price
	res, err = e.TransitionDecision(ctx, "dave", "d1", model.StatusPurchased, Edits{})
	require.NoError(t, err)
	assert.True(t, res.Ledger.Saved.Equal(dec("50")))
	assert.True(t, res.Ledger.Spent().Equal(dec("700")))

	empty := ""
	_, err = e.TransitionDecision(ctx, "dave", "d1", model.StatusSkipped, Edits{Title: &empty})
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestEngine_TransitionErrors(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("erin").
		WithDecision("d1", "Watch", 250, model.StatusPending))
	ctx := context.Background()

	_, err := e.TransitionDecision(ctx, "erin", "missing", model.StatusSkipped, Edits{})
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = e.TransitionDecision(ctx, "frank", "d1", model.StatusSkipped, Edits{})
	assert.ErrorIs(t, err, common.ErrNotFound, "decisions of other users are invisible")

	_, err = e.TransitionDecision(ctx, "erin", "d1", model.StatusNone, Edits{})
	assert.ErrorIs(t, err, ledger.ErrInvalidStatus)

	assert.Equal(t, model.StatusPending, db.MustGetDecision("erin", "d1").Status)
}

func TestEngine_ResolvedDecisionsStayResolved(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("nora").
		WithDecision("laptop", "Laptop", 1500, model.StatusPending).
		WithDecision("phone", "Phone", 800, model.StatusPending))
	ctx := context.Background()

	_, err := e.TransitionDecision(ctx, "nora", "laptop", model.StatusSkipped, Edits{})
	require.NoError(t, err)
	_, err = e.TransitionDecision(ctx, "nora", "laptop", model.StatusPending, Edits{})
	assert.ErrorIs(t, err, ErrResolved)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	res, err := e.TransitionDecision(ctx, "nora", "laptop", model.StatusSkipped, Edits{})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.True(t, db.MustGetLedger("nora").Saved.Equal(dec("1500")), "skipping twice credits once")

	_, err = e.TransitionDecision(ctx, "nora", "phone", model.StatusPurchased, Edits{})
	require.NoError(t, err)
	_, err = e.TransitionDecision(ctx, "nora", "phone", model.StatusPending, Edits{})
	assert.ErrorIs(t, err, ErrResolved)
	assert.Equal(t, model.StatusPurchased, db.MustGetDecision("nora", "phone").Status)

	_, err = e.TransitionDecision(ctx, "nora", "phone", model.StatusSkipped, Edits{})
	require.NoError(t, err)

	l := db.MustGetLedger("nora")
	assert.True(t, l.Saved.Equal(dec("2300")))
	assert.Empty(t, l.Expenses, "the phone expense is removed when it is skipped")
}

func TestEngine_TransitionsUpdatePreferences(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("otto").
		WithDecision("d1", "Bike", 600, model.StatusPending).
		WithDecision("d2", "Helmet", 80, model.StatusPending))
	ctx := context.Background()

	prefs := func() model.DecisionPatterns {
		t.Helper()
		p, err := db.Storage.LoadPreferences(ctx, "otto")
		require.NoError(t, err)
		require.NotNil(t, p)
		return p.Patterns
	}

	for range 2 {
		_, err := e.TransitionDecision(ctx, "otto", "d1", model.StatusPurchased, Edits{})
		require.NoError(t, err)
	}
	assert.Equal(t, model.DecisionPatterns{TotalDecisions: 1, BoughtCount: 1, AveragePriceBought: 600}, prefs())

	_, err := e.TransitionDecision(ctx, "otto", "d2", model.StatusSkipped, Edits{})
	require.NoError(t, err)
	_, err = e.TransitionDecision(ctx, "otto", "d1", model.StatusSkipped, Edits{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionPatterns{TotalDecisions: 2, SkippedCount: 2, AveragePriceSkipped: 340}, prefs())

	price := dec("100")
	_, err = e.TransitionDecision(ctx, "otto", "d2", model.StatusSkipped, Edits{Price: &price})
	require.NoError(t, err)
	assert.InDelta(t, 350, prefs().AveragePriceSkipped, 1e-9)
	assert.Equal(t, 2, prefs().TotalDecisions)

	recomputed, err := e.RecomputePreferences(ctx, "otto")
	require.NoError(t, err)
	assert.Equal(t, prefs(), recomputed.Patterns)
}

func TestEngine_ConcurrentTransitions(t *testing.T) {
	fixtures := testutil.NewFixtures("gina")
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		fixtures.WithDecision(id, "Item "+id, 100, model.StatusPending)
	}
	e, db := newTestEngine(t, fixtures)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			status := model.StatusSkipped
			if i%2 == 0 {
				status = model.StatusPurchased
			}
			_, err := e.TransitionDecision(ctx, "gina", id, status, Edits{})
			assert.NoError(t, err)
		}(i, id)
	}
	wg.Wait()

	l := db.MustGetLedger("gina")
	assert.True(t, l.Saved.Equal(dec("400")))
	assert.Len(t, l.Expenses, 4)
}

func TestEngine_ManualExpenses(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("hank").
		WithDecision("d1", "Monitor", 300, model.StatusPurchased).
		WithExpense("linked", "Monitor", 300, "d1"))
	ctx := context.Background()

	item, err := e.AddManualExpense(ctx, "hank", "Groceries", dec("82.456"), time.Time{})
	require.NoError(t, err)
	assert.Nil(t, item.DecisionID)
	assert.True(t, item.Price.Equal(dec("82.46")))

	l := db.MustGetLedger("hank")
	assert.Len(t, l.Expenses, 2)
	assert.True(t, l.Spent().Equal(dec("382.46")))

	_, err = e.AddManualExpense(ctx, "hank", " ", dec("1"), time.Time{})
	assert.ErrorIs(t, err, ErrEmptyTitle)
	_, err = e.AddManualExpense(ctx, "hank", "Refund", dec("-5"), time.Time{})
	assert.ErrorIs(t, err, ledger.ErrInvalidPrice)

	removed, err := e.DeleteExpense(ctx, "hank", item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", removed.Name)

	_, err = e.DeleteExpense(ctx, "hank", item.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	removed, err = e.DeleteExpense(ctx, "hank", "linked")
	require.NoError(t, err)
	require.NotNil(t, removed.DecisionID)
	assert.Equal(t, model.StatusPurchased, db.MustGetDecision("hank", "d1").Status)
}

func TestEngine_LedgerSummary(t *testing.T) {
	e, _ := newTestEngine(t, testutil.NewFixtures("ivy").
		WithDecision("d1", "A", 10, model.StatusPending).
		WithDecision("d2", "B", 20, model.StatusSkipped).
		WithDecision("d3", "C", 30, model.StatusSkipped).
		WithDecision("d4", "D", 40, model.StatusPurchased).
		WithExpense("e1", "D", 40, "d4").
		WithExpense("e2", "Rent", 1000, "").
		WithSaved(50))

	summary, err := e.LedgerSummary(context.Background(), "ivy")
	require.NoError(t, err)
	assert.Equal(t, service.LedgerSummary{
		UserID:         "ivy",
		Spent:          summary.Spent,
		Saved:          summary.Saved,
		ExpenseCount:   2,
		PendingCount:   1,
		PurchasedCount: 1,
		SkippedCount:   2,
	}, summary)
	assert.True(t, summary.Spent.Equal(dec("1040")))
	assert.True(t, summary.Saved.Equal(dec("50")))
}

func TestEngine_RebuildLedger(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("jack").
		WithDecision("d1", "Bike", 600, model.StatusSkipped).
		WithDecision("d2", "Helmet", 80, model.StatusPurchased).
		WithDecision("d3", "Lock", 40, model.StatusSkipped).
		WithExpense("manual", "Coffee", 4, "").
		WithSaved(9999).
		ForUser("kate").
		WithDecision("k1", "Book", 15, model.StatusSkipped))
	ctx := context.Background()

	res, err := e.RebuildLedger(ctx, "jack")
	require.NoError(t, err)
	assert.True(t, res.SavedAfter.Equal(dec("640")))
	assert.Len(t, res.Backfilled, 1)

	l := db.MustGetLedger("jack")
	assert.True(t, l.Saved.Equal(dec("640")))
	assert.Len(t, l.Expenses, 2)
	assert.Equal(t, 1, l.LinkedCount("d2"))

	again, err := e.RebuildLedger(ctx, "jack")
	require.NoError(t, err)
	assert.Empty(t, again.Backfilled)
	assert.Len(t, db.MustGetLedger("jack").Expenses, 2)

	all, err := e.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "kate")
	assert.True(t, db.MustGetLedger("kate").Saved.Equal(dec("15")))
}

func TestEngine_RebuildAllStopsOnCancel(t *testing.T) {
	e, _ := newTestEngine(t, testutil.NewFixtures("lou").WithDecision("d1", "X", 1, model.StatusSkipped))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.RebuildAll(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_RecomputePreferences(t *testing.T) {
	e, db := newTestEngine(t, testutil.NewFixtures("mia").
		WithDecision("d1", "Kettle", 40, model.StatusPurchased).
		WithDecision("d2", "Blender", 120, model.StatusSkipped).
		WithDecision("d3", "Toaster", 60, model.StatusPending))
	ctx := context.Background()

	prefs, err := e.RecomputePreferences(ctx, "mia")
	require.NoError(t, err)
	assert.Equal(t, 2, prefs.Patterns.TotalDecisions)
	assert.Equal(t, 1, prefs.Patterns.BoughtCount)
	assert.InDelta(t, 40.0, prefs.PriceRange.Min, 0.001)
	assert.InDelta(t, 120.0, prefs.PriceRange.Max, 0.001)

	stored, err := db.Storage.LoadPreferences(ctx, "mia")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, prefs.Patterns, stored.Patterns)
}
