package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/shopspring/decimal"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func testDecision(id, userID string, price int64, status model.DecisionStatus, created time.Time) *model.Decision {
	return &model.Decision{
		ID:        id,
		UserID:    userID,
		Title:     "Item " + id,
		Category:  "Electronics",
		Price:     decimal.NewFromInt(price),
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func strPtr(s string) *string { return &s }

func TestSQLiteStorage_Decisions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	for i, status := range []model.DecisionStatus{model.StatusPending, model.StatusSkipped, model.StatusPurchased} {
		d := testDecision(string(rune('a'+i)), "alice", int64(100*(i+1)), status, base.Add(time.Duration(i)*time.Hour))
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision(%s) error = %v", d.ID, err)
		}
	}
	if err := store.SaveDecision(ctx, testDecision("z", "bob", 5, model.StatusPending, base)); err != nil {
		t.Fatalf("SaveDecision(bob) error = %v", err)
	}

	got, err := store.GetDecision(ctx, "alice", "b")
	if err != nil {
		t.Fatalf("GetDecision() error = %v", err)
	}
	if got.Status != model.StatusSkipped || !got.Price.Equal(decimal.NewFromInt(200)) {
		t.Errorf("GetDecision() = %+v, want skipped at 200", got)
	}
	if !got.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base.Add(time.Hour))
	}

	if _, err := store.GetDecision(ctx, "bob", "b"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetDecision(other user) error = %v, want ErrNotFound", err)
	}

	all, err := store.ListDecisions(ctx, "alice", service.DecisionFilter{})
	if err != nil {
		t.Fatalf("ListDecisions() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("ListDecisions() order = %v, want newest first", ids(all))
	}

	skipped, err := store.ListDecisions(ctx, "alice", service.DecisionFilter{Status: model.StatusSkipped})
	if err != nil {
		t.Fatalf("ListDecisions(skipped) error = %v", err)
	}
	if len(skipped) != 1 || skipped[0].ID != "b" {
		t.Errorf("ListDecisions(skipped) = %v", ids(skipped))
	}

	page, err := store.ListDecisions(ctx, "alice", service.DecisionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListDecisions(page) error = %v", err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("ListDecisions(page) = %v, want [b]", ids(page))
	}

	// Updating keeps created_at and changes the rest
	update := testDecision("a", "alice", 150, model.StatusPurchased, base.Add(24*time.Hour))
	update.Title = "Renamed"
	if err := store.SaveDecision(ctx, update); err != nil {
		t.Fatalf("SaveDecision(update) error = %v", err)
	}
	got, err = store.GetDecision(ctx, "alice", "a")
	if err != nil {
		t.Fatalf("GetDecision() error = %v", err)
	}
	if got.Title != "Renamed" || got.Status != model.StatusPurchased || !got.CreatedAt.Equal(base) {
		t.Errorf("updated decision = %+v", got)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("ListUsers() = %v", users)
	}
}

func ids(decisions []model.Decision) []string {
	out := make([]string, len(decisions))
	for i, d := range decisions {
		out[i] = d.ID
	}
	return out
}

func TestSQLiteStorage_LedgerRoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	empty, err := store.GetLedger(ctx, "carol")
	if err != nil {
		t.Fatalf("GetLedger(new user) error = %v", err)
	}
	if !empty.Saved.IsZero() || len(empty.Expenses) != 0 {
		t.Errorf("new user ledger = %+v, want empty", empty)
	}

	date := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ledger := model.NewLedger("carol", decimal.RequireFromString("12.50"), []model.ExpenseItem{
		{ID: "e1", UserID: "carol", Name: "Groceries", Price: decimal.RequireFromString("45.10"), Date: date},
		{ID: "e2", UserID: "carol", Name: "Headphones", Price: decimal.NewFromInt(300), Date: date, DecisionID: strPtr("d1")},
	})
	if err := store.SaveLedger(ctx, ledger); err != nil {
		t.Fatalf("SaveLedger() error = %v", err)
	}

	got, err := store.GetLedger(ctx, "carol")
	if err != nil {
		t.Fatalf("GetLedger() error = %v", err)
	}
	if !got.Saved.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("Saved = %s, want 12.50", got.Saved)
	}
	if !got.Spent().Equal(decimal.RequireFromString("345.10")) {
		t.Errorf("Spent = %s, want 345.10", got.Spent())
	}
	linked, ok := got.ExpenseForDecision("d1")
	if !ok || linked.ID != "e2" {
		t.Errorf("ExpenseForDecision(d1) = %+v, %v", linked, ok)
	}
	if got.Expenses[0].DecisionID != nil {
		t.Errorf("manual expense has decision id %v", *got.Expenses[0].DecisionID)
	}

	// Saving a smaller ledger removes expenses that are gone
	got.RemoveExpense("e1")
	if err := store.SaveLedger(ctx, got); err != nil {
		t.Fatalf("SaveLedger(second) error = %v", err)
	}
	again, err := store.GetLedger(ctx, "carol")
	if err != nil {
		t.Fatalf("GetLedger() error = %v", err)
	}
	if len(again.Expenses) != 1 || again.Expenses[0].ID != "e2" {
		t.Errorf("expenses after removal = %+v", again.Expenses)
	}
}

func TestSQLiteStorage_CommitTransition(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	decision := testDecision("d1", "dave", 1500, model.StatusSkipped, time.Now())
	ledger := model.NewLedger("dave", decimal.NewFromInt(1500), nil)
	if err := store.CommitTransition(ctx, decision, ledger); err != nil {
		t.Fatalf("CommitTransition() error = %v", err)
	}

	stored, err := store.GetDecision(ctx, "dave", "d1")
	if err != nil {
		t.Fatalf("GetDecision() error = %v", err)
	}
	if stored.Status != model.StatusSkipped {
		t.Errorf("status = %s, want skipped", stored.Status)
	}
	l, err := store.GetLedger(ctx, "dave")
	if err != nil {
		t.Fatalf("GetLedger() error = %v", err)
	}
	if !l.Saved.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("saved = %s, want 1500", l.Saved)
	}

	// A ledger that fails validation leaves both rows untouched
	decision.Status = model.StatusPurchased
	bad := model.NewLedger("dave", decimal.NewFromInt(-1), nil)
	if err := store.CommitTransition(ctx, decision, bad); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("CommitTransition(bad) error = %v, want invalid input", err)
	}
	stored, _ = store.GetDecision(ctx, "dave", "d1")
	if stored.Status != model.StatusSkipped {
		t.Errorf("status after failed commit = %s, want skipped", stored.Status)
	}

	// Duplicate expense ids are rejected before anything is written
	dup := model.NewLedger("dave", decimal.Zero, []model.ExpenseItem{
		{ID: "x", Name: "a", Price: decimal.NewFromInt(1)},
	})
	dup.Expenses = append(dup.Expenses, dup.Expenses[0])
	if err := store.CommitTransition(ctx, decision, dup); err == nil {
		t.Fatal("CommitTransition(duplicate expenses) succeeded")
	}
	l, _ = store.GetLedger(ctx, "dave")
	if !l.Saved.Equal(decimal.NewFromInt(1500)) || len(l.Expenses) != 0 {
		t.Errorf("ledger after failed commit = %+v", l)
	}

	other := model.NewLedger("erin", decimal.Zero, nil)
	if err := store.CommitTransition(ctx, decision, other); !errors.Is(err, ErrInvalidLedger) {
		t.Errorf("CommitTransition(other user) error = %v, want ErrInvalidLedger", err)
	}
}

func TestSQLiteStorage_Conversations(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	missing, err := store.LoadConversation(ctx, "frank", "d1")
	if err != nil || missing != nil {
		t.Fatalf("LoadConversation(missing) = %v, %v; want nil, nil", missing, err)
	}

	conv := &model.Conversation{
		ID:         "c1",
		UserID:     "frank",
		DecisionID: "d1",
		IsActive:   true,
		Messages: []model.ChatMessage{
			{ID: "m1", Role: model.RoleUser, Text: "look at this", ImageMIMEType: "image/png", Image: []byte{1, 2, 3}},
			{ID: "m2", Role: model.RoleAssistant, Text: "nice"},
		},
	}
	if err := store.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}

	conv.Messages = append(conv.Messages, model.ChatMessage{ID: "m3", Role: model.RoleUser, Text: "skip it"})
	conv.IsActive = false
	conv.ID = "ignored-on-update"
	if err := store.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation(update) error = %v", err)
	}

	got, err := store.LoadConversation(ctx, "frank", "d1")
	if err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if got.ID != "c1" || got.IsActive || len(got.Messages) != 3 {
		t.Fatalf("LoadConversation() = %+v", got)
	}
	if got.Messages[0].Role != model.RoleUser || string(got.Messages[0].Image) != string([]byte{1, 2, 3}) {
		t.Errorf("first message = %+v", got.Messages[0])
	}

	list, err := store.ListConversations(ctx, "frank")
	if err != nil || len(list) != 1 {
		t.Errorf("ListConversations() = %d, %v", len(list), err)
	}
}

func TestSQLiteStorage_Embeddings(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	records := []model.ConversationEmbedding{
		{ID: "e1", UserID: "gina", DecisionID: "d1", Text: "old", Summary: "s", Vector: []float32{1, 0, 0}, CreatedAt: base},
		{ID: "e2", UserID: "gina", DecisionID: "d2", Text: "t", Summary: "s", Vector: []float32{0, 1, 0}, CreatedAt: base.Add(time.Hour)},
		{ID: "e3", UserID: "gina", DecisionID: "d1", Text: "new", Summary: "s", Vector: []float32{0.5, -0.25, 3.75}, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "e4", UserID: "hank", DecisionID: "d9", Text: "t", Summary: "s", Vector: []float32{1}, CreatedAt: base},
	}
	for i := range records {
		if err := store.SaveEmbedding(ctx, &records[i]); err != nil {
			t.Fatalf("SaveEmbedding(%s) error = %v", records[i].ID, err)
		}
	}

	got, err := store.LoadEmbeddings(ctx, "gina", 10)
	if err != nil {
		t.Fatalf("LoadEmbeddings() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadEmbeddings() returned %d records, want 2", len(got))
	}
	if got[0].ID != "e3" || got[1].ID != "e2" {
		t.Errorf("order = [%s %s], want [e3 e2]", got[0].ID, got[1].ID)
	}
	want := []float32{0.5, -0.25, 3.75}
	for i, v := range want {
		if got[0].Vector[i] != v {
			t.Errorf("vector[%d] = %v, want %v", i, got[0].Vector[i], v)
		}
	}

	limited, err := store.LoadEmbeddings(ctx, "gina", 1)
	if err != nil || len(limited) != 1 || limited[0].ID != "e3" {
		t.Errorf("LoadEmbeddings(limit 1) = %v, %v", limited, err)
	}

	if err := store.SaveEmbedding(ctx, &model.ConversationEmbedding{ID: "bad", UserID: "gina", DecisionID: "d3"}); !errors.Is(err, ErrInvalidEmbedding) {
		t.Errorf("SaveEmbedding(empty vector) error = %v", err)
	}
}

func TestPackEmbedding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4028235e38}
	got, err := unpackEmbedding(packEmbedding(v))
	if err != nil {
		t.Fatalf("unpackEmbedding() error = %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], v[i])
		}
	}
	if _, err := unpackEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("unpackEmbedding(3 bytes) succeeded")
	}
}

func TestSQLiteStorage_Preferences(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	none, err := store.LoadPreferences(ctx, "ivy")
	if err != nil || none != nil {
		t.Fatalf("LoadPreferences(missing) = %v, %v", none, err)
	}

	prefs := &model.UserPreferences{
		UserID:              "ivy",
		PreferredCategories: []string{"Books", "Kitchen"},
		PriceRange:          model.PriceRange{Min: 12.5, Max: 480},
		Patterns: model.DecisionPatterns{
			TotalDecisions:      5,
			BoughtCount:         2,
			SkippedCount:        3,
			AveragePriceBought:  75.25,
			AveragePriceSkipped: 210,
		},
	}
	if err := store.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("SavePreferences() error = %v", err)
	}

	got, err := store.LoadPreferences(ctx, "ivy")
	if err != nil {
		t.Fatalf("LoadPreferences() error = %v", err)
	}
	if got.Patterns != prefs.Patterns || got.PriceRange != prefs.PriceRange {
		t.Errorf("LoadPreferences() = %+v", got)
	}
	if len(got.PreferredCategories) != 2 || got.PreferredCategories[1] != "Kitchen" {
		t.Errorf("categories = %v", got.PreferredCategories)
	}

	// Mutating a loaded copy must not leak into the cache
	got.PreferredCategories[0] = "Changed"
	cached, _ := store.LoadPreferences(ctx, "ivy")
	if cached.PreferredCategories[0] != "Books" {
		t.Errorf("cache was mutated through a loaded copy")
	}

	prefs.Patterns.TotalDecisions = 6
	if err := store.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("SavePreferences(update) error = %v", err)
	}
	updated, _ := store.LoadPreferences(ctx, "ivy")
	if updated.Patterns.TotalDecisions != 6 {
		t.Errorf("TotalDecisions after update = %d, want 6", updated.Patterns.TotalDecisions)
	}
}

func TestSQLiteStorage_UpdatePreferences(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	increment := func(prev *model.UserPreferences) (*model.UserPreferences, error) {
		next := model.NewUserPreferences("kim")
		if prev != nil {
			next = prev.Clone()
		}
		next.Patterns.TotalDecisions++
		next.Counted["d1"] = model.CountedDecision{Status: model.StatusPurchased, Price: 9.5}
		return &next, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.UpdatePreferences(ctx, "kim", increment); err != nil {
				t.Errorf("UpdatePreferences() error = %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.LoadPreferences(ctx, "kim")
		}()
	}
	wg.Wait()

	got, err := store.LoadPreferences(ctx, "kim")
	if err != nil {
		t.Fatalf("LoadPreferences() error = %v", err)
	}
	if got.Patterns.TotalDecisions != 8 {
		t.Errorf("TotalDecisions = %d, want 8", got.Patterns.TotalDecisions)
	}
	if got.Counted["d1"].Price != 9.5 {
		t.Errorf("counted = %+v", got.Counted)
	}

	// A nil result leaves the stored value alone
	if err := store.UpdatePreferences(ctx, "kim", func(*model.UserPreferences) (*model.UserPreferences, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("UpdatePreferences(no change) error = %v", err)
	}

	boom := errors.New("boom")
	err = store.UpdatePreferences(ctx, "kim", func(prev *model.UserPreferences) (*model.UserPreferences, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("UpdatePreferences(failing fn) error = %v, want boom", err)
	}

	err = store.UpdatePreferences(ctx, "kim", func(*model.UserPreferences) (*model.UserPreferences, error) {
		other := model.NewUserPreferences("someone-else")
		return &other, nil
	})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("UpdatePreferences(wrong user) error = %v, want invalid input", err)
	}

	reloaded, _ := store.LoadPreferences(ctx, "kim")
	if reloaded.Patterns.TotalDecisions != 8 {
		t.Errorf("TotalDecisions after no-op updates = %d, want 8", reloaded.Patterns.TotalDecisions)
	}
}

func TestSQLiteStorage_PreferencesCacheKeepsNewestWrite(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	old := model.NewUserPreferences("lee")
	old.Patterns.TotalDecisions = 1
	if err := store.SavePreferences(ctx, &old); err != nil {
		t.Fatalf("SavePreferences() error = %v", err)
	}

	// A read that started before the next write finishes after it
	gen := store.preferencesGeneration("lee")
	newer := old.Clone()
	newer.Patterns.TotalDecisions = 2
	if err := store.SavePreferences(ctx, &newer); err != nil {
		t.Fatalf("SavePreferences(newer) error = %v", err)
	}
	store.cachePreferences(old, gen)

	got, err := store.LoadPreferences(ctx, "lee")
	if err != nil {
		t.Fatalf("LoadPreferences() error = %v", err)
	}
	if got.Patterns.TotalDecisions != 2 {
		t.Errorf("TotalDecisions = %d, want 2", got.Patterns.TotalDecisions)
	}
}

func TestSQLiteStorage_Backup(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveDecision(ctx, testDecision("d1", "jack", 10, model.StatusPending, time.Now())); err != nil {
		t.Fatalf("SaveDecision() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backups", "snapshot.db")
	info, err := store.Backup(ctx, dest)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if info.RowCounts["decisions"] != 1 || info.SchemaVersion != ExpectedSchemaVersion || info.FileSize == 0 {
		t.Errorf("Backup() info = %+v", info)
	}

	restored, err := NewSQLiteStorage(dest)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer func() { _ = restored.Close() }()
	if _, err := restored.GetDecision(ctx, "jack", "d1"); err != nil {
		t.Errorf("backup is missing decision: %v", err)
	}

	if _, err := store.Backup(ctx, dest); !errors.Is(err, ErrBackupExists) {
		t.Errorf("Backup(existing) error = %v, want ErrBackupExists", err)
	}
	if _, err := store.Backup(ctx, filepath.Join(t.TempDir(), "it's.db")); !errors.Is(err, ErrInvalidBackup) {
		t.Errorf("Backup(quoted path) error = %v, want ErrInvalidBackup", err)
	}
}
