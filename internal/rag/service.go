package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/embedding"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/preferences"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/Veraticus/buyornot/internal/vectorsearch"
	"github.com/Veraticus/buyornot/internal/worker"
	"github.com/google/uuid"
)

// TaskRunner accepts background work.
type TaskRunner interface {
	Submit(ctx context.Context, task worker.Task) error
}

// Options tunes retrieval.
type Options struct {
	Limit         int
	MinSimilarity float64
	CandidatePool int // Stored embeddings loaded per retrieval
}

// DefaultOptions returns the standard retrieval settings: five matches at a
// similarity of at least 0.5 from the newest hundred embeddings.
func DefaultOptions() Options {
	return Options{Limit: 5, MinSimilarity: 0.5, CandidatePool: 100}
}

// Service retrieves context before an assistant turn and records finished
// conversations afterwards.
type Service struct {
	embedder   embedding.Embedder
	store      service.ConversationStore
	tasks      TaskRunner
	aggregator *preferences.Aggregator
	logger     *slog.Logger
	now        func() time.Time
	opts       Options
}

// NewService wires a Service. A nil logger uses slog.Default.
func NewService(embedder embedding.Embedder, store service.ConversationStore, tasks TaskRunner, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.CandidatePool <= 0 {
		opts.CandidatePool = defaults.CandidatePool
	}

	return &Service{
		embedder:   embedder,
		store:      store,
		tasks:      tasks,
		aggregator: preferences.NewAggregator(),
		logger:     logger,
		now:        time.Now,
		opts:       opts,
	}
}

// RetrieveContext gathers similar past conversations and the user's
// preferences for decision. Collaborator failures are logged and leave the
// corresponding part of the bundle empty; only invalid input is returned as
// an error.
func (s *Service) RetrieveContext(ctx context.Context, decision model.Decision, recent []model.ChatMessage, userID string) (ContextBundle, error) {
	if strings.TrimSpace(userID) == "" {
		return ContextBundle{}, fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}
	if decision.ID == "" {
		return ContextBundle{}, fmt.Errorf("%w: decision id is required", common.ErrInvalidInput)
	}

	bundle := ContextBundle{}
	bundle.Similar = s.findSimilar(ctx, decision, recent, userID)

	prefs, err := s.store.LoadPreferences(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load preferences, continuing without them",
			"user_id", userID, "error", err)
		prefs = nil
	}
	if prefs != nil {
		patterns := prefs.Patterns
		bundle.Preferences = prefs
		bundle.Patterns = &patterns
	}

	s.logger.Debug("retrieved context",
		"user_id", userID,
		"decision_id", decision.ID,
		"similar", len(bundle.Similar),
		"has_preferences", bundle.Preferences != nil)

	return bundle, nil
}

func (s *Service) findSimilar(ctx context.Context, decision model.Decision, recent []model.ChatMessage, userID string) []vectorsearch.Match {
	query, err := s.embedder.Embed(ctx, embedding.DecisionText(decision, recent))
	if err != nil {
		s.logger.Warn("failed to embed decision, skipping similarity search",
			"decision_id", decision.ID, "error", err)
		return nil
	}

	candidates, err := s.store.LoadEmbeddings(ctx, userID, s.opts.CandidatePool)
	if err != nil {
		s.logger.Warn("failed to load embeddings, skipping similarity search",
			"user_id", userID, "error", err)
		return nil
	}

	result, err := vectorsearch.FindSimilar(query, candidates, vectorsearch.Options{
		Limit:             s.opts.Limit,
		MinSimilarity:     s.opts.MinSimilarity,
		ExcludeDecisionID: decision.ID,
	})
	if err != nil {
		s.logger.Warn("similarity search failed", "decision_id", decision.ID, "error", err)
		return nil
	}
	if result.Skipped > 0 {
		s.logger.Warn("ignored embeddings that could not be compared",
			"user_id", userID, "count", result.Skipped, "embedder", s.embedder.Name())
	}
	return result.Matches
}

// RecordFinalizedConversation queues the work that follows a finished
// conversation: the thread and its embedding are stored, and when the
// decision is resolved it is folded into the user's preferences unless it is
// already counted there. It returns once the work is queued. Failures of the
// queued work are logged by the task runner.
func (s *Service) RecordFinalizedConversation(ctx context.Context, decisionID string, messages []model.ChatMessage, decision model.Decision, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}
	if decisionID == "" {
		return fmt.Errorf("%w: decision id is required", common.ErrInvalidInput)
	}
	if decision.ID != "" && decision.ID != decisionID {
		return fmt.Errorf("%w: decision id %s does not match %s", common.ErrInvalidInput, decision.ID, decisionID)
	}
	decision.ID = decisionID
	msgs := append([]model.ChatMessage(nil), messages...)

	err := s.tasks.Submit(ctx, worker.Task{
		Name:  "record-conversation",
		Attrs: []any{"user_id", userID, "decision_id", decisionID},
		Run: func(taskCtx context.Context) error {
			return s.storeConversation(taskCtx, decision, msgs, userID)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to queue conversation: %w", err)
	}

	if !decision.Status.IsTerminal() {
		return nil
	}

	err = s.tasks.Submit(ctx, worker.Task{
		Name:  "update-preferences",
		Attrs: []any{"user_id", userID, "decision_id", decisionID, "status", decision.Status},
		Run: func(taskCtx context.Context) error {
			return s.UpdatePreferences(taskCtx, decision, userID)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to queue preference update: %w", err)
	}
	return nil
}

// storeConversation saves the thread, embeds it and saves the embedding.
func (s *Service) storeConversation(ctx context.Context, decision model.Decision, messages []model.ChatMessage, userID string) error {
	existing, err := s.store.LoadConversation(ctx, userID, decision.ID)
	if err != nil {
		s.logger.Warn("failed to load existing conversation", "decision_id", decision.ID, "error", err)
		existing = nil
	}

	conversation := &model.Conversation{
		ID:          uuid.NewString(),
		DecisionID:  decision.ID,
		UserID:      userID,
		Messages:    messages,
		LastUpdated: s.now(),
		IsActive:    false,
	}
	if existing != nil {
		conversation.ID = existing.ID
	}
	if err := s.store.SaveConversation(ctx, conversation); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	record, err := s.EmbedConversation(ctx, decision, messages, userID)
	if err != nil {
		return err
	}
	if err := s.store.SaveEmbedding(ctx, &record); err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// EmbedConversation builds a new ConversationEmbedding for a thread without
// saving it.
func (s *Service) EmbedConversation(ctx context.Context, decision model.Decision, messages []model.ChatMessage, userID string) (model.ConversationEmbedding, error) {
	vector, err := s.embedder.Embed(ctx, embedding.DecisionText(decision, messages))
	if err != nil {
		return model.ConversationEmbedding{}, fmt.Errorf("failed to embed conversation: %w", err)
	}

	return model.ConversationEmbedding{
		ID:         uuid.NewString(),
		DecisionID: decision.ID,
		UserID:     userID,
		Vector:     vector,
		Text:       model.Transcript(messages),
		Summary:    Summarize(decision, messages),
		CreatedAt:  s.now(),
	}, nil
}

// UpdatePreferences folds a resolved decision into the stored preferences.
// A decision already counted with the same status and price changes nothing.
// The store serializes updates for one user, and a failed load aborts the
// update rather than overwriting history.
func (s *Service) UpdatePreferences(ctx context.Context, decision model.Decision, userID string) error {
	if err := s.store.UpdatePreferences(ctx, userID, s.aggregator.Fold(userID, decision)); err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}
