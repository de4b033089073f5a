// Package assistant runs one turn of the purchase conversation: it gathers
// context from past decisions, prompts the chat model and stores the thread.
package assistant

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/llm"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/rag"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/google/uuid"
)

var (
	//go:embed templates/system.txt
	systemPrompt string

	//go:embed templates/turn.tmpl
	turnTemplate string
)

// ErrEmptyMessage is returned when a turn has neither text nor a photo.
var ErrEmptyMessage = fmt.Errorf("%w: message or image is required", common.ErrInvalidInput)

// ContextSource retrieves RAG context for a decision.
type ContextSource interface {
	RetrieveContext(ctx context.Context, decision model.Decision, recent []model.ChatMessage, userID string) (rag.ContextBundle, error)
}

// Assistant answers the user about a pending purchase.
type Assistant struct {
	source       ContextSource
	assembler    *rag.Assembler
	client       llm.Client
	store        service.ConversationStore
	logger       *slog.Logger
	tmpl         *template.Template
	now          func() time.Time
	historyLimit int
}

// New wires an Assistant. historyLimit caps how many earlier messages are
// quoted in the prompt; zero or less means 10.
func New(source ContextSource, assembler *rag.Assembler, client llm.Client, store service.ConversationStore, historyLimit int, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 10
	}
	tmpl, err := template.New("turn").Parse(turnTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse turn template: %w", err)
	}
	return &Assistant{
		source:       source,
		assembler:    assembler,
		client:       client,
		store:        store,
		logger:       logger,
		tmpl:         tmpl,
		now:          time.Now,
		historyLimit: historyLimit,
	}, nil
}

// TurnInput is one user message about a decision. When History is nil the
// stored conversation is used.
type TurnInput struct {
	Image    *llm.Image
	UserID   string
	Message  string
	History  []model.ChatMessage
	Decision model.Decision
}

// Reply is the model's answer and the thread including both new messages.
type Reply struct {
	Text     string
	Messages []model.ChatMessage
	Context  rag.ContextBundle
}

// Turn sends the user's message to the chat model with retrieved context.
// Saving the updated thread is best effort; a failed save is logged and the
// reply is still returned.
func (a *Assistant) Turn(ctx context.Context, in TurnInput) (Reply, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return Reply{}, fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Message) == "" && (in.Image == nil || len(in.Image.Data) == 0) {
		return Reply{}, ErrEmptyMessage
	}

	existing := a.loadConversation(ctx, in.UserID, in.Decision.ID)
	history := in.History
	if history == nil && existing != nil {
		history = existing.Messages
	}

	userMsg := model.ChatMessage{
		ID:   uuid.NewString(),
		Role: model.RoleUser,
		Text: strings.TrimSpace(in.Message),
		Time: a.now(),
	}
	if in.Image != nil {
		userMsg.ImageMIMEType = in.Image.MIMEType
		userMsg.Image = in.Image.Data
	}

	recent := append(append([]model.ChatMessage(nil), history...), userMsg)
	bundle, err := a.source.RetrieveContext(ctx, in.Decision, recent, in.UserID)
	if err != nil {
		return Reply{}, err
	}

	prompt, err := a.buildPrompt(bundle, in.Decision, history, userMsg)
	if err != nil {
		return Reply{}, err
	}

	text, err := a.client.Send(ctx, llm.Request{
		System: systemPrompt,
		Prompt: prompt,
		Image:  in.Image,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to get reply from %s: %w", a.client.Name(), err)
	}

	assistantMsg := model.ChatMessage{
		ID:   uuid.NewString(),
		Role: model.RoleAssistant,
		Text: strings.TrimSpace(text),
		Time: a.now(),
	}
	messages := append(recent, assistantMsg)

	a.saveConversation(ctx, existing, in, messages)

	a.logger.Debug("assistant turn complete",
		"user_id", in.UserID,
		"decision_id", in.Decision.ID,
		"similar", len(bundle.Similar),
		"history", len(history))

	return Reply{Text: assistantMsg.Text, Messages: messages, Context: bundle}, nil
}

type turnView struct {
	Context  string
	Title    string
	Price    string
	Category string
	Status   string
	Message  string
	History  []string
	HasImage bool
}

func (a *Assistant) buildPrompt(bundle rag.ContextBundle, d model.Decision, history []model.ChatMessage, msg model.ChatMessage) (string, error) {
	contextBlock, err := a.assembler.Render(bundle)
	if err != nil {
		return "", err
	}

	view := turnView{
		Context:  contextBlock,
		Title:    d.Title,
		Price:    d.Price.StringFixed(2),
		Category: d.Category,
		Status:   d.Status.String(),
		Message:  msg.Text,
		HasImage: len(msg.Image) > 0,
	}
	start := max(len(history)-a.historyLimit, 0)
	for _, m := range history[start:] {
		view.History = append(view.History, m.Role.Speaker()+": "+m.Text)
	}

	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}

func (a *Assistant) loadConversation(ctx context.Context, userID, decisionID string) *model.Conversation {
	if decisionID == "" {
		return nil
	}
	conv, err := a.store.LoadConversation(ctx, userID, decisionID)
	if err != nil {
		a.logger.Warn("failed to load conversation, starting fresh",
			"user_id", userID, "decision_id", decisionID, "error", err)
		return nil
	}
	return conv
}

func (a *Assistant) saveConversation(ctx context.Context, existing *model.Conversation, in TurnInput, messages []model.ChatMessage) {
	if in.Decision.ID == "" {
		return
	}
	conv := model.Conversation{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		DecisionID:  in.Decision.ID,
		Messages:    messages,
		LastUpdated: a.now(),
		IsActive:    true,
	}
	if existing != nil {
		conv.ID = existing.ID
	}
	if err := a.store.SaveConversation(ctx, &conv); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		a.logger.Log(ctx, level, "failed to save conversation",
			"user_id", in.UserID, "decision_id", in.Decision.ID, "error", err)
	}
}
