// Package api exposes decisions, the ledger and the assistant over HTTP.
package api

import (
	"context"
	"log/slog"

	"github.com/Veraticus/buyornot/internal/assistant"
	"github.com/Veraticus/buyornot/internal/engine"
	"github.com/Veraticus/buyornot/internal/llm"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/rag"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// ContextService retrieves and records RAG context.
type ContextService interface {
	RetrieveContext(ctx context.Context, decision model.Decision, recent []model.ChatMessage, userID string) (rag.ContextBundle, error)
	RecordFinalizedConversation(ctx context.Context, decisionID string, messages []model.ChatMessage, decision model.Decision, userID string) error
}

// ChatAssistant runs one assistant turn.
type ChatAssistant interface {
	Turn(ctx context.Context, in assistant.TurnInput) (assistant.Reply, error)
}

// Deps are the collaborators behind the HTTP handlers. Assistant and
// Recognizer may be nil, in which case their routes answer 503.
type Deps struct {
	Engine        *engine.Engine
	Context       ContextService
	Assembler     *rag.Assembler
	Conversations service.ConversationStore
	Assistant     ChatAssistant
	Recognizer    llm.Client
	Logger        *slog.Logger
	AllowOrigins  string
	Version       string
	AccessLog     bool
}

// Server is the HTTP front end.
type Server struct {
	app  *fiber.App
	deps Deps
}

// NewServer builds the fiber app and registers all routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AllowOrigins == "" {
		deps.AllowOrigins = "*"
	}

	s := &Server{deps: deps}
	app := fiber.New(fiber.Config{
		AppName:               "buyornot",
		DisableStartupMessage: true,
		BodyLimit:             25 * 1024 * 1024,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	if deps.AccessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: deps.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, " + userHeader,
	}))

	api := app.Group("/api/v1")
	api.Get("/health", s.health)

	authed := api.Group("", requireUser)

	authed.Post("/decisions", s.createDecision)
	authed.Get("/decisions", s.listDecisions)
	authed.Get("/decisions/:id", s.getDecision)
	authed.Post("/decisions/:id/status", s.transitionDecision)
	authed.Get("/decisions/:id/context", s.decisionContext)
	authed.Get("/decisions/:id/conversation", s.getConversation)
	authed.Post("/decisions/:id/conversation/finalize", s.finalizeConversation)
	authed.Post("/decisions/:id/chat", s.chat)

	authed.Get("/ledger", s.getLedger)
	authed.Get("/ledger/summary", s.ledgerSummary)
	authed.Post("/ledger/rebuild", s.rebuildLedger)
	authed.Post("/expenses", s.addExpense)
	authed.Delete("/expenses/:id", s.deleteExpense)

	authed.Post("/recognize", s.recognize)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.deps.Logger.Info("HTTP server listening", "addr", addr)
	return s.app.Listen(addr)
}

// ListenTLS serves HTTPS on addr with the given certificate files.
func (s *Server) ListenTLS(addr, certFile, keyFile string) error {
	s.deps.Logger.Info("HTTPS server listening", "addr", addr)
	return s.app.ListenTLS(addr, certFile, keyFile)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "version": s.deps.Version})
}
