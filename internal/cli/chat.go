package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Veraticus/buyornot/internal/model"
)

// TurnFunc sends one user message and returns the assistant's reply.
type TurnFunc func(ctx context.Context, message string) (string, error)

// ChatResult summarizes an interactive session.
type ChatResult struct {
	Outcome model.DecisionStatus // StatusNone when the user left without deciding
	Turns   int
}

// ParseCommand recognizes the chat commands. /buy and /skip end a chat with a
// decision, /quit ends it without one. done is false for ordinary messages.
func ParseCommand(line string) (outcome model.DecisionStatus, done bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "/buy", "/bought":
		return model.StatusPurchased, true
	case "/skip":
		return model.StatusSkipped, true
	case "/quit", "/exit", "/done":
		return model.StatusNone, true
	}
	return model.StatusNone, false
}

// ChatSession is a line-based conversation about one decision, used when the
// terminal cannot host the full-screen chat.
type ChatSession struct {
	reader *LineReader
	writer io.Writer
	turn   TurnFunc
}

// NewChatSession reads user input from r and writes the conversation to w.
func NewChatSession(r io.Reader, w io.Writer, turn TurnFunc) *ChatSession {
	return &ChatSession{reader: NewLineReader(r), writer: w, turn: turn}
}

// Run loops until the user decides, quits, input ends or ctx is canceled.
func (s *ChatSession) Run(ctx context.Context, d model.Decision) (ChatResult, error) {
	var result ChatResult

	s.print(RenderDecision(d) + "\n" +
		SubtleStyle.Render("Type your thoughts. /buy or /skip to decide, /quit to leave.") + "\n")

	for {
		s.printInline(FormatPrompt("You"))
		line, err := s.reader.ReadLine(ctx)
		if errors.Is(err, ErrInputCancelled) {
			return result, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("failed to read input: %w", err)
		}

		if line == "" {
			continue
		}
		if outcome, done := ParseCommand(line); done {
			result.Outcome = outcome
			return result, nil
		}

		reply, err := s.turn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.print(FormatError("The assistant could not answer: " + err.Error()))
			continue
		}
		result.Turns++
		s.print(AssistantStyle.Render(RobotIcon + " " + reply))
	}
}

func (s *ChatSession) print(text string) {
	if _, err := fmt.Fprintln(s.writer, text); err != nil {
		slog.Warn("Failed to write chat output", "error", err)
	}
}

func (s *ChatSession) printInline(text string) {
	if _, err := fmt.Fprint(s.writer, text); err != nil {
		slog.Warn("Failed to write chat output", "error", err)
	}
}
