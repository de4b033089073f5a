package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/model"
	tea "github.com/charmbracelet/bubbletea"
)

// RunChat runs the full-screen chat about d until the user decides, leaves,
// or ctx is canceled.
func RunChat(ctx context.Context, d model.Decision, turn cli.TurnFunc, in io.Reader, out io.Writer) (cli.ChatResult, error) {
	if turn == nil {
		return cli.ChatResult{}, fmt.Errorf("turn function is required")
	}

	p := tea.NewProgram(
		NewChatModel(ctx, d, turn),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)

	final, err := p.Run()
	if ctx.Err() != nil {
		return cli.ChatResult{}, ctx.Err()
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return cli.ChatResult{}, fmt.Errorf("chat failed: %w", err)
	}

	m, ok := final.(ChatModel)
	if !ok {
		return cli.ChatResult{}, fmt.Errorf("unexpected chat model %T", final)
	}
	return m.Result(), nil
}

// IsTerminal reports whether both ends are interactive terminals.
func IsTerminal(in io.Reader, out io.Writer) bool {
	return isCharDevice(in) && isCharDevice(out)
}

func isCharDevice(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
