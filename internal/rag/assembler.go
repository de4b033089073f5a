// Package rag assembles retrieval-augmented context for the purchase
// assistant: it embeds conversations, finds similar past decisions and merges
// them with the user's preference statistics.
package rag

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/vectorsearch"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ContextBundle is everything retrieved for one assistant turn.
type ContextBundle struct {
	Preferences *model.UserPreferences
	Patterns    *model.DecisionPatterns
	Similar     []vectorsearch.Match
}

// IsEmpty reports whether there is nothing to render.
func (b ContextBundle) IsEmpty() bool {
	return b.Preferences == nil && len(b.Similar) == 0
}

// AssemblerOptions bounds how much conversation detail is rendered.
type AssemblerOptions struct {
	ExcerptCount  int // Matches that include conversation text
	ExcerptLength int // Runes of text per excerpt
}

// Assembler renders a ContextBundle into a prompt section.
type Assembler struct {
	tmpl *template.Template
	opts AssemblerOptions
}

// NewAssembler loads the context template.
func NewAssembler(opts AssemblerOptions) (*Assembler, error) {
	if opts.ExcerptCount < 0 {
		opts.ExcerptCount = 0
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = 200
	}

	tmpl, err := template.New("context.tmpl").ParseFS(templateFS, "templates/context.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse context template: %w", err)
	}

	return &Assembler{tmpl: tmpl, opts: opts}, nil
}

// DefaultAssemblerOptions shows excerpts for the top two matches, 200 runes each.
func DefaultAssemblerOptions() AssemblerOptions {
	return AssemblerOptions{ExcerptCount: 2, ExcerptLength: 200}
}

type preferencesView struct {
	PriceRange string
	Categories string
	BuyRatio   string
	Total      int
}

type similarView struct {
	Summary string
	Excerpt string
	Index   int
}

type contextView struct {
	Preferences *preferencesView
	Similar     []similarView
}

// Render produces the context block. Sections with no data are omitted, so an
// empty bundle renders as the empty string.
func (a *Assembler) Render(bundle ContextBundle) (string, error) {
	view := contextView{}

	if p := bundle.Preferences; p != nil {
		patterns := p.Patterns
		if bundle.Patterns != nil {
			patterns = *bundle.Patterns
		}
		pv := &preferencesView{
			BuyRatio: fmt.Sprintf("%.1f", patterns.BuyRatio()*100),
			Total:    patterns.TotalDecisions,
		}
		if p.PriceRange.Max > 0 {
			pv.PriceRange = fmt.Sprintf("$%.2f - $%.2f", p.PriceRange.Min, p.PriceRange.Max)
		}
		if len(p.PreferredCategories) > 0 {
			pv.Categories = strings.Join(p.PreferredCategories, ", ")
		}
		view.Preferences = pv
	}

	for i, m := range bundle.Similar {
		sv := similarView{Index: i + 1, Summary: m.Embedding.Summary}
		if i < a.opts.ExcerptCount {
			sv.Excerpt = excerpt(m.Embedding.Text, a.opts.ExcerptLength)
		}
		view.Similar = append(view.Similar, sv)
	}

	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render context: %w", err)
	}
	return buf.String(), nil
}

// excerpt flattens text onto one line and cuts it to n runes.
func excerpt(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "..."
}
