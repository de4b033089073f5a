package cli

import (
	"fmt"
	"strings"

	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// Money formats an amount as dollars with cents.
func Money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func statusBadge(s model.DecisionStatus) string {
	switch s {
	case model.StatusPurchased:
		return SpentStyle.Render(CartIcon + " bought")
	case model.StatusSkipped:
		return SavedStyle.Render(PiggyIcon + " skipped")
	case model.StatusPending:
		return WarningStyle.Render(ThinkIcon + " pending")
	default:
		return SubtleStyle.Render(s.String())
	}
}

// RenderDecisions lists decisions newest first as a table.
func RenderDecisions(decisions []model.Decision) string {
	if len(decisions) == 0 {
		return FormatInfo("No decisions yet. Propose one with: buyornot decide propose")
	}

	idWidth, titleWidth := len("ID"), len("Item")
	for _, d := range decisions {
		idWidth = max(idWidth, len(d.ID))
		titleWidth = max(titleWidth, len(d.Title))
	}

	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%-*s  %-*s  %10s  %s", idWidth, "ID", titleWidth, "Item", "Price", "Status")))
	b.WriteString("\n")
	for _, d := range decisions {
		fmt.Fprintf(&b, "%-*s  %-*s  %10s  %s\n",
			idWidth, d.ID,
			titleWidth, d.Title,
			Money(d.Price),
			statusBadge(d.Status))
	}
	return b.String()
}

// RenderDecision shows one decision in a box.
func RenderDecision(d model.Decision) string {
	lines := []string{
		fmt.Sprintf("Item:     %s", d.Title),
		fmt.Sprintf("Price:    %s", Money(d.Price)),
	}
	if d.Category != "" {
		lines = append(lines, fmt.Sprintf("Category: %s", d.Category))
	}
	lines = append(lines,
		fmt.Sprintf("Status:   %s", statusBadge(d.Status)),
		SubtleStyle.Render("ID "+d.ID),
	)
	return RenderBox("Decision", strings.Join(lines, "\n"))
}

// RenderLedger shows totals followed by every expense.
func RenderLedger(l model.Ledger) string {
	totals := lipgloss.JoinHorizontal(lipgloss.Top,
		SpentStyle.Render("Spent "+Money(l.Spent())),
		"   ",
		SavedStyle.Render("Saved "+Money(l.Saved)),
	)

	if len(l.Expenses) == 0 {
		return RenderBox("Ledger", totals+"\n\n"+SubtleStyle.Render("No expenses recorded."))
	}

	var b strings.Builder
	for _, e := range l.Expenses {
		source := "manual"
		if e.DecisionID != nil {
			source = "decision " + *e.DecisionID
		}
		fmt.Fprintf(&b, "%s  %-24s %10s  %s\n",
			e.Date.Format("Jan 02 2006"),
			e.Name,
			Money(e.Price),
			SubtleStyle.Render(source+" · "+e.ID))
	}
	return RenderBox("Ledger", totals+"\n\n"+strings.TrimRight(b.String(), "\n"))
}

// RenderSummary shows the ledger totals and decision counts.
func RenderSummary(s service.LedgerSummary) string {
	body := fmt.Sprintf("%s\n%s\n\nExpenses:  %d\nPending:   %d\nBought:    %d\nSkipped:   %d",
		SpentStyle.Render("Spent "+Money(s.Spent)),
		SavedStyle.Render("Saved "+Money(s.Saved)),
		s.ExpenseCount,
		s.PendingCount,
		s.PurchasedCount,
		s.SkippedCount)
	return RenderBox("Summary for "+s.UserID, body)
}

// RenderPreferences shows the learned spending profile.
func RenderPreferences(p *model.UserPreferences) string {
	if p == nil || p.Patterns.TotalDecisions == 0 {
		return FormatInfo("No resolved decisions yet, so there is nothing learned.")
	}

	categories := "none"
	if len(p.PreferredCategories) > 0 {
		categories = strings.Join(p.PreferredCategories, ", ")
	}
	body := fmt.Sprintf("Decisions:   %d (%d bought, %d skipped)\nBuy ratio:   %.1f%%\nPrice range: $%.2f - $%.2f\nAvg bought:  $%.2f\nAvg skipped: $%.2f\nCategories:  %s",
		p.Patterns.TotalDecisions,
		p.Patterns.BoughtCount,
		p.Patterns.SkippedCount,
		p.Patterns.BuyRatio()*100,
		p.PriceRange.Min,
		p.PriceRange.Max,
		p.Patterns.AveragePriceBought,
		p.Patterns.AveragePriceSkipped,
		categories)
	return RenderBox("Preferences", body)
}
