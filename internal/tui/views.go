package tui

import (
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

const dateLayout = "2006-01-02"

func columns(width int) []table.Column {
	merchant := 24
	if width > 100 {
		merchant += min(width-100, 20)
	}
	return []table.Column{
		{Title: "Merchant", Width: merchant},
		{Title: "Cadence", Width: 8},
		{Title: "Amount", Width: 14},
		{Title: "Confidence", Width: 10},
		{Title: "Next", Width: 10},
		{Title: "Events", Width: 6},
	}
}

// tableHeight leaves room for the title, detail panel and help.
func tableHeight(height int) int {
	return max(height-14, 3)
}

func candidateRow(c model.DetectionCandidate) table.Row {
	return table.Row{
		c.ProposedName,
		string(c.ProposedCadence),
		fmt.Sprintf("%s %s", c.ProposedAmount.StringFixed(2), c.ProposedCurrency),
		fmt.Sprintf("%.0f%%", c.Confidence*100),
		c.ProposedNextOccurrence.Format(dateLayout),
		fmt.Sprintf("%d", len(c.SupportingEventIDs)),
	}
}

// View renders the review screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.theme.Title.Render(fmt.Sprintf("Recurring charge review (%d pending)", len(m.candidates))))
	b.WriteString("\n")

	switch {
	case m.loading:
		b.WriteString(m.theme.StatusPending.Render("Loading candidates..."))
		b.WriteString("\n")
	case len(m.candidates) > 0:
		b.WriteString(m.table.View())
		b.WriteString("\n")
		if c := m.selected(); c != nil {
			b.WriteString(m.renderDetail(*c))
			b.WriteString("\n")
		}
	}

	if m.lastError != nil {
		b.WriteString(m.theme.StatusError.Render("Error: " + m.lastError.Error()))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(m.theme.StatusInfo.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(m.theme.Subtitle.Render(fmt.Sprintf("accepted %d  dismissed %d  skipped %d",
		m.stats.Accepted, m.stats.Dismissed, m.stats.Skipped)))
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keymap))
	return b.String()
}

func (m Model) renderDetail(c model.DetectionCandidate) string {
	label := m.theme.Subtitle.Width(14)
	line := func(name, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, label.Render(name), m.theme.Normal.Render(value))
	}

	lines := []string{
		m.theme.Bold.Render(c.ProposedName),
		line("Merchant key", string(c.MerchantKey)),
		line("Charge", fmt.Sprintf("%s %s every %d days", c.ProposedAmount.StringFixed(2), c.ProposedCurrency, c.ProposedCadence.Days())),
		line("Next charge", c.ProposedNextOccurrence.Format(dateLayout)),
		lipgloss.JoinHorizontal(lipgloss.Top,
			label.Render("Confidence"),
			m.theme.ConfidenceStyle(c.Confidence).Render(fmt.Sprintf("%.2f", c.Confidence)),
			m.theme.Subtitle.Render(fmt.Sprintf("  periodicity %.2f  amount %.2f", c.PeriodicityScore, c.AmountStabilityScore)),
		),
		line("Updated", c.UpdatedAt.Format("2006-01-02 15:04")),
	}
	return m.theme.RoundedBox.Render(strings.Join(lines, "\n"))
}
