package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
)

const (
	defaultWidth = 100
	minWidth     = 60
	labelWidth   = 24
	pagesWidth   = 14
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(labelWidth)
	presentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pagesStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Width(pagesWidth).Align(lipgloss.Right)
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// outputWidth returns the terminal width of w, or defaultWidth when w is
// not a terminal.
func outputWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width < minWidth {
		return defaultWidth
	}
	return width
}

// printJSON writes v as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// renderCard draws a card as a bordered panel of width columns.
func renderCard(card present.Card, width int) string {
	inner := width - 4
	valueWidth := inner - labelWidth - pagesWidth
	valueStyle := lipgloss.NewStyle().Width(valueWidth)

	var b strings.Builder
	title := "Bond information card"
	if card.Query != "" {
		title += ": " + card.Query
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	for _, f := range card.Fields {
		var value string
		if f.Status == "present" {
			value = presentStyle.Render(f.Value)
		} else {
			value = missingStyle.Render(notFoundText(f.Note))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render(f.Label),
			valueStyle.Render(value),
			pagesStyle.Render(formatPages(f.Pages)),
		))
		b.WriteString("\n")
	}

	if len(card.KPIs) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Impact KPIs"))
		b.WriteString("\n")
		for _, k := range card.KPIs {
			value := strings.TrimSpace(k.Value + " " + k.Unit)
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
				labelStyle.Render(k.Name),
				valueStyle.Render(value),
				pagesStyle.Render(formatPages(k.Pages)),
			))
			b.WriteString("\n")
		}
	}

	if g := card.Greenwashing; g != nil {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Greenwashing check"))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Score %.2f (%d of %d claims implemented)\n", g.Score, g.Implemented, g.Claims))
		for _, alert := range g.Alerts {
			b.WriteString(alertStyle.Width(inner).Render("! " + alert))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(missingStyle.Render(fmt.Sprintf("card %s | %s | %d attempt(s)", card.ID, card.Model, card.Attempts)))

	return boxStyle.Width(width - 2).Render(b.String())
}

func notFoundText(note string) string {
	if note == "" {
		return "not found"
	}
	return "not found (" + note + ")"
}

// formatPages renders cited pages as "p. 2, 5".
func formatPages(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return "p. " + strings.Join(parts, ", ")
}
