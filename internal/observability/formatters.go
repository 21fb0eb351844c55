package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/mbecker/ankigen/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxCardsToShow is the number of cards displayed per set in verbose mode
	maxCardsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintCardSet outputs a human-readable preview of a card set.
func (p *Printer) PrintCardSet(set *types.CardSet) {
	if set == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Cards: %d\n", len(set.Cards)))

	shown := 0
	for _, card := range set.Cards {
		if shown >= maxCardsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(set.Cards)-shown))
			break
		}
		sb.WriteString(fmt.Sprintf("[%s] slide %d (%s)\n", card.ID, card.Unit, card.Lineage))
		sb.WriteString("  " + card.Text + "\n")
		shown++
	}

	p.printBox(fmt.Sprintf("Card Set: %s", set.Name), sb.String())
}

// PrintRunSummary outputs the final complete/failed unit tally for a job.
func (p *Printer) PrintRunSummary(jobID string, complete, failed, cards int) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job:            %s\n", jobID))
	sb.WriteString(fmt.Sprintf("Units complete: %d\n", complete))
	sb.WriteString(fmt.Sprintf("Units failed:   %d\n", failed))
	sb.WriteString(fmt.Sprintf("Cards emitted:  %d\n", cards))
	p.printBox("Run Summary", sb.String())
}
