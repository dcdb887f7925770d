package outputters

import (
	"fmt"
	"strings"

	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"
)

// MarkdownTable is a console-facing table. Columns size themselves to the
// widest cell so the output stays aligned regardless of content.
type MarkdownTable struct {
	TableHeading string
	Headers      []string
	Rows         [][]string
}

// ToString converts the MarkdownTable to a markdown string
func (t MarkdownTable) ToString() string {
	var out strings.Builder

	if t.TableHeading != "" {
		out.WriteString("# " + t.TableHeading + "\n\n")
	}
	if len(t.Headers) == 0 {
		return out.String()
	}

	widths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		widths[i] = len(header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		out.WriteString("|")
		for i := range t.Headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			fmt.Fprintf(&out, " %-*s |", widths[i], cell)
		}
		out.WriteString("\n")
	}

	writeRow(t.Headers)
	out.WriteString("|")
	for _, w := range widths {
		fmt.Fprintf(&out, " %s |", strings.Repeat("-", w))
	}
	out.WriteString("\n")
	for _, row := range t.Rows {
		writeRow(row)
	}
	return out.String()
}

// MarkdownTableConsoleOutputter outputs MarkdownTable types to console
type MarkdownTableConsoleOutputter struct {
	*chain.BaseOutputter
}

// NewMarkdownTableConsoleOutputter creates a new console outputter for MarkdownTable types
func NewMarkdownTableConsoleOutputter(configs ...cfg.Config) chain.Outputter {
	o := &MarkdownTableConsoleOutputter{}
	o.BaseOutputter = chain.NewBaseOutputter(o, configs...)
	return o
}

func (o *MarkdownTableConsoleOutputter) Output(val any) error {
	if table, ok := val.(MarkdownTable); ok {
		fmt.Print(table.ToString())
	}
	return nil
}

func (o *MarkdownTableConsoleOutputter) Params() []cfg.Param {
	return []cfg.Param{}
}
