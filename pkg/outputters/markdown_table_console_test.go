package outputters

import (
	"strings"
	"testing"
)

func TestMarkdownTableToString(t *testing.T) {
	table := MarkdownTable{
		TableHeading: "Privileged Roles",
		Headers:      []string{"Role", "Total"},
		Rows: [][]string{
			{"Global Administrator", "3"},
			{"User Administrator", "12"},
		},
	}

	out := table.ToString()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "# Privileged Roles" {
		t.Errorf("heading line = %q", lines[0])
	}
	// heading, blank, header, divider, two rows
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[2], "Role") || !strings.Contains(lines[2], "Total") {
		t.Errorf("header row = %q", lines[2])
	}

	// Columns pad to the widest cell, so every row renders the same width.
	for _, line := range lines[2:] {
		if len(line) != len(lines[2]) {
			t.Errorf("row width %d differs from header width %d: %q", len(line), len(lines[2]), line)
		}
	}
}

func TestMarkdownTableToStringWithoutHeaders(t *testing.T) {
	table := MarkdownTable{TableHeading: "Empty"}
	if got := table.ToString(); got != "# Empty\n\n" {
		t.Errorf("headerless table = %q", got)
	}
}

func TestRuntimeJSONOutputterSkipsConsoleTables(t *testing.T) {
	o := &RuntimeJSONOutputter{outfile: defaultOutfile}

	if err := o.Output(MarkdownTable{TableHeading: "console only"}); err != nil {
		t.Fatalf("Output returned error: %v", err)
	}
	if err := o.Output(NewNamedOutputData(map[string]any{"k": "v"}, "run.json")); err != nil {
		t.Fatalf("Output returned error: %v", err)
	}

	if len(o.output) != 1 {
		t.Fatalf("expected only the JSON payload to be stored, got %d entries", len(o.output))
	}
	if o.outfile != "run.json" {
		t.Errorf("outfile = %q, want run.json", o.outfile)
	}
}
