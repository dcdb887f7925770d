package azure

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/praetorian-inc/entrascope/pkg/links/azure/pim"
	"github.com/praetorian-inc/entrascope/pkg/links/options"
	"github.com/praetorian-inc/entrascope/pkg/outputters"
	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"
)

type AzurePrivilegedRoleMembersOutputFormatterLink struct {
	*chain.Base
}

func NewAzurePrivilegedRoleMembersOutputFormatterLink(configs ...cfg.Config) chain.Link {
	l := &AzurePrivilegedRoleMembersOutputFormatterLink{}
	l.Base = chain.NewBase(l, configs...)
	return l
}

func (l *AzurePrivilegedRoleMembersOutputFormatterLink) Params() []cfg.Param {
	return []cfg.Param{
		options.OutputDir(),
	}
}

func (l *AzurePrivilegedRoleMembersOutputFormatterLink) Process(input any) error {
	result, ok := input.(pim.ResolutionResult)
	if !ok {
		return fmt.Errorf("expected pim.ResolutionResult, got %T", input)
	}

	if err := l.generateJSONOutput(result); err != nil {
		return fmt.Errorf("failed to generate JSON output: %w", err)
	}

	if err := l.Send(membersTable(result)); err != nil {
		return err
	}
	return l.Send(countsTable(result.Report))
}

func (l *AzurePrivilegedRoleMembersOutputFormatterLink) generateJSONOutput(result pim.ResolutionResult) error {
	outputDir, _ := cfg.As[string](l.Arg("output"))

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("privileged-role-members-%s.json", timestamp)
	jsonFilePath := filepath.Join(outputDir, filename)

	outputData := map[string]any{
		"metadata": map[string]any{
			"collectedAt": time.Now().UTC().Format(time.RFC3339),
			"module":      "privileged-role-members",
			"runId":       result.Report.RunID,
			"recordCount": len(result.Records),
		},
		"report":  result.Report,
		"members": result.Records,
	}

	return l.Send(outputters.NewNamedOutputData(outputData, jsonFilePath))
}

// membersTable lists every resolved member row; summary rows only repeat the
// counts table and are skipped.
func membersTable(result pim.ResolutionResult) outputters.MarkdownTable {
	table := outputters.MarkdownTable{
		TableHeading: "Entra ID Privileged Role Members",
		Headers:      []string{"Role", "Member", "Type", "Assignment", "Path", "Last Sign-In"},
	}
	for _, rec := range result.Records {
		if rec.ObjectType == pim.ObjectTypeSummary {
			continue
		}
		table.Rows = append(table.Rows, []string{
			truncate(rec.RoleName, 40),
			truncate(memberName(rec), 40),
			rec.ObjectType,
			string(rec.AssignmentType),
			rec.AssignmentPath,
			formatSignIn(rec),
		})
	}
	return table
}

func countsTable(report pim.RunReport) outputters.MarkdownTable {
	table := outputters.MarkdownTable{
		TableHeading: fmt.Sprintf("Per-Role Assignment Counts (%d members, %d errors, %s)",
			report.TotalMembers, report.ProcessingErrors, report.Duration),
		Headers: []string{"Role", "Direct", "Eligible", "Active", "Total"},
	}
	for _, name := range sortedRoleNames(report.RoleCounts) {
		counts := report.RoleCounts[name]
		table.Rows = append(table.Rows, []string{
			name,
			strconv.Itoa(counts.Direct),
			strconv.Itoa(counts.PIMEligible),
			strconv.Itoa(counts.PIMActive),
			strconv.Itoa(counts.Total),
		})
	}
	return table
}

func memberName(rec pim.MemberRecord) string {
	if rec.UserPrincipalName != "" {
		return rec.UserPrincipalName
	}
	return rec.DisplayName
}

func formatSignIn(rec pim.MemberRecord) string {
	switch {
	case rec.ObjectType != pim.ObjectTypeUser:
		return "-"
	case rec.DaysSinceSignIn == pim.NeverSignedIn:
		return "Never"
	default:
		return fmt.Sprintf("%dd ago", rec.DaysSinceSignIn)
	}
}

func sortedRoleNames(counts map[string]pim.RoleCounts) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
