package pim

import (
	"fmt"
	"sort"
)

// finalize reconciles per-role totals, applies the inactivity filter, and
// appends summary rows when requested. It runs after the expansion pool has
// drained, so it owns the record set exclusively.
func finalize(records []MemberRecord, counts map[string]*RoleCounts, opts Options) []MemberRecord {
	for _, c := range counts {
		c.Total = c.Direct + c.PIMEligible + c.PIMActive
	}

	out := records
	if opts.InactiveDays > 0 {
		out = filterInactive(records, opts.InactiveDays)
	}
	if opts.IncludeSummaries {
		out = append(out, summaryRows(counts)...)
	}
	return out
}

// filterInactive keeps users whose last sign-in falls within threshold days.
// Rows without a sign-in age (groups, summaries) are always retained.
// Accounts that never signed in carry the NeverSignedIn sentinel and fall
// outside any finite threshold.
func filterInactive(records []MemberRecord, threshold int) []MemberRecord {
	kept := make([]MemberRecord, 0, len(records))
	for _, rec := range records {
		if rec.ObjectType != ObjectTypeUser || rec.DaysSinceSignIn == DaysUnknown || rec.DaysSinceSignIn <= threshold {
			kept = append(kept, rec)
		}
	}
	return kept
}

func summaryRows(counts map[string]*RoleCounts) []MemberRecord {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]MemberRecord, 0, len(names))
	for _, name := range names {
		c := *counts[name]
		rows = append(rows, MemberRecord{
			RoleName:        name,
			ObjectType:      ObjectTypeSummary,
			DisplayName:     fmt.Sprintf("%s: %d assignments", name, c.Total),
			DaysSinceSignIn: DaysUnknown,
			Counts:          &c,
		})
	}
	return rows
}
