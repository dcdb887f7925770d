package pim

import (
	"sync/atomic"
	"time"
)

// runMetrics collects counters that are updated from the sequential role loop
// and from expansion goroutines concurrently.
type runMetrics struct {
	startTime time.Time
	endTime   time.Time

	directRolesProcessed atomic.Int64
	pimRolesProcessed    atomic.Int64
	groupsExpanded       atomic.Int64
	totalMembers         atomic.Int64
	processingErrors     atomic.Int64
}

// RunReport is the immutable snapshot of a completed (or cancelled) run.
type RunReport struct {
	RunID                string                `json:"runId"`
	StartTime            time.Time             `json:"startTime"`
	EndTime              time.Time             `json:"endTime"`
	Duration             string                `json:"duration"`
	DirectRolesProcessed int64                 `json:"directRolesProcessed"`
	PIMRolesProcessed    int64                 `json:"pimRolesProcessed"`
	GroupsExpanded       int64                 `json:"groupsExpanded"`
	TotalMembers         int64                 `json:"totalMembers"`
	ProcessingErrors     int64                 `json:"processingErrors"`
	RoleCounts           map[string]RoleCounts `json:"roleCounts"`
	Partial              bool                  `json:"partial,omitempty"`
}

func (m *runMetrics) report(runID string, counts map[string]*RoleCounts, partial bool) RunReport {
	roleCounts := make(map[string]RoleCounts, len(counts))
	for name, c := range counts {
		roleCounts[name] = *c
	}
	return RunReport{
		RunID:                runID,
		StartTime:            m.startTime,
		EndTime:              m.endTime,
		Duration:             m.endTime.Sub(m.startTime).Round(time.Millisecond).String(),
		DirectRolesProcessed: m.directRolesProcessed.Load(),
		PIMRolesProcessed:    m.pimRolesProcessed.Load(),
		GroupsExpanded:       m.groupsExpanded.Load(),
		TotalMembers:         m.totalMembers.Load(),
		ProcessingErrors:     m.processingErrors.Load(),
		RoleCounts:           roleCounts,
		Partial:              partial,
	}
}
