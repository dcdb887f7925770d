package pim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine resolves the effective membership of privileged directory roles from
// direct assignments and PIM schedules, expanding group grants recursively.
// One Engine can serve multiple Resolve calls; each call gets its own visited
// set, counters, and expansion pool.
type Engine struct {
	client    DirectoryClient
	sink      EventSink
	preflight func(ctx context.Context) error
	now       func() time.Time
}

func NewEngine(client DirectoryClient) *Engine {
	return &Engine{
		client: client,
		sink:   nopSink{},
		now:    time.Now,
	}
}

// WithEventSink attaches a lifecycle event sink to the engine.
func (e *Engine) WithEventSink(sink EventSink) *Engine {
	if sink != nil {
		e.sink = sink
	}
	return e
}

// WithPreflight sets a connectivity check that runs during validation, before
// any role is processed. A failing preflight aborts the run with a
// ValidationError.
func (e *Engine) WithPreflight(fn func(ctx context.Context) error) *Engine {
	e.preflight = fn
	return e
}

// run holds the mutable state of one Resolve call.
type run struct {
	engine  *Engine
	opts    Options
	metrics runMetrics
	visited *visitedSet
	sem     chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	records []MemberRecord
	seen    map[string]struct{}
	counts  map[string]*RoleCounts
}

// Resolve computes member records for every role in catalog. Upstream fetch
// failures are counted and logged but do not abort the run; the only error
// returned is a ValidationError raised before the role loop starts. A
// cancelled context yields the records resolved so far with Partial set on
// the report.
func (e *Engine) Resolve(ctx context.Context, catalog []Role, opts Options) ([]MemberRecord, RunReport, error) {
	runID := uuid.New().String()

	if err := e.validate(ctx, catalog, &opts); err != nil {
		return nil, RunReport{RunID: runID}, err
	}

	r := &run{
		engine:  e,
		opts:    opts,
		visited: newVisitedSet(),
		sem:     make(chan struct{}, opts.MaxConcurrentGroups),
		seen:    make(map[string]struct{}),
		counts:  make(map[string]*RoleCounts, len(catalog)),
	}
	r.metrics.startTime = e.now()
	record(e.sink, "resolution.started", map[string]any{
		"runId": runID,
		"roles": len(catalog),
	})

	partial := false
	for _, role := range r.bindCatalog(ctx, catalog) {
		if ctx.Err() != nil {
			partial = true
			break
		}
		r.resolveRole(ctx, role)
	}

	// Single drain point: every queued expansion either completes or observes
	// cancellation and exits before aggregation reads the record set.
	r.wg.Wait()
	if ctx.Err() != nil {
		partial = true
	}

	r.metrics.endTime = e.now()
	records := finalize(r.records, r.counts, opts)
	report := r.metrics.report(runID, r.counts, partial)
	record(e.sink, "resolution.completed", map[string]any{
		"runId":   runID,
		"records": len(records),
		"errors":  report.ProcessingErrors,
		"partial": partial,
	})
	return records, report, nil
}

func (e *Engine) validate(ctx context.Context, catalog []Role, opts *Options) error {
	if e.client == nil {
		return &ValidationError{Reason: "no directory client configured"}
	}
	if len(catalog) == 0 {
		return &ValidationError{Reason: "role catalog is empty"}
	}
	switch opts.Assignments {
	case "", AssignmentsAll, AssignmentsDirect, AssignmentsPIM:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown assignment filter %q", opts.Assignments)}
	}
	if opts.InactiveDays < 0 {
		return &ValidationError{Reason: "inactive days threshold must be zero or positive"}
	}
	if opts.MaxConcurrentGroups <= 0 {
		opts.MaxConcurrentGroups = DefaultMaxConcurrentGroups
	}
	if e.preflight != nil {
		if err := e.preflight(ctx); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("directory connection check failed: %v", err)}
		}
	}
	return nil
}

// bindCatalog fills directory role object IDs for catalog entries that are
// activated in the tenant. PIM lookups key on the template ID and work either
// way, so a failed role listing degrades to PIM-only resolution.
func (r *run) bindCatalog(ctx context.Context, catalog []Role) []Role {
	roles, err := r.engine.client.ListRoles(ctx)
	if err != nil {
		r.fail("directory role listing failed", "", err)
		return catalog
	}

	byTemplate := make(map[string]Role, len(roles))
	for _, role := range roles {
		byTemplate[role.TemplateID] = role
	}

	bound := make([]Role, len(catalog))
	for i, entry := range catalog {
		bound[i] = entry
		if active, ok := byTemplate[entry.TemplateID]; ok {
			bound[i].ID = active.ID
			if bound[i].DisplayName == "" {
				bound[i].DisplayName = active.DisplayName
			}
		}
	}
	return bound
}

func (r *run) resolveRole(ctx context.Context, role Role) {
	counts := &RoleCounts{}
	r.mu.Lock()
	r.counts[role.DisplayName] = counts
	r.mu.Unlock()

	if r.opts.Assignments.includeDirect() {
		if err := r.resolveDirect(ctx, role, counts); err != nil {
			r.fail("direct membership fetch failed", role.DisplayName, err)
		} else {
			r.metrics.directRolesProcessed.Add(1)
		}
	}

	if r.opts.Assignments.includePIM() {
		ok := true
		if err := r.resolveSchedules(ctx, role, counts, SourcePIMEligible); err != nil {
			r.fail("eligibility schedule fetch failed", role.DisplayName, err)
			ok = false
		}
		if err := r.resolveSchedules(ctx, role, counts, SourcePIMActive); err != nil {
			r.fail("assignment schedule fetch failed", role.DisplayName, err)
			ok = false
		}
		if ok {
			r.metrics.pimRolesProcessed.Add(1)
		}
	}
}

func (r *run) resolveDirect(ctx context.Context, role Role, counts *RoleCounts) error {
	if role.ID == "" {
		// Role template never activated in this tenant, so it has no
		// directory role object and no direct members.
		return nil
	}
	members, err := r.engine.client.ListRoleMembers(ctx, role.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing members of %s: %w", role.DisplayName, err)
	}
	for _, member := range members {
		if ctx.Err() != nil {
			return nil
		}
		r.handleAssignment(ctx, role, member, SourceDirect, nil, counts)
	}
	return nil
}

func (r *run) resolveSchedules(ctx context.Context, role Role, counts *RoleCounts, source AssignmentSource) error {
	list := r.engine.client.ListEligibleAssignments
	if source == SourcePIMActive {
		list = r.engine.client.ListActiveAssignments
	}
	entries, err := list(ctx, role.TemplateID)
	if err != nil {
		return fmt.Errorf("listing %s assignments for %s: %w", source, role.DisplayName, err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		r.handleAssignment(ctx, role, entry.Principal, source, entry.window(), counts)
	}
	return nil
}

// handleAssignment processes one assignment-level principal from any stream.
// Counts are incremented here, at the assignment level, so a group counts
// once no matter how many members its expansion later produces.
func (r *run) handleAssignment(ctx context.Context, role Role, principal PrincipalRef, source AssignmentSource, window *Window, counts *RoleCounts) {
	switch principal.Type {
	case PrincipalUser, PrincipalGroup:
	default:
		slog.Debug("skipping unsupported principal type",
			"role", role.DisplayName, "principal", principal.ID, "type", principal.Type)
		return
	}

	counts.add(source)

	if principal.Type == PrincipalUser {
		if err := r.emitUser(ctx, role, principal.ID, source, PathDirect, window); err != nil {
			r.fail("user profile fetch failed", role.DisplayName, err)
		}
		return
	}

	if r.opts.IncludeGroups {
		if err := r.emitGroup(ctx, role, principal.ID, source, window); err != nil {
			r.fail("group details fetch failed", role.DisplayName, err)
		}
	}
	if r.opts.ExpandGroups {
		r.expandAsync(ctx, role, principal.ID, source, window)
	}
}

func (r *run) emitUser(ctx context.Context, role Role, userID string, source AssignmentSource, path string, window *Window) error {
	profile, err := r.engine.client.GetUserProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		// Assignment points at a deleted account.
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching user %s: %w", userID, err)
	}

	rec := MemberRecord{
		RoleName:           role.DisplayName,
		ObjectType:         ObjectTypeUser,
		ObjectID:           profile.ID,
		DisplayName:        profile.DisplayName,
		UserPrincipalName:  profile.UserPrincipalName,
		Email:              profile.Mail,
		Department:         profile.Department,
		JobTitle:           profile.JobTitle,
		AccountEnabled:     profile.AccountEnabled,
		LastSignIn:         "Never",
		DaysSinceSignIn:    NeverSignedIn,
		Created:            formatTimestamp(profile.Created),
		LastPasswordChange: formatTimestamp(profile.LastPasswordChange),
		AssignmentType:     source,
		AssignmentPath:     path,
		EligibilityWindow:  window,
	}
	if profile.LastSignIn != nil {
		rec.LastSignIn = profile.LastSignIn.UTC().Format(time.RFC3339)
		rec.DaysSinceSignIn = daysSince(*profile.LastSignIn, r.engine.now())
	}
	r.append(rec)
	return nil
}

func (r *run) emitGroup(ctx context.Context, role Role, groupID string, source AssignmentSource, window *Window) error {
	details, err := r.engine.client.GetGroupDetails(ctx, groupID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching group %s: %w", groupID, err)
	}
	r.append(MemberRecord{
		RoleName:          role.DisplayName,
		ObjectType:        ObjectTypeGroup,
		ObjectID:          details.ID,
		DisplayName:       details.DisplayName,
		Email:             details.Mail,
		DaysSinceSignIn:   DaysUnknown,
		AssignmentType:    source,
		AssignmentPath:    PathDirect,
		EligibilityWindow: window,
	})
	return nil
}

// append stores a record unless an identical principal was already recorded
// for the same role, stream, path, and schedule window. Diamond-shaped group
// nesting would otherwise produce duplicate user rows, while two distinct
// eligibility schedules for one principal keep their own rows.
func (r *run) append(rec MemberRecord) {
	key := rec.RoleName + "|" + rec.ObjectID + "|" + string(rec.AssignmentType) + "|" + rec.AssignmentPath + "|" + rec.EligibilityWindow.key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}
	r.records = append(r.records, rec)
	r.metrics.totalMembers.Add(1)
}

func (r *run) fail(msg, roleName string, err error) {
	r.metrics.processingErrors.Add(1)
	slog.Warn(msg, "role", roleName, "error", err)
	record(r.engine.sink, "resolution.error", map[string]any{
		"role":  roleName,
		"error": err.Error(),
	})
}
