package pim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeDirectory is an in-memory DirectoryClient for engine tests.
type fakeDirectory struct {
	mu sync.Mutex

	roles        []Role
	roleMembers  map[string][]PrincipalRef
	groupMembers map[string][]PrincipalRef
	users        map[string]*UserProfile
	groups       map[string]*GroupDetails
	eligible     map[string][]ScheduleEntry
	active       map[string][]ScheduleEntry

	roleMemberErrs map[string]error
	groupListCalls map[string]int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		roleMembers:    make(map[string][]PrincipalRef),
		groupMembers:   make(map[string][]PrincipalRef),
		users:          make(map[string]*UserProfile),
		groups:         make(map[string]*GroupDetails),
		eligible:       make(map[string][]ScheduleEntry),
		active:         make(map[string][]ScheduleEntry),
		roleMemberErrs: make(map[string]error),
		groupListCalls: make(map[string]int),
	}
}

func (f *fakeDirectory) addUser(id string, lastSignIn *time.Time) {
	enabled := true
	f.users[id] = &UserProfile{
		ID:                id,
		DisplayName:       "User " + id,
		UserPrincipalName: id + "@contoso.test",
		Mail:              id + "@contoso.test",
		AccountEnabled:    &enabled,
		LastSignIn:        lastSignIn,
	}
}

func (f *fakeDirectory) ListRoles(ctx context.Context) ([]Role, error) {
	return f.roles, nil
}

func (f *fakeDirectory) ListRoleMembers(ctx context.Context, roleID string) ([]PrincipalRef, error) {
	if err, ok := f.roleMemberErrs[roleID]; ok {
		return nil, err
	}
	return f.roleMembers[roleID], nil
}

func (f *fakeDirectory) ListGroupMembers(ctx context.Context, groupID string) ([]PrincipalRef, error) {
	f.mu.Lock()
	f.groupListCalls[groupID]++
	f.mu.Unlock()
	members, ok := f.groupMembers[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return members, nil
}

func (f *fakeDirectory) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	profile, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return profile, nil
}

func (f *fakeDirectory) GetGroupDetails(ctx context.Context, groupID string) (*GroupDetails, error) {
	details, ok := f.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	return details, nil
}

func (f *fakeDirectory) ListEligibleAssignments(ctx context.Context, roleDefinitionID string) ([]ScheduleEntry, error) {
	return f.eligible[roleDefinitionID], nil
}

func (f *fakeDirectory) ListActiveAssignments(ctx context.Context, roleDefinitionID string) ([]ScheduleEntry, error) {
	return f.active[roleDefinitionID], nil
}

func (f *fakeDirectory) expansions(groupID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groupListCalls[groupID]
}

func testEngine(dir DirectoryClient) *Engine {
	e := NewEngine(dir)
	e.now = func() time.Time { return testNow }
	return e
}

func daysAgo(days int) *time.Time {
	t := testNow.Add(-time.Duration(days) * 24 * time.Hour)
	return &t
}

// nestedFixture builds one role with a direct user assignment plus a
// PIM-eligible group containing two users and a nested group with one more.
func nestedFixture() (*fakeDirectory, Role) {
	role := Role{ID: "role-obj-1", TemplateID: "tmpl-1", DisplayName: "Global Administrator"}

	dir := newFakeDirectory()
	dir.roles = []Role{role}
	dir.addUser("u-direct", daysAgo(3))
	dir.addUser("u-a", daysAgo(10))
	dir.addUser("u-b", daysAgo(45))
	dir.addUser("u-nested", nil)

	start := testNow.Add(-30 * 24 * time.Hour)
	end := testNow.Add(60 * 24 * time.Hour)

	dir.roleMembers[role.ID] = []PrincipalRef{{ID: "u-direct", Type: PrincipalUser}}
	dir.eligible[role.TemplateID] = []ScheduleEntry{
		{Principal: PrincipalRef{ID: "g-outer", Type: PrincipalGroup}, Start: &start, End: &end},
	}
	dir.groupMembers["g-outer"] = []PrincipalRef{
		{ID: "u-a", Type: PrincipalUser},
		{ID: "u-b", Type: PrincipalUser},
		{ID: "g-inner", Type: PrincipalGroup},
	}
	dir.groupMembers["g-inner"] = []PrincipalRef{{ID: "u-nested", Type: PrincipalUser}}
	dir.groups["g-outer"] = &GroupDetails{ID: "g-outer", DisplayName: "PIM Admins", SecurityEnabled: true}

	return dir, role
}

func findRecord(records []MemberRecord, objectID string) *MemberRecord {
	for i := range records {
		if records[i].ObjectID == objectID {
			return &records[i]
		}
	}
	return nil
}

func TestResolveExpandsNestedGroups(t *testing.T) {
	dir, role := nestedFixture()
	engine := testEngine(dir)

	records, report, err := engine.Resolve(context.Background(), []Role{role}, Options{
		Assignments:  AssignmentsAll,
		ExpandGroups: true,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d: %+v", len(records), records)
	}

	direct := findRecord(records, "u-direct")
	if direct == nil || direct.AssignmentType != SourceDirect || direct.AssignmentPath != PathDirect {
		t.Errorf("unexpected direct record: %+v", direct)
	}

	for _, id := range []string{"u-a", "u-b", "u-nested"} {
		rec := findRecord(records, id)
		if rec == nil {
			t.Fatalf("missing record for %s", id)
		}
		if rec.AssignmentType != SourcePIMEligible {
			t.Errorf("%s: expected assignment type %q, got %q", id, SourcePIMEligible, rec.AssignmentType)
		}
		if rec.AssignmentPath != PathViaGroup {
			t.Errorf("%s: expected path %q, got %q", id, PathViaGroup, rec.AssignmentPath)
		}
		if rec.EligibilityWindow == nil || rec.EligibilityWindow.Start == "" || rec.EligibilityWindow.End == "" {
			t.Errorf("%s: eligibility window not propagated: %+v", id, rec.EligibilityWindow)
		}
	}

	counts, ok := report.RoleCounts[role.DisplayName]
	if !ok {
		t.Fatalf("missing counts for %s", role.DisplayName)
	}
	want := RoleCounts{Direct: 1, PIMEligible: 1, PIMActive: 0, Total: 2}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}
	if report.GroupsExpanded != 2 {
		t.Errorf("groupsExpanded = %d, want 2", report.GroupsExpanded)
	}
	if report.ProcessingErrors != 0 {
		t.Errorf("processingErrors = %d, want 0", report.ProcessingErrors)
	}
}

func TestResolveExpansionDisabled(t *testing.T) {
	dir, role := nestedFixture()

	t.Run("groups dropped by default", func(t *testing.T) {
		records, report, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
			Assignments: AssignmentsAll,
		})
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if len(records) != 1 || records[0].ObjectID != "u-direct" {
			t.Fatalf("expected only the direct user, got %+v", records)
		}
		// The group assignment still counts even though no row was emitted.
		if counts := report.RoleCounts[role.DisplayName]; counts.PIMEligible != 1 {
			t.Errorf("pimEligible = %d, want 1", counts.PIMEligible)
		}
	})

	t.Run("group row when enabled", func(t *testing.T) {
		records, _, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
			Assignments:   AssignmentsAll,
			IncludeGroups: true,
		})
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		group := findRecord(records, "g-outer")
		if group == nil {
			t.Fatalf("expected a group row, got %+v", records)
		}
		if group.ObjectType != ObjectTypeGroup || group.DisplayName != "PIM Admins" {
			t.Errorf("unexpected group row: %+v", group)
		}
		if group.DaysSinceSignIn != DaysUnknown {
			t.Errorf("group daysSinceSignIn = %d, want %d", group.DaysSinceSignIn, DaysUnknown)
		}
	})
}

func TestResolvePartialFailureIsolation(t *testing.T) {
	roleOK := Role{ID: "role-ok", TemplateID: "tmpl-ok", DisplayName: "User Administrator"}
	roleBad := Role{ID: "role-bad", TemplateID: "tmpl-bad", DisplayName: "Exchange Administrator"}

	dir := newFakeDirectory()
	dir.roles = []Role{roleOK, roleBad}
	dir.addUser("u-1", daysAgo(1))
	dir.roleMembers[roleOK.ID] = []PrincipalRef{{ID: "u-1", Type: PrincipalUser}}
	dir.roleMemberErrs[roleBad.ID] = errors.New("throttled")

	records, report, err := testEngine(dir).Resolve(context.Background(), []Role{roleBad, roleOK}, Options{
		Assignments: AssignmentsDirect,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 1 || records[0].ObjectID != "u-1" {
		t.Fatalf("expected the healthy role's record, got %+v", records)
	}
	if report.ProcessingErrors < 1 {
		t.Errorf("processingErrors = %d, want >= 1", report.ProcessingErrors)
	}
	if report.DirectRolesProcessed != 1 {
		t.Errorf("directRolesProcessed = %d, want 1", report.DirectRolesProcessed)
	}
	if _, ok := report.RoleCounts[roleBad.DisplayName]; !ok {
		t.Errorf("failed role should still report counts")
	}
}

func TestResolveGroupCycleTerminates(t *testing.T) {
	role := Role{ID: "role-1", TemplateID: "tmpl-1", DisplayName: "Security Administrator"}

	dir := newFakeDirectory()
	dir.roles = []Role{role}
	dir.addUser("u-a", daysAgo(2))
	dir.addUser("u-b", daysAgo(5))
	dir.eligible[role.TemplateID] = []ScheduleEntry{
		{Principal: PrincipalRef{ID: "g-a", Type: PrincipalGroup}},
	}
	dir.groupMembers["g-a"] = []PrincipalRef{
		{ID: "u-a", Type: PrincipalUser},
		{ID: "g-b", Type: PrincipalGroup},
	}
	dir.groupMembers["g-b"] = []PrincipalRef{
		{ID: "g-a", Type: PrincipalGroup},
		{ID: "u-b", Type: PrincipalUser},
	}

	records, report, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
		Assignments:  AssignmentsPIM,
		ExpandGroups: true,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(records), records)
	}
	if got := dir.expansions("g-a"); got != 1 {
		t.Errorf("g-a expanded %d times, want 1", got)
	}
	if got := dir.expansions("g-b"); got != 1 {
		t.Errorf("g-b expanded %d times, want 1", got)
	}
	if report.GroupsExpanded != 2 {
		t.Errorf("groupsExpanded = %d, want 2", report.GroupsExpanded)
	}
}

func TestResolveDiamondNestingDeduplicates(t *testing.T) {
	role := Role{ID: "role-1", TemplateID: "tmpl-1", DisplayName: "Helpdesk Administrator"}

	dir := newFakeDirectory()
	dir.roles = []Role{role}
	dir.addUser("u-shared", daysAgo(7))
	dir.eligible[role.TemplateID] = []ScheduleEntry{
		{Principal: PrincipalRef{ID: "g-root", Type: PrincipalGroup}},
	}
	dir.groupMembers["g-root"] = []PrincipalRef{
		{ID: "g-left", Type: PrincipalGroup},
		{ID: "g-right", Type: PrincipalGroup},
	}
	dir.groupMembers["g-left"] = []PrincipalRef{{ID: "u-shared", Type: PrincipalUser}}
	dir.groupMembers["g-right"] = []PrincipalRef{{ID: "u-shared", Type: PrincipalUser}}

	records, _, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
		Assignments:  AssignmentsPIM,
		ExpandGroups: true,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 deduplicated record, got %d: %+v", len(records), records)
	}
}

func TestResolveNeverSignedInSentinel(t *testing.T) {
	role := Role{ID: "role-1", TemplateID: "tmpl-1", DisplayName: "Global Administrator"}

	dir := newFakeDirectory()
	dir.roles = []Role{role}
	dir.addUser("u-dormant", nil)
	dir.roleMembers[role.ID] = []PrincipalRef{{ID: "u-dormant", Type: PrincipalUser}}

	records, _, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
		Assignments: AssignmentsDirect,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].LastSignIn != "Never" {
		t.Errorf("lastSignIn = %q, want Never", records[0].LastSignIn)
	}
	if records[0].DaysSinceSignIn != NeverSignedIn {
		t.Errorf("daysSinceSignIn = %d, want sentinel %d", records[0].DaysSinceSignIn, NeverSignedIn)
	}
}

func TestResolveDeletedPrincipalSkippedSilently(t *testing.T) {
	role := Role{ID: "role-1", TemplateID: "tmpl-1", DisplayName: "Global Administrator"}

	dir := newFakeDirectory()
	dir.roles = []Role{role}
	dir.addUser("u-live", daysAgo(1))
	dir.roleMembers[role.ID] = []PrincipalRef{
		{ID: "u-deleted", Type: PrincipalUser},
		{ID: "u-live", Type: PrincipalUser},
	}

	records, report, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
		Assignments: AssignmentsDirect,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 1 || records[0].ObjectID != "u-live" {
		t.Fatalf("expected only the live user, got %+v", records)
	}
	if report.ProcessingErrors != 0 {
		t.Errorf("deleted principals must not count as errors, got %d", report.ProcessingErrors)
	}
	// The assignment itself still counts.
	if counts := report.RoleCounts[role.DisplayName]; counts.Direct != 2 {
		t.Errorf("direct count = %d, want 2", counts.Direct)
	}
}

func TestResolveAssignmentFilters(t *testing.T) {
	role := Role{ID: "role-1", TemplateID: "tmpl-1", DisplayName: "Global Administrator"}

	build := func() *fakeDirectory {
		dir := newFakeDirectory()
		dir.roles = []Role{role}
		dir.addUser("u-direct", daysAgo(1))
		dir.addUser("u-eligible", daysAgo(2))
		dir.addUser("u-active", daysAgo(3))
		dir.roleMembers[role.ID] = []PrincipalRef{{ID: "u-direct", Type: PrincipalUser}}
		dir.eligible[role.TemplateID] = []ScheduleEntry{
			{Principal: PrincipalRef{ID: "u-eligible", Type: PrincipalUser}},
		}
		dir.active[role.TemplateID] = []ScheduleEntry{
			{Principal: PrincipalRef{ID: "u-active", Type: PrincipalUser}},
		}
		return dir
	}

	testCases := []struct {
		filter AssignmentFilter
		want   []string
	}{
		{AssignmentsAll, []string{"u-direct", "u-eligible", "u-active"}},
		{AssignmentsDirect, []string{"u-direct"}},
		{AssignmentsPIM, []string{"u-eligible", "u-active"}},
	}

	for _, tc := range testCases {
		t.Run(string(tc.filter), func(t *testing.T) {
			records, _, err := testEngine(build()).Resolve(context.Background(), []Role{role}, Options{
				Assignments: tc.filter,
			})
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if len(records) != len(tc.want) {
				t.Fatalf("expected %d records, got %d: %+v", len(tc.want), len(records), records)
			}
			for _, id := range tc.want {
				if findRecord(records, id) == nil {
					t.Errorf("missing record for %s", id)
				}
			}
		})
	}
}

func TestResolveValidation(t *testing.T) {
	dir := newFakeDirectory()
	role := Role{TemplateID: "tmpl-1", DisplayName: "Global Administrator"}

	testCases := []struct {
		name    string
		engine  *Engine
		catalog []Role
		opts    Options
	}{
		{"nil client", testEngine(nil), []Role{role}, Options{}},
		{"empty catalog", testEngine(dir), nil, Options{}},
		{"bad filter", testEngine(dir), []Role{role}, Options{Assignments: "everything"}},
		{"negative threshold", testEngine(dir), []Role{role}, Options{InactiveDays: -1}},
		{
			"failing preflight",
			testEngine(dir).WithPreflight(func(ctx context.Context) error { return errors.New("no tenant") }),
			[]Role{role},
			Options{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := tc.engine.Resolve(context.Background(), tc.catalog, tc.opts)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestResolveCancelledContextReturnsPartial(t *testing.T) {
	dir, role := nestedFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, report, err := testEngine(dir).Resolve(ctx, []Role{role}, Options{
		Assignments:  AssignmentsAll,
		ExpandGroups: true,
	})
	if err != nil {
		t.Fatalf("cancellation must not surface as an error, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records from a pre-cancelled run, got %d", len(records))
	}
	if !report.Partial {
		t.Errorf("report should be marked partial")
	}
}

func TestResolvePanickingSinkDoesNotFailRun(t *testing.T) {
	dir, role := nestedFixture()
	engine := testEngine(dir).WithEventSink(panickingSink{})

	records, _, err := engine.Resolve(context.Background(), []Role{role}, Options{
		Assignments:  AssignmentsAll,
		ExpandGroups: true,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 4 {
		t.Errorf("expected 4 records, got %d", len(records))
	}
}

type panickingSink struct{}

func (panickingSink) Record(string, map[string]any) {
	panic("sink exploded")
}

func TestResolveRepeatedRunsYieldSameMembership(t *testing.T) {
	resolve := func() map[string]bool {
		t.Helper()
		dir, role := nestedFixture()
		records, _, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
			Assignments:  AssignmentsAll,
			ExpandGroups: true,
		})
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		keys := make(map[string]bool, len(records))
		for _, rec := range records {
			keys[rec.RoleName+"|"+rec.ObjectID+"|"+string(rec.AssignmentType)+"|"+rec.AssignmentPath] = true
		}
		if len(keys) != len(records) {
			t.Fatalf("records are not unique: %d records, %d keys", len(records), len(keys))
		}
		return keys
	}

	first := resolve()
	second := resolve()
	if len(first) != len(second) {
		t.Fatalf("run sizes differ: %d vs %d", len(first), len(second))
	}
	for key := range first {
		if !second[key] {
			t.Errorf("second run missing %s", key)
		}
	}
}

func TestResolveDistinctEligibilityWindows(t *testing.T) {
	role := Role{ID: "role-1", TemplateID: "tmpl-1", DisplayName: "Global Administrator"}

	dir := newFakeDirectory()
	dir.roles = []Role{role}
	dir.addUser("u-renewed", daysAgo(1))

	expiringStart := testNow.Add(-90 * 24 * time.Hour)
	expiringEnd := testNow.Add(-30 * 24 * time.Hour)
	renewalStart := testNow.Add(-7 * 24 * time.Hour)
	dir.eligible[role.TemplateID] = []ScheduleEntry{
		{Principal: PrincipalRef{ID: "u-renewed", Type: PrincipalUser}, Start: &expiringStart, End: &expiringEnd},
		{Principal: PrincipalRef{ID: "u-renewed", Type: PrincipalUser}, Start: &renewalStart},
	}

	records, report, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
		Assignments: AssignmentsPIM,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected one row per schedule, got %d: %+v", len(records), records)
	}
	if records[0].EligibilityWindow.key() == records[1].EligibilityWindow.key() {
		t.Errorf("rows should carry distinct windows: %+v vs %+v",
			records[0].EligibilityWindow, records[1].EligibilityWindow)
	}
	if counts := report.RoleCounts[role.DisplayName]; counts.PIMEligible != 2 {
		t.Errorf("pimEligible = %d, want 2", counts.PIMEligible)
	}
}

func TestResolveSkipsUnactivatedRole(t *testing.T) {
	role := Role{TemplateID: "tmpl-cold", DisplayName: "Intune Administrator"}

	dir := newFakeDirectory()
	dir.addUser("u-eligible", daysAgo(4))
	dir.eligible[role.TemplateID] = []ScheduleEntry{
		{Principal: PrincipalRef{ID: "u-eligible", Type: PrincipalUser}},
	}

	records, report, err := testEngine(dir).Resolve(context.Background(), []Role{role}, Options{
		Assignments: AssignmentsAll,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(records) != 1 || records[0].ObjectID != "u-eligible" {
		t.Fatalf("expected the PIM record only, got %+v", records)
	}
	if report.ProcessingErrors != 0 {
		t.Errorf("unactivated role must not count as an error, got %d", report.ProcessingErrors)
	}
}
