package pim

import (
	"context"
	"math"
	"time"
)

// PrincipalType classifies a directory object returned from a role or group
// membership listing.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "User"
	PrincipalGroup PrincipalType = "Group"
	PrincipalOther PrincipalType = "Other"
)

// AssignmentSource identifies which assignment stream produced a record.
type AssignmentSource string

const (
	SourceDirect      AssignmentSource = "Direct"
	SourcePIMEligible AssignmentSource = "PIM Eligible"
	SourcePIMActive   AssignmentSource = "PIM Active"
)

// Assignment path values for MemberRecord.AssignmentPath.
const (
	PathDirect   = "Direct"
	PathViaGroup = "Via Group"
)

// Object type values for MemberRecord.ObjectType.
const (
	ObjectTypeUser    = "User"
	ObjectTypeGroup   = "Group"
	ObjectTypeSummary = "Summary"
)

// NeverSignedIn is the DaysSinceSignIn value for accounts with no recorded
// sign-in. Any finite inactivity threshold excludes it.
const NeverSignedIn = math.MaxInt32

// DaysUnknown marks rows where sign-in age does not apply (groups, summaries).
const DaysUnknown = -1

// DefaultMaxConcurrentGroups bounds background group expansions when the
// caller does not set a limit.
const DefaultMaxConcurrentGroups = 5

// Role is a privileged directory role. TemplateID is the well-known role
// template ID used by the PIM schedule APIs. ID is the directory role object
// ID in the tenant and is empty until the role template has been activated.
type Role struct {
	ID          string `json:"id,omitempty"`
	TemplateID  string `json:"templateId"`
	DisplayName string `json:"displayName"`
}

// PrincipalRef is a minimal reference to a directory object.
type PrincipalRef struct {
	ID   string        `json:"id"`
	Type PrincipalType `json:"type"`
}

// ScheduleEntry is one PIM eligibility or assignment schedule row.
type ScheduleEntry struct {
	Principal PrincipalRef
	Start     *time.Time
	End       *time.Time
}

// window returns the schedule bounds, or nil when the entry carries none.
func (s ScheduleEntry) window() *Window {
	if s.Start == nil && s.End == nil {
		return nil
	}
	return &Window{Start: formatTimestamp(s.Start), End: formatTimestamp(s.End)}
}

// Window is the validity window of a PIM schedule. An empty End means the
// assignment is permanent.
type Window struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// key distinguishes otherwise identical records that hold separate schedules,
// such as an expiring eligibility alongside its renewal.
func (w *Window) key() string {
	if w == nil {
		return ""
	}
	return w.Start + "|" + w.End
}

// UserProfile holds the user attributes projected into member records.
type UserProfile struct {
	ID                 string
	DisplayName        string
	UserPrincipalName  string
	Mail               string
	Department         string
	JobTitle           string
	AccountEnabled     *bool
	LastSignIn         *time.Time
	Created            *time.Time
	LastPasswordChange *time.Time
}

// GroupDetails holds the group attributes projected into member records.
type GroupDetails struct {
	ID              string
	DisplayName     string
	Mail            string
	SecurityEnabled bool
	RoleAssignable  bool
}

// MemberRecord is one resolved membership row. ObjectType selects which
// fields are populated: User rows carry profile and sign-in data, Group rows
// identify an unexpanded group assignment, Summary rows carry per-role counts.
type MemberRecord struct {
	RoleName           string           `json:"roleName"`
	ObjectType         string           `json:"objectType"`
	ObjectID           string           `json:"objectId,omitempty"`
	DisplayName        string           `json:"displayName"`
	UserPrincipalName  string           `json:"userPrincipalName,omitempty"`
	Email              string           `json:"email,omitempty"`
	Department         string           `json:"department,omitempty"`
	JobTitle           string           `json:"jobTitle,omitempty"`
	AccountEnabled     *bool            `json:"accountEnabled,omitempty"`
	LastSignIn         string           `json:"lastSignInTime,omitempty"`
	DaysSinceSignIn    int              `json:"daysSinceSignIn"`
	Created            string           `json:"createdTime,omitempty"`
	LastPasswordChange string           `json:"lastPasswordChangeTime,omitempty"`
	AssignmentType     AssignmentSource `json:"assignmentType,omitempty"`
	AssignmentPath     string           `json:"assignmentPath,omitempty"`
	EligibilityWindow  *Window          `json:"eligibilityWindow,omitempty"`
	Counts             *RoleCounts      `json:"counts,omitempty"`
}

// RoleCounts tracks assignment-level counts for one role. Group assignments
// count once regardless of how many members expansion later produces.
type RoleCounts struct {
	Direct      int `json:"direct"`
	PIMEligible int `json:"pimEligible"`
	PIMActive   int `json:"pimActive"`
	Total       int `json:"total"`
}

func (c *RoleCounts) add(source AssignmentSource) {
	switch source {
	case SourceDirect:
		c.Direct++
	case SourcePIMEligible:
		c.PIMEligible++
	case SourcePIMActive:
		c.PIMActive++
	}
}

// AssignmentFilter selects which assignment streams a run resolves.
type AssignmentFilter string

const (
	AssignmentsAll    AssignmentFilter = "all"
	AssignmentsDirect AssignmentFilter = "direct"
	AssignmentsPIM    AssignmentFilter = "pim"
)

func (f AssignmentFilter) includeDirect() bool {
	return f == AssignmentsAll || f == AssignmentsDirect || f == ""
}

func (f AssignmentFilter) includePIM() bool {
	return f == AssignmentsAll || f == AssignmentsPIM || f == ""
}

// Options configure a single Resolve run.
type Options struct {
	Assignments         AssignmentFilter
	ExpandGroups        bool
	IncludeGroups       bool
	InactiveDays        int
	IncludeSummaries    bool
	MaxConcurrentGroups int
}

// DirectoryClient abstracts the directory reads the engine performs. Lookups
// for objects that no longer exist return an error wrapping ErrNotFound.
type DirectoryClient interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListRoleMembers(ctx context.Context, roleID string) ([]PrincipalRef, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]PrincipalRef, error)
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
	GetGroupDetails(ctx context.Context, groupID string) (*GroupDetails, error)
	ListEligibleAssignments(ctx context.Context, roleDefinitionID string) ([]ScheduleEntry, error)
	ListActiveAssignments(ctx context.Context, roleDefinitionID string) ([]ScheduleEntry, error)
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func daysSince(t, now time.Time) int {
	days := int(now.Sub(t).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
