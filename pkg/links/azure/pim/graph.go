package pim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/groups"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/rolemanagement"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"golang.org/x/time/rate"
)

// graphRequestsPerSecond keeps directory reads under the Graph service
// throttling budget. Expansion goroutines share one limiter.
const graphRequestsPerSecond = 15

var userProfileSelect = []string{
	"id", "displayName", "userPrincipalName", "mail", "department", "jobTitle",
	"accountEnabled", "createdDateTime", "lastPasswordChangeDateTime", "signInActivity",
}

// GraphClient implements DirectoryClient over the Microsoft Graph SDK.
type GraphClient struct {
	client  *msgraphsdk.GraphServiceClient
	limiter *rate.Limiter
}

func NewGraphClient(client *msgraphsdk.GraphServiceClient) *GraphClient {
	return &GraphClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(graphRequestsPerSecond), 1),
	}
}

// VerifyAccess confirms the credential can read the tenant. The engine runs
// this as its preflight so a bad credential fails before the role loop.
func (g *GraphClient) VerifyAccess(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	org, err := g.client.Organization().Get(ctx, nil)
	if err != nil {
		return normalizeGraphError(err)
	}
	if orgs := org.GetValue(); len(orgs) > 0 {
		slog.Debug("verified tenant access", "tenant", stringValue(orgs[0].GetId()))
	}
	return nil
}

func (g *GraphClient) ListRoles(ctx context.Context) ([]Role, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	response, err := g.client.DirectoryRoles().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing directory roles: %w", normalizeGraphError(err))
	}

	var roles []Role
	for {
		for _, dirRole := range response.GetValue() {
			roles = append(roles, Role{
				ID:          stringValue(dirRole.GetId()),
				TemplateID:  stringValue(dirRole.GetRoleTemplateId()),
				DisplayName: stringValue(dirRole.GetDisplayName()),
			})
		}
		next := response.GetOdataNextLink()
		if next == nil || *next == "" {
			break
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		response, err = g.client.DirectoryRoles().WithUrl(*next).Get(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("paging directory roles: %w", normalizeGraphError(err))
		}
	}
	return roles, nil
}

func (g *GraphClient) ListRoleMembers(ctx context.Context, roleID string) ([]PrincipalRef, error) {
	if roleID == "" {
		return nil, ErrNotFound
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	response, err := g.client.DirectoryRoles().ByDirectoryRoleId(roleID).Members().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing members of role %s: %w", roleID, normalizeGraphError(err))
	}

	var members []PrincipalRef
	for {
		for _, obj := range response.GetValue() {
			members = append(members, classifyPrincipal(obj))
		}
		next := response.GetOdataNextLink()
		if next == nil || *next == "" {
			break
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		response, err = g.client.DirectoryRoles().ByDirectoryRoleId(roleID).Members().WithUrl(*next).Get(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("paging members of role %s: %w", roleID, normalizeGraphError(err))
		}
	}
	return members, nil
}

func (g *GraphClient) ListGroupMembers(ctx context.Context, groupID string) ([]PrincipalRef, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	requestConfig := &groups.ItemMembersRequestBuilderGetRequestConfiguration{
		QueryParameters: &groups.ItemMembersRequestBuilderGetQueryParameters{
			Top: int32Ptr(999),
		},
	}
	response, err := g.client.Groups().ByGroupId(groupID).Members().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("listing members of group %s: %w", groupID, normalizeGraphError(err))
	}

	pageIterator, err := msgraphcore.NewPageIterator[models.DirectoryObjectable](
		response, g.client.GetAdapter(), models.CreateDirectoryObjectCollectionResponseFromDiscriminatorValue)
	if err != nil {
		return nil, fmt.Errorf("creating member iterator for group %s: %w", groupID, err)
	}

	var members []PrincipalRef
	err = pageIterator.Iterate(ctx, func(obj models.DirectoryObjectable) bool {
		members = append(members, classifyPrincipal(obj))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("paging members of group %s: %w", groupID, normalizeGraphError(err))
	}
	return members, nil
}

func (g *GraphClient) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	requestConfig := &users.UserItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.UserItemRequestBuilderGetQueryParameters{
			Select: userProfileSelect,
		},
	}
	user, err := g.client.Users().ByUserId(userID).Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", userID, normalizeGraphError(err))
	}

	profile := &UserProfile{
		ID:                 stringValue(user.GetId()),
		DisplayName:        stringValue(user.GetDisplayName()),
		UserPrincipalName:  stringValue(user.GetUserPrincipalName()),
		Mail:               stringValue(user.GetMail()),
		Department:         stringValue(user.GetDepartment()),
		JobTitle:           stringValue(user.GetJobTitle()),
		AccountEnabled:     user.GetAccountEnabled(),
		Created:            user.GetCreatedDateTime(),
		LastPasswordChange: user.GetLastPasswordChangeDateTime(),
	}
	if activity := user.GetSignInActivity(); activity != nil {
		profile.LastSignIn = latestTime(
			activity.GetLastSignInDateTime(),
			activity.GetLastNonInteractiveSignInDateTime())
	}
	return profile, nil
}

func (g *GraphClient) GetGroupDetails(ctx context.Context, groupID string) (*GroupDetails, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	requestConfig := &groups.GroupItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &groups.GroupItemRequestBuilderGetQueryParameters{
			Select: []string{"id", "displayName", "mail", "securityEnabled", "isAssignableToRole"},
		},
	}
	group, err := g.client.Groups().ByGroupId(groupID).Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("fetching group %s: %w", groupID, normalizeGraphError(err))
	}
	return &GroupDetails{
		ID:              stringValue(group.GetId()),
		DisplayName:     stringValue(group.GetDisplayName()),
		Mail:            stringValue(group.GetMail()),
		SecurityEnabled: boolValue(group.GetSecurityEnabled()),
		RoleAssignable:  boolValue(group.GetIsAssignableToRole()),
	}, nil
}

func (g *GraphClient) ListEligibleAssignments(ctx context.Context, roleDefinitionID string) ([]ScheduleEntry, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	requestConfig := &rolemanagement.DirectoryRoleEligibilitySchedulesRequestBuilderGetRequestConfiguration{
		QueryParameters: &rolemanagement.DirectoryRoleEligibilitySchedulesRequestBuilderGetQueryParameters{
			Filter: strPtr(fmt.Sprintf("roleDefinitionId eq '%s'", roleDefinitionID)),
			Expand: []string{"principal"},
		},
	}
	response, err := g.client.RoleManagement().Directory().RoleEligibilitySchedules().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("listing eligibility schedules: %w", normalizeGraphError(err))
	}

	var entries []ScheduleEntry
	for {
		for _, schedule := range response.GetValue() {
			entries = append(entries, ScheduleEntry{
				Principal: schedulePrincipal(schedule.GetPrincipalId(), schedule.GetPrincipal()),
				Start:     scheduleStart(schedule.GetScheduleInfo()),
				End:       scheduleEnd(schedule.GetScheduleInfo()),
			})
		}
		next := response.GetOdataNextLink()
		if next == nil || *next == "" {
			break
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		response, err = g.client.RoleManagement().Directory().RoleEligibilitySchedules().WithUrl(*next).Get(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("paging eligibility schedules: %w", normalizeGraphError(err))
		}
	}
	return entries, nil
}

func (g *GraphClient) ListActiveAssignments(ctx context.Context, roleDefinitionID string) ([]ScheduleEntry, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	requestConfig := &rolemanagement.DirectoryRoleAssignmentSchedulesRequestBuilderGetRequestConfiguration{
		QueryParameters: &rolemanagement.DirectoryRoleAssignmentSchedulesRequestBuilderGetQueryParameters{
			Filter: strPtr(fmt.Sprintf("roleDefinitionId eq '%s'", roleDefinitionID)),
			Expand: []string{"principal"},
		},
	}
	response, err := g.client.RoleManagement().Directory().RoleAssignmentSchedules().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("listing assignment schedules: %w", normalizeGraphError(err))
	}

	var entries []ScheduleEntry
	for {
		for _, schedule := range response.GetValue() {
			// Permanent assignments surface through the direct stream;
			// only PIM activations count as active here.
			if stringValue(schedule.GetAssignmentType()) == "Assigned" {
				continue
			}
			entries = append(entries, ScheduleEntry{
				Principal: schedulePrincipal(schedule.GetPrincipalId(), schedule.GetPrincipal()),
				Start:     scheduleStart(schedule.GetScheduleInfo()),
				End:       scheduleEnd(schedule.GetScheduleInfo()),
			})
		}
		next := response.GetOdataNextLink()
		if next == nil || *next == "" {
			break
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		response, err = g.client.RoleManagement().Directory().RoleAssignmentSchedules().WithUrl(*next).Get(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("paging assignment schedules: %w", normalizeGraphError(err))
		}
	}
	return entries, nil
}

func classifyPrincipal(obj models.DirectoryObjectable) PrincipalRef {
	ref := PrincipalRef{ID: stringValue(obj.GetId()), Type: PrincipalOther}
	switch obj.(type) {
	case models.Userable:
		ref.Type = PrincipalUser
	case models.Groupable:
		ref.Type = PrincipalGroup
	}
	return ref
}

// schedulePrincipal prefers the expanded principal object for typing; the
// bare principalId is the fallback when $expand was not honored.
func schedulePrincipal(principalID *string, principal models.DirectoryObjectable) PrincipalRef {
	ref := PrincipalRef{ID: stringValue(principalID), Type: PrincipalOther}
	if principal != nil {
		expanded := classifyPrincipal(principal)
		if expanded.ID == "" {
			expanded.ID = ref.ID
		}
		ref = expanded
	}
	return ref
}

func scheduleStart(info models.RequestScheduleable) *time.Time {
	if info == nil {
		return nil
	}
	return info.GetStartDateTime()
}

func scheduleEnd(info models.RequestScheduleable) *time.Time {
	if info == nil {
		return nil
	}
	expiration := info.GetExpiration()
	if expiration == nil {
		return nil
	}
	return expiration.GetEndDateTime()
}

// normalizeGraphError maps Graph OData errors onto the engine's sentinels.
func normalizeGraphError(err error) error {
	var odataErr *odataerrors.ODataError
	if !errors.As(err, &odataErr) {
		return err
	}
	if odataErr.ResponseStatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if mainErr := odataErr.GetErrorEscaped(); mainErr != nil {
		code := stringValue(mainErr.GetCode())
		if code == "Request_ResourceNotFound" {
			return ErrNotFound
		}
		return fmt.Errorf("graph error %s: %s", code, stringValue(mainErr.GetMessage()))
	}
	return err
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolValue(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func int32Ptr(i int32) *int32 {
	return &i
}

func strPtr(s string) *string {
	return &s
}

func latestTime(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}
