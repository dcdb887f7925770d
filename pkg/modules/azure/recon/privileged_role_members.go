package recon

import (
	"github.com/praetorian-inc/entrascope/internal/registry"
	"github.com/praetorian-inc/entrascope/pkg/links/azure"
	"github.com/praetorian-inc/entrascope/pkg/links/azure/pim"
	"github.com/praetorian-inc/entrascope/pkg/outputters"
	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"
)

var AzurePrivilegedRoleMembers = chain.NewModule(
	cfg.NewMetadata(
		"Privileged Role Members",
		"Resolve the effective membership of privileged Entra ID directory roles across direct assignments and PIM eligibility and activation schedules, recursively expanding group grants into individual users.",
	).WithProperties(map[string]any{
		"id":          "privileged-role-members",
		"platform":    "azure",
		"opsec_level": "stealth",
		"authors":     []string{"Praetorian"},
		"references": []string{
			"https://learn.microsoft.com/en-us/graph/api/rbacapplication-list-roleeligibilityschedules",
			"https://learn.microsoft.com/en-us/graph/api/rbacapplication-list-roleassignmentschedules",
			"https://learn.microsoft.com/en-us/entra/identity/role-based-access-control/privileged-roles-permissions",
		},
	}),
).WithLinks(
	pim.NewAzurePrivilegedRoleMembersLink,
	azure.NewAzurePrivilegedRoleMembersOutputFormatterLink,
).WithOutputters(
	outputters.NewMarkdownTableConsoleOutputter,
	outputters.NewRuntimeJSONOutputter,
).WithConfigs(
	cfg.WithArg("output", "./entrascope-output"),
).WithAutoRun()

func init() {
	registry.Register("azure", "recon", "privileged-role-members", *AzurePrivilegedRoleMembers)
}
