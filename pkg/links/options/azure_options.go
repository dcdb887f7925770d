package options

import (
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"
)

func AzureRoles() cfg.Param {
	return cfg.NewParam[[]string]("roles", "privileged role display names to audit (default: built-in catalog)").
		WithShortcode("r")
}

func AzureAssignmentTypes() cfg.Param {
	return cfg.NewParam[string]("assignment-types", "assignment sources to include: all, direct, or pim").
		WithDefault("all").
		WithShortcode("a")
}

func AzureExpandGroups() cfg.Param {
	return cfg.NewParam[bool]("expand-groups", "recursively expand group assignments into user rows").
		WithDefault(true)
}

func AzureIncludeGroups() cfg.Param {
	return cfg.NewParam[bool]("include-groups", "emit a row for each group assignment in addition to expansion").
		WithDefault(false)
}

func AzureInactiveDays() cfg.Param {
	return cfg.NewParam[int]("inactive-days", "only keep users who signed in within this many days (0 disables the filter)").
		WithDefault(0)
}

func AzureSummaries() cfg.Param {
	return cfg.NewParam[bool]("summaries", "append per-role assignment count summary rows").
		WithDefault(false)
}

func AzureWorkerCount() cfg.Param {
	return cfg.NewParam[int]("workers", "maximum concurrent group expansions").
		WithDefault(5).
		WithShortcode("w")
}

func OutputDir() cfg.Param {
	return cfg.NewParam[string]("output", "directory to write output files to").
		WithDefault("entrascope-output").
		WithShortcode("o")
}
