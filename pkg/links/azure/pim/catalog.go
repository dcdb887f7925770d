package pim

import "strings"

// DefaultCatalog returns the built-in privileged role catalog, keyed by
// well-known Entra directory role template IDs. Directory role object IDs are
// bound at run time because a template only gets an object ID once it has
// been activated in the tenant.
func DefaultCatalog() []Role {
	return []Role{
		{TemplateID: "62e90394-69f5-4237-9190-012177145e10", DisplayName: "Global Administrator"},
		{TemplateID: "e8611ab8-c189-46e8-94e1-60213ab1f814", DisplayName: "Privileged Role Administrator"},
		{TemplateID: "7be44c8a-adaf-4e2a-84d6-ab2649e08a13", DisplayName: "Privileged Authentication Administrator"},
		{TemplateID: "194ae4cb-b126-40b2-bd5b-6091b380977d", DisplayName: "Security Administrator"},
		{TemplateID: "b1be1c3e-b65d-4f19-8427-f6fa0d97feb9", DisplayName: "Conditional Access Administrator"},
		{TemplateID: "9b895d92-2cd3-44c7-9d02-a6ac2d5ea5c3", DisplayName: "Application Administrator"},
		{TemplateID: "158c047a-c907-4556-b7ef-446551a6b5f7", DisplayName: "Cloud Application Administrator"},
		{TemplateID: "fe930be7-5e62-47db-91af-98c3a49a38b1", DisplayName: "User Administrator"},
		{TemplateID: "966707d0-3269-4727-9be2-8c3a10f19b9d", DisplayName: "Password Administrator"},
		{TemplateID: "c4e39bd9-1100-46d3-8c65-fb160da0071f", DisplayName: "Authentication Administrator"},
		{TemplateID: "729827e3-9c14-49f7-bb1b-9608f156bbb8", DisplayName: "Helpdesk Administrator"},
		{TemplateID: "29232cdf-9323-42fd-ade2-1d097af3e4de", DisplayName: "Exchange Administrator"},
		{TemplateID: "f28a1f50-f6e7-4571-818b-6a12f2af6b6c", DisplayName: "SharePoint Administrator"},
		{TemplateID: "3a2c62db-5318-420d-8d74-23affee5d9d5", DisplayName: "Intune Administrator"},
		{TemplateID: "8ac3fc64-6eca-42ea-9e69-59f4c7b60eb2", DisplayName: "Hybrid Identity Administrator"},
		{TemplateID: "7698a772-787b-4ac8-901f-60d6b08affd2", DisplayName: "Cloud Device Administrator"},
		{TemplateID: "fdd7a751-b60b-444a-984c-02652fe8fa1c", DisplayName: "Groups Administrator"},
		{TemplateID: "b0f54661-2d74-4c50-afa3-1ec803f12efe", DisplayName: "Billing Administrator"},
	}
}

// FilterCatalog returns the catalog entries whose display names match names,
// case-insensitively, preserving catalog order. The second return value lists
// names that matched nothing.
func FilterCatalog(catalog []Role, names []string) ([]Role, []string) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[strings.ToLower(strings.TrimSpace(name))] = false
	}

	var matched []Role
	for _, role := range catalog {
		key := strings.ToLower(role.DisplayName)
		if _, ok := wanted[key]; ok {
			wanted[key] = true
			matched = append(matched, role)
		}
	}

	var unknown []string
	for _, name := range names {
		if !wanted[strings.ToLower(strings.TrimSpace(name))] {
			unknown = append(unknown, name)
		}
	}
	return matched, unknown
}
