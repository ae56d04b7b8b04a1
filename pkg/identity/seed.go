package identity

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultRoles returns the canonical default role set. This is the single
// source of truth for seeded permissions; deployments may override it
// with a YAML file via LoadRolesFile.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        RoleAdmin,
			Description: "Full access to every category",
			Permissions: PermissionMap{
				CategoryResources:      {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish},
				CategoryDistributions:  {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
				CategoryLicenses:       {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
				CategoryAccessRequests: {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionReview},
				CategoryAPIKeys:        {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
				CategoryUsageEvents:    {ActionRead},
			},
		},
		{
			Name:        RolePublisher,
			Description: "Manages own resources and their distributions",
			Permissions: PermissionMap{
				CategoryResources:      {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish},
				CategoryDistributions:  {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
				CategoryLicenses:       {ActionRead, ActionUpdate},
				CategoryAccessRequests: {ActionRead},
				CategoryAPIKeys:        {ActionCreate, ActionRead, ActionDelete},
			},
		},
		{
			Name:        RoleDeveloper,
			Description: "Consumes published resources through access requests",
			Permissions: PermissionMap{
				CategoryResources:      {ActionRead},
				CategoryDistributions:  {ActionRead},
				CategoryLicenses:       {ActionRead},
				CategoryAccessRequests: {ActionCreate, ActionRead},
				CategoryAPIKeys:        {ActionCreate, ActionRead, ActionDelete},
			},
		},
		{
			Name:        RoleReviewer,
			Description: "Reviews access requests",
			Permissions: PermissionMap{
				CategoryResources:      {ActionRead},
				CategoryDistributions:  {ActionRead},
				CategoryLicenses:       {ActionRead},
				CategoryAccessRequests: {ActionRead, ActionReview},
				CategoryAPIKeys:        {ActionCreate, ActionRead, ActionDelete},
			},
		},
	}
}

// roleFile is the YAML shape of a role override file
type roleFile struct {
	Roles []struct {
		Name        string              `yaml:"name"`
		Description string              `yaml:"description"`
		Permissions map[string][]string `yaml:"permissions"`
	} `yaml:"roles"`
}

// LoadRolesFile parses a YAML role definition file. Files replace the
// default set entirely so operators see exactly what was seeded.
func LoadRolesFile(path string) ([]Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}

	var parsed roleFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}
	if len(parsed.Roles) == 0 {
		return nil, fmt.Errorf("roles file %s defines no roles", path)
	}

	roles := make([]Role, 0, len(parsed.Roles))
	for _, r := range parsed.Roles {
		perms := make(PermissionMap, len(r.Permissions))
		for category, actions := range r.Permissions {
			list := make([]Action, 0, len(actions))
			for _, a := range actions {
				list = append(list, Action(a))
			}
			perms[Category(category)] = list
		}
		if err := perms.Validate(); err != nil {
			return nil, fmt.Errorf("roles file %s: %w", path, err)
		}
		roles = append(roles, Role{
			Name:        r.Name,
			Description: r.Description,
			Permissions: perms,
		})
	}
	return roles, nil
}

// SeedRoles upserts the given role set, or the defaults when nil
func SeedRoles(ctx context.Context, store *Store, roles []Role) error {
	if roles == nil {
		roles = DefaultRoles()
	}
	for i := range roles {
		if err := store.UpsertRole(ctx, &roles[i]); err != nil {
			return err
		}
	}
	return nil
}
