package auth

import (
	"context"
	"errors"
)

// Permission represents an access level
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionDelete  Permission = "delete"
	PermissionApprove Permission = "approve"
)

// Principal represents an authenticated buyer/advertiser with permissions
// and its per-backend account identifiers. Loaded once per request from
// storage and immutable for the request's duration.
type Principal struct {
	PrincipalID string                  `json:"principal_id"`
	Name        string                  `json:"name"`
	Permissions map[string][]Permission `json:"permissions"`
	APIKey      string                  `json:"-"` // Don't expose in JSON

	// PlatformMappings maps a backend platform name to its account
	// identifiers, e.g. {"kevel": {"advertiser_id": "123"}}.
	PlatformMappings map[string]map[string]string `json:"platform_mappings,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// MappingFor returns the backend account identifiers for a platform, or
// false when the principal has no mapping for it.
func (p *Principal) MappingFor(platform string) (map[string]string, bool) {
	if p == nil || p.PlatformMappings == nil {
		return nil, false
	}
	m, ok := p.PlatformMappings[platform]
	return m, ok
}

// HasPermission checks if a principal has a specific permission for a resource
func (p *Principal) HasPermission(resource string, permission Permission) bool {
	if p == nil || p.Permissions == nil {
		return false
	}

	perms, ok := p.Permissions[resource]
	if !ok {
		return false
	}

	for _, perm := range perms {
		if perm == permission {
			return true
		}
	}

	return false
}

// ErrAuthRequired marks an operation that demands an authenticated caller.
var ErrAuthRequired = errors.New("authentication required")

// RequiredPermissions defines what permissions are needed for each operation
var RequiredPermissions = map[string]map[string]Permission{
	"get_products": {
		"products": PermissionRead,
	},
	"create_media_buy": {
		"media_buys": PermissionWrite,
	},
	"update_media_buy": {
		"media_buys": PermissionWrite,
	},
	"check_media_buy_status": {
		"media_buys": PermissionRead,
	},
	"add_creative_assets": {
		"creatives": PermissionWrite,
	},
	"associate_creatives": {
		"creatives": PermissionWrite,
	},
	"get_media_buy_delivery": {
		"reports": PermissionRead,
	},
	"update_media_buy_performance_index": {
		"reports": PermissionWrite,
	},
}

// CheckOperationPermissions verifies if a principal has all required permissions for an operation
func CheckOperationPermissions(principal *Principal, operation string) error {
	requiredPerms, ok := RequiredPermissions[operation]
	if !ok {
		// If no permissions defined, allow access (for public operations)
		return nil
	}

	if principal == nil {
		return ErrAuthRequired
	}

	for resource, requiredPerm := range requiredPerms {
		if !principal.HasPermission(resource, requiredPerm) {
			return &InsufficientPermissionsError{
				Resource:   resource,
				Permission: requiredPerm,
				Operation:  operation,
			}
		}
	}

	return nil
}

// InsufficientPermissionsError represents a permission denied error
type InsufficientPermissionsError struct {
	Resource   string
	Permission Permission
	Operation  string
}

func (e *InsufficientPermissionsError) Error() string {
	return "insufficient permissions for operation"
}

// Context keys
type contextKey string

const (
	ContextKeyPrincipal contextKey = "principal"
	ContextKeyDryRun    contextKey = "dry_run"
)

// GetPrincipalFromContext retrieves the principal from context
func GetPrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(ContextKeyPrincipal).(*Principal)
	return principal, ok
}

// IsDryRun checks if the request is in dry-run mode
func IsDryRun(ctx context.Context) bool {
	dryRun, ok := ctx.Value(ContextKeyDryRun).(bool)
	return ok && dryRun
}
