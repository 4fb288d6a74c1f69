package authz

import "fmt"

// PermissionKey builds the canonical permission identifier for a
// resource and action pair.
func PermissionKey(resource, action string) string {
	return fmt.Sprintf("%s:%s", resource, action)
}

const (
	PermDocumentsRead   = "documents:read"
	PermDocumentsCreate = "documents:create"
	PermDocumentsEdit   = "documents:edit"
	PermDocumentsDelete = "documents:delete"

	PermReportsRead   = "reports:read"
	PermReportsCreate = "reports:create"
	PermReportsExport = "reports:export"

	PermProfilesRead = "profiles:read"
	PermProfilesEdit = "profiles:edit"

	PermAdminUsers  = "admin:users"
	PermAdminRoles  = "admin:roles"
	PermAdminSystem = "admin:system"
)

// BuiltinPermissions is the immutable permission catalog. Ensured in the
// store at startup; entries are never removed.
var BuiltinPermissions = []Permission{
	{Key: PermDocumentsRead, Description: "Read documents"},
	{Key: PermDocumentsCreate, Description: "Create documents"},
	{Key: PermDocumentsEdit, Description: "Edit documents"},
	{Key: PermDocumentsDelete, Description: "Delete documents"},
	{Key: PermReportsRead, Description: "View reports"},
	{Key: PermReportsCreate, Description: "Create reports"},
	{Key: PermReportsExport, Description: "Export reports"},
	{Key: PermProfilesRead, Description: "View user profiles"},
	{Key: PermProfilesEdit, Description: "Edit user profiles"},
	{Key: PermAdminUsers, Description: "Manage users"},
	{Key: PermAdminRoles, Description: "Manage roles and permissions"},
	{Key: PermAdminSystem, Description: "Change system configuration"},
}
