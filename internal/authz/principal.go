package authz

// Identity is an authenticated and authorized caller, handed to
// downstream handlers after the guard admits a request.
type Identity struct {
	Subject     string
	Roles       []string
	Permissions map[string]struct{}
}

// HasPermission reports whether the identity holds the permission key.
func (id Identity) HasPermission(key string) bool {
	_, ok := id.Permissions[key]
	return ok
}

// PermissionList returns the effective permission keys. Order is not
// specified.
func (id Identity) PermissionList() []string {
	out := make([]string, 0, len(id.Permissions))
	for k := range id.Permissions {
		out = append(out, k)
	}
	return out
}
