package httpapi

import (
	"net/http"
	"strings"

	"accessgate.org/internal/audit"
	"accessgate.org/internal/authz"
)

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	_, r, ok := a.authorize(w, r, authz.PermAdminUsers)
	if !ok {
		return
	}
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleAdminUserScoped routes /v1/admin/users/{id}/... requests:
//
//	POST   /v1/admin/users/{id}/deactivate
//	POST   /v1/admin/users/{id}/roles
//	DELETE /v1/admin/users/{id}/roles/{roleID}
func (a *API) handleAdminUserScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		_, r, ok := a.authorize(w, r, authz.PermAdminUsers)
		if !ok {
			return
		}
		if err := a.service.DeactivateUser(r.Context(), userID); err != nil {
			a.handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.deactivated", map[string]any{"user_id": userID})
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})

	case len(parts) == 2 && parts[1] == "roles" && r.Method == http.MethodPost:
		_, r, ok := a.authorize(w, r, authz.PermAdminRoles)
		if !ok {
			return
		}
		var req struct {
			RoleID string `json:"role_id"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.service.AssignRole(r.Context(), userID, req.RoleID); err != nil {
			a.handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.assigned", map[string]any{
			"user_id": userID, "role_id": req.RoleID,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})

	case len(parts) == 3 && parts[1] == "roles" && r.Method == http.MethodDelete:
		_, r, ok := a.authorize(w, r, authz.PermAdminRoles)
		if !ok {
			return
		}
		roleID := parts[2]
		if err := a.service.RemoveRole(r.Context(), userID, roleID); err != nil {
			a.handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.removed", map[string]any{
			"user_id": userID, "role_id": roleID,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})

	default:
		http.NotFound(w, r)
	}
}

// handleAdminStats reports account and catalog counts.
func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	_, r, ok := a.authorize(w, r, authz.PermAdminSystem)
	if !ok {
		return
	}
	stats, err := a.service.Stats(r.Context())
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleAdminRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		_, r, ok := a.authorize(w, r, authz.PermAdminRoles)
		if !ok {
			return
		}
		roles, err := a.service.ListRoles(r.Context())
		if err != nil {
			a.handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		_, r, ok := a.authorize(w, r, authz.PermAdminRoles)
		if !ok {
			return
		}
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.service.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			a.handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.created", map[string]any{"role_id": role.ID, "name": role.Name})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleAdminRoleScoped routes PUT /v1/admin/roles/{id}/permissions.
func (a *API) handleAdminRoleScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/roles/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	_, r, ok := a.authorize(w, r, authz.PermAdminRoles)
	if !ok {
		return
	}
	roleID := parts[0]
	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.service.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.permissions_replaced", map[string]any{
		"role_id": roleID, "count": len(req.Permissions),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
