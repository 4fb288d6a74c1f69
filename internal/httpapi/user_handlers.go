package httpapi

import (
	"net/http"

	"accessgate.org/internal/audit"
)

// handleMe serves the caller's own account. GET returns the record with
// assigned roles; DELETE deactivates the account and revokes every
// refresh session, the self-service twin of the admin deactivation.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		identity, r, ok := a.authorize(w, r, "")
		if !ok {
			return
		}
		user, roles, err := a.service.GetUser(r.Context(), identity.Subject)
		if err != nil {
			a.handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":        user,
			"roles":       roles,
			"permissions": identity.PermissionList(),
		})
	case http.MethodDelete:
		identity, r, ok := a.authorize(w, r, "")
		if !ok {
			return
		}
		if err := a.service.DeactivateUser(r.Context(), identity.Subject); err != nil {
			a.handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.self_deactivated", map[string]any{"user_id": identity.Subject})
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleMePassword changes the caller's password. The current password
// is required again even though the caller holds a valid access token;
// a stolen token alone must not be enough to lock out the owner.
func (a *API) handleMePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	identity, r, ok := a.authorize(w, r, "")
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.service.ChangePassword(r.Context(), identity.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.password_changed", map[string]any{"user_id": identity.Subject})
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}
