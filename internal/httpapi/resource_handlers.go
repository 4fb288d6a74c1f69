package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"accessgate.org/internal/authz"
)

// handlePermissions lists the permission catalog. Any authenticated
// caller may read it.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	_, r, ok := a.authorize(w, r, "")
	if !ok {
		return
	}
	perms, err := a.service.ListPermissions(r.Context())
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// handlePermissionCheck answers "may I perform action on resource" for
// the calling identity without performing the action.
func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, r, ok := a.authorize(w, r, "")
	if !ok {
		return
	}
	resource := r.URL.Query().Get("resource")
	action := r.URL.Query().Get("action")
	allowed, perms, err := a.service.CheckPermission(r.Context(), identity.Subject, resource, action)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	sort.Strings(perms)
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":     allowed,
		"permission":  authz.PermissionKey(resource, action),
		"permissions": perms,
	})
}

// Sample protected resources. They carry no state of their own; the
// point is which permission each route demands.

func (a *API) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		identity, _, ok := a.authorize(w, r, authz.PermDocumentsRead)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"documents": []string{},
			"subject":   identity.Subject,
		})
	case http.MethodPost:
		identity, _, ok := a.authorize(w, r, authz.PermDocumentsCreate)
		if !ok {
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"status":  "created",
			"subject": identity.Subject,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleDocumentScoped routes DELETE /v1/documents/{id}.
func (a *API) handleDocumentScoped(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	identity, _, ok := a.authorize(w, r, authz.PermDocumentsDelete)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "deleted",
		"document_id": id,
		"subject":     identity.Subject,
	})
}

func (a *API) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, _, ok := a.authorize(w, r, authz.PermReportsRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": []string{},
		"subject": identity.Subject,
	})
}

func (a *API) handleReportExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, _, ok := a.authorize(w, r, authz.PermReportsExport)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "exported",
		"format":  "csv",
		"rows":    0,
		"subject": identity.Subject,
	})
}

func (a *API) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		identity, _, ok := a.authorize(w, r, authz.PermProfilesRead)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profiles": []string{},
			"subject":  identity.Subject,
		})
	case http.MethodPut:
		identity, _, ok := a.authorize(w, r, authz.PermProfilesEdit)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "updated",
			"subject": identity.Subject,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
