// Package httpapi wires the authorization engine to HTTP. Status-code
// mapping lives here: the engine's error kinds stay internal and every
// authentication failure is answered with the same 401 body.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"accessgate.org/internal/authz"
	"accessgate.org/internal/obs"
)

// ReadyProbe checks downstream dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	service    *authz.Service
	guard      *authz.Guard
	readyProbe ReadyProbe
	version    string
	log        *slog.Logger
}

// New builds the route table.
func New(service *authz.Service, guard *authz.Guard, rp ReadyProbe, version string, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	a := &API{
		mux:        http.NewServeMux(),
		service:    service,
		guard:      guard,
		readyProbe: rp,
		version:    version,
		log:        log,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)

	a.mux.HandleFunc("/v1/users/me", a.handleMe)
	a.mux.HandleFunc("/v1/users/me/password", a.handleMePassword)

	a.mux.HandleFunc("/v1/documents", a.handleDocuments)
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentScoped)
	a.mux.HandleFunc("/v1/reports", a.handleReports)
	a.mux.HandleFunc("/v1/reports/export", a.handleReportExport)
	a.mux.HandleFunc("/v1/profiles", a.handleProfiles)

	a.mux.HandleFunc("/v1/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/v1/admin/users/", a.handleAdminUserScoped)
	a.mux.HandleFunc("/v1/admin/roles", a.handleAdminRoles)
	a.mux.HandleFunc("/v1/admin/roles/", a.handleAdminRoleScoped)
	a.mux.HandleFunc("/v1/admin/stats", a.handleAdminStats)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(SecurityHeaders(Logging(a.log, a.mux))))
}

// --- health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "accessgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := requestIDFrom(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// Single 401 body for every authentication-stage failure so the boundary
// does not distinguish expired, tampered and replayed tokens.
const unauthenticatedMsg = "authentication required"

func (a *API) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated),
		errors.Is(err, authz.ErrSessionNotFound),
		errors.Is(err, authz.ErrSessionNotActive):
		if errors.Is(err, authz.ErrSessionNotActive) {
			obs.RecordRotationConflict()
		}
		a.log.InfoContext(r.Context(), "authentication failed", "cause", err)
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, unauthenticatedMsg)
	case errors.Is(err, authz.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		a.log.ErrorContext(r.Context(), "internal error", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// authorize runs the guard for the request and writes the response on
// failure. On success it returns the request with the identity attached
// to its context so audit logging can see the subject.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, permission string) (authz.Identity, *http.Request, bool) {
	raw, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		obs.RecordDecision(obs.DecisionUnauthenticated)
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, unauthenticatedMsg)
		return authz.Identity{}, r, false
	}
	identity, err := a.guard.Authorize(r.Context(), raw, permission)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrUnauthenticated):
			obs.RecordDecision(obs.DecisionUnauthenticated)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, unauthenticatedMsg)
		case errors.Is(err, authz.ErrForbidden):
			obs.RecordDecision(obs.DecisionForbidden)
			writeError(w, r, http.StatusForbidden, "permission denied")
		default:
			obs.RecordDecision(obs.DecisionError)
			a.log.ErrorContext(r.Context(), "authorize failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return authz.Identity{}, r, false
	}
	obs.RecordDecision(obs.DecisionPermit)
	return identity, r.WithContext(authz.ContextWithIdentity(r.Context(), identity)), true
}

func requestIDFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Header.Get("X-Request-Id")
}
