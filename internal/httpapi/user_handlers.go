package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"identra.org/internal/audit"
	"identra.org/internal/auth"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := a.auth.GetUser(r.Context(), userID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	users, err := a.auth.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":  users,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.auth.GetUser(r.Context(), id)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	case http.MethodDelete:
		if err := a.auth.DeleteUser(r.Context(), id); err != nil {
			writeAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.user.deleted", map[string]any{
			"target_user_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
