package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"foodbridge/internal/access"
	"foodbridge/internal/models"
	"foodbridge/internal/session"
)

// AuthMiddleware resolves the caller's session state once per request. It
// never rejects by itself; RequireRoles and the handlers decide.
func AuthMiddleware(auth *session.Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		state, err := auth.StateFromRequest(r)
		if err != nil {
			w.Header().Set("Retry-After", "1")
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "remote_unavailable", "session lookup failed")
			return
		}
		if state.Identity != nil {
			noteRole(w, string(state.Identity.Role))
		}
		next.ServeHTTP(w, r.WithContext(session.WithState(r.Context(), state)))
	})
}

// RequireRoles runs the access gate for an API route: 401 without a session,
// 503 while the role is still resolving and 403 for the wrong role.
func RequireRoles(gate *access.Gate, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, _ := session.FromContext(r.Context())
			decision := gate.Authorize(state, roles)
			if !writeDenied(w, r, decision) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeDenied writes the response for a non-allow decision and reports
// whether the request may proceed.
func writeDenied(w http.ResponseWriter, r *http.Request, decision access.Decision) bool {
	switch decision.Outcome {
	case access.OutcomeAllow:
		return true
	case access.OutcomeWait:
		w.Header().Set("Retry-After", "1")
		writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "role_pending", "role is still being resolved")
		return false
	default:
		status, code, msg := mapError(decision.Reason)
		resp := errorResponse{
			RequestID: requestIDFromRequest(r),
			Error:     responseError{Code: code, Message: msg},
		}
		if errors.Is(decision.Reason, access.ErrRoleMismatch) {
			allowed := make([]string, 0, len(decision.Allowed))
			for _, role := range decision.Allowed {
				allowed = append(allowed, string(role))
			}
			resp.Error.Details = map[string]string{
				"role":    string(decision.Role),
				"allowed": strings.Join(allowed, ","),
			}
		}
		writeJSON(w, status, resp)
		return false
	}
}

func identityFromRequest(r *http.Request) (models.Identity, bool) {
	state, ok := session.FromContext(r.Context())
	if !ok || state.Identity == nil {
		return models.Identity{}, false
	}
	return *state.Identity, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/offline-manifest", "/api/notifications/click":
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
