package httpapi

import (
	"errors"
	"net/http"

	"pagegrid.org/internal/identity"
)

// withIdentity resolves the session cookie into an effective identity once
// per request. Requests without a valid session simply proceed anonymous;
// handlers that need a principal call requireIdentity. The impersonation
// overlay is applied here and nowhere else: downstream code never reads
// cookies, it reads the context.
func (a *API) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := readSessionCookie(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		real, err := a.identity.Resolve(r.Context(), rawToken)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}

		targetID := ""
		if raw, ok := readImpersonationCookie(r); ok {
			// A cookie that fails signature or real-principal binding is
			// ignored, not errored; the request proceeds as the real
			// principal.
			if sub, err := a.parseImpersonation(raw, real.ID); err == nil {
				targetID = sub
			}
		}
		eff, err := a.identity.Overlay(r.Context(), real, targetID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		ctx := identity.ContextWithIdentity(r.Context(), eff)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireIdentity extracts the effective identity or answers 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (identity.EffectiveIdentity, bool) {
	eff, ok := identity.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not signed in")
		return identity.EffectiveIdentity{}, false
	}
	return eff, true
}
