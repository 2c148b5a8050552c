package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionCookieName     = "pg_session"
	impersonateCookieName = "pg_impersonate"
)

// readSessionCookie returns the trimmed opaque session token when present.
func readSessionCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

func (a *API) writeSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// impersonationClaims bind "real principal → acting-as principal". The
// cookie's confidentiality is not load-bearing; the signature only prevents
// a client from minting a grant for a different real principal, and the
// overlay still re-derives everything from the canonical store.
type impersonationClaims struct {
	RealID string `json:"act"`
	jwt.RegisteredClaims
}

var errBadImpersonationCookie = errors.New("invalid impersonation cookie")

func (a *API) signImpersonation(realID, targetID string, now time.Time) (string, error) {
	if len(a.authSecret) == 0 {
		return "", errors.New("auth secret is not configured")
	}
	claims := impersonationClaims{
		RealID: realID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  targetID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.authSecret)
}

// parseImpersonation verifies the cookie signature and the real-principal
// binding. The grant carries no expiry of its own; its lifetime is bounded
// by the cookie and the underlying session.
func (a *API) parseImpersonation(raw, realID string) (string, error) {
	if len(a.authSecret) == 0 {
		return "", errBadImpersonationCookie
	}
	parsed, err := jwt.ParseWithClaims(raw, &impersonationClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errBadImpersonationCookie
		}
		return a.authSecret, nil
	})
	if err != nil {
		return "", errBadImpersonationCookie
	}
	claims, ok := parsed.Claims.(*impersonationClaims)
	if !ok || !parsed.Valid {
		return "", errBadImpersonationCookie
	}
	if claims.RealID == "" || claims.RealID != realID || claims.Subject == "" {
		return "", errBadImpersonationCookie
	}
	return claims.Subject, nil
}

func readImpersonationCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(impersonateCookieName)
	if err != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return strings.TrimSpace(cookie.Value), true
}

func (a *API) writeImpersonationCookie(w http.ResponseWriter, signed string) {
	http.SetCookie(w, &http.Cookie{
		Name:     impersonateCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearImpersonationCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     impersonateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
