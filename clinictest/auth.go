package clinictest

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/internal/util"
	"github.com/jmcleod/patientportal/internal/uuid"
	"github.com/jmcleod/patientportal/patient"
)

// RefreshCookieName holds the long-lived refresh credential.
const RefreshCookieName = "refresh_token"

type contextKey int

const patientIDKey contextKey = iota

type claims struct {
	Generation int `json:"gen"`
	jwt.RegisteredClaims
}

func (s *Server) issueToken(id patient.ID) (string, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	now := s.now()
	c := claims{
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			ID:        uuid.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
}

func (s *Server) parseToken(raw string) (patient.ID, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Generation != s.generation {
		return "", errors.New("token revoked")
	}
	id := patient.ID(c.Subject)
	if _, ok := s.accounts[id]; !ok {
		return "", errors.New("unknown patient")
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// auth requires a valid bearer token.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		id, err := s.parseToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), patientIDKey, id)))
	}
}

// owner restricts /patients/{id} routes to the token's own patient.
func (s *Server) owner(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if patient.ID(chi.URLParam(r, "id")) != patientIDFromContext(r.Context()) {
			writeError(w, http.StatusForbidden, "access to this patient is not allowed")
			return
		}
		next(w, r)
	}
}

// csrf enforces the double-submit cookie on mutating requests that carry
// the CSRF cookie.
func (s *Server) csrf(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(clinic.CSRFCookieName)
		if err != nil || cookie.Value == "" {
			next(w, r)
			return
		}
		header := r.Header.Get(clinic.CSRFHeaderName)
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}
		next(w, r)
	}
}

func patientIDFromContext(ctx context.Context) patient.ID {
	id, _ := ctx.Value(patientIDKey).(patient.ID)
	return id
}

// startSession issues a bearer token and sets the CSRF and refresh cookies.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, id patient.ID) (string, error) {
	token, err := s.issueToken(id)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	refresh, err := util.RandomHex(32)
	if err != nil {
		return "", fmt.Errorf("issuing refresh token: %w", err)
	}
	s.mu.Lock()
	s.refresh[refresh] = id
	s.mu.Unlock()

	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     clinic.CSRFCookieName,
		Value:    uuid.New(),
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refresh,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		s.mu.Lock()
		delete(s.refresh, c.Value)
		s.mu.Unlock()
	}
	secure := requestIsSecure(r)
	for _, name := range []string{clinic.CSRFCookieName, RefreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: name == RefreshCookieName,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
		})
	}
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
