package api

import (
	"crypto/subtle"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/metrics"
	"github.com/neorise/storefront/internal/policy/ratelimit"
)

const (
	adminCookieName = "admin_token"
	adminHeader     = "X-Admin-Token"
	adminSessionTTL = 8 * time.Hour
)

// requireAdmin admits requests carrying the admin token in the X-Admin-Token
// header or the admin_token cookie.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkAdminToken(providedToken(r)); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// throttleAdmin rejects clients that exceed the admin request rate, so the
// shared token cannot be brute-forced.
func (s *Server) throttleAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ratelimit.ClientKey(r)
		if !s.limiter.Allow(key) {
			wait := s.limiter.RetryAfter(key)
			metrics.ObserveRateLimited("admin")
			s.logger.Warn("admin request rate limited",
				zap.String("request_id", requestID(r.Context())),
				zap.String("client", key))
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many requests", "Slow down and retry after the Retry-After delay.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkAdminToken(provided string) error {
	expected := strings.TrimSpace(s.opts.AdminToken)
	if expected == "" {
		return car.ErrAdminTokenMissing
	}
	if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return car.ErrUnauthorized
	}
	return nil
}

func providedToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(adminHeader)); token != "" {
		return token
	}
	if c, err := r.Cookie(adminCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

type sessionRequest struct {
	Token string `json:"token"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req)
	token := strings.TrimSpace(req.Token)
	if err := s.checkAdminToken(token); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	http.SetCookie(w, s.adminCookie(token, int(adminSessionTTL.Seconds())))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) deleteSession(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, s.adminCookie("", -1))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) adminCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     adminCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
