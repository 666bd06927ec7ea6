package auth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// Middleware returns an HTTP middleware that authenticates the caller via
// session JWT, OIDC JWT, or a dev-mode header, and stores the resulting
// Identity in the request context.
//
// Authentication precedence:
//  1. Authorization: Bearer <jwt>  →  Session JWT (HMAC) → OIDC JWT
//  2. X-Stark-Dev-Role: <role>     →  Development-only fallback (no real auth)
//
// If none succeed, the request is rejected with 401. When limiter is
// non-nil, failed bearer-token attempts count against the caller's remote
// IP; callers already over the limit are rejected before verification runs.
func Middleware(sessionMgr *SessionManager, oidcAuth *OIDCAuthenticator, limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if limiter != nil {
				result, err := limiter.Check(r.Context(), ip)
				if err != nil {
					logger.Error("rate limit check failed", "error", err)
				} else if !result.Allowed {
					respondErr(w, http.StatusTooManyRequests, "rate_limited", "too many authentication attempts")
					return
				}
			}

			var identity *Identity

			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") || strings.HasPrefix(authHeader, "bearer ") {
				rawToken := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(authHeader, "Bearer "), "bearer "))

				if sessionMgr != nil {
					if claims, err := sessionMgr.ValidateToken(rawToken); err == nil {
						identity = &Identity{
							Subject: claims.Subject,
							Email:   claims.Email,
							Role:    claims.Role,
							UserID:  claims.UserID,
							Method:  MethodSession,
						}
						logger.Debug("authenticated via session JWT", "sub", claims.Subject, "role", claims.Role)
					}
				}

				if identity == nil {
					if oidcAuth == nil {
						recordFailure(r, limiter, ip, logger)
						logger.Warn("JWT presented but OIDC is not configured")
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
						return
					}

					claims, err := oidcAuth.Authenticate(r.Context(), authHeader)
					if err != nil {
						recordFailure(r, limiter, ip, logger)
						logger.Warn("OIDC authentication failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
						return
					}

					identity = &Identity{
						Subject: claims.Subject,
						Email:   claims.Email,
						Role:    claims.Role,
						Method:  MethodOIDC,
					}
					logger.Debug("authenticated via OIDC", "sub", claims.Subject, "role", claims.Role)
				}
			}

			// Dev-mode fallback: no real authentication, convenience only.
			if identity == nil {
				if role := r.Header.Get("X-Stark-Dev-Role"); role != "" {
					if !IsValidRole(role) {
						role = RoleViewer
					}
					identity = &Identity{
						Subject: "dev:anonymous",
						Email:   "dev@localhost",
						Role:    role,
						Method:  MethodDev,
					}
					logger.Debug("dev-mode authentication", "role", role)
				}
			}

			if identity == nil {
				recordFailure(r, limiter, ip, logger)
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			if limiter != nil {
				if err := limiter.Reset(r.Context(), ip); err != nil {
					logger.Error("resetting rate limit", "error", err)
				}
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func recordFailure(r *http.Request, limiter *RateLimiter, ip string, logger *slog.Logger) {
	if limiter == nil {
		return
	}
	if err := limiter.Record(r.Context(), ip); err != nil {
		logger.Error("recording rate limit failure", "error", err)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
