package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CORSConfig declares the origins allowed to reach the API across domains.
// An empty list keeps the legacy storefront's behaviour of allowing every
// origin; naming origins switches to an allowlist with credential support.
type CORSConfig struct {
	AllowedOrigins []string
}

type corsPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newCORSPolicy(cfg CORSConfig) (corsPolicy, error) {
	if len(cfg.AllowedOrigins) == 0 {
		return corsPolicy{allowAll: true}, nil
	}
	policy := corsPolicy{allowed: make(map[string]struct{}, len(cfg.AllowedOrigins))}
	for _, origin := range cfg.AllowedOrigins {
		normalized, err := normalizeOrigin(origin)
		if err != nil {
			return corsPolicy{}, fmt.Errorf("parse origin %q: %w", origin, err)
		}
		if normalized != "" {
			policy.allowed[normalized] = struct{}{}
		}
	}
	return policy, nil
}

func normalizeOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", nil
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("origin must include scheme and host")
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host)), nil
}

func (p corsPolicy) allows(origin string) (string, bool) {
	if p.allowAll {
		return "*", true
	}
	normalized, err := normalizeOrigin(origin)
	if err != nil || normalized == "" {
		return "", false
	}
	if _, ok := p.allowed[normalized]; ok {
		return origin, true
	}
	return "", false
}

func corsMiddleware(policy corsPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" && !policy.allowAll {
			next.ServeHTTP(w, r)
			return
		}
		allowValue, ok := policy.allows(origin)
		if origin != "" && !ok {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if allowValue == "" {
			allowValue = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", allowValue)
		if !policy.allowAll {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, auth-token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware sets baseline hardening headers on every
// response. The API serves JSON and static images only, so a restrictive
// fixed policy is sufficient.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
