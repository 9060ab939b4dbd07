// Package auth resolves the caller of an HTTP request into a
// cloudgpt.Identity: an API key, a signed session, or an anonymous client IP.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// API keys are opaque; only their shape is checked before lookup.
const (
	KeyPrefix       = "cgpt-"
	LegacyKeyPrefix = "sk-cgpt-"
	MinKeyLength    = 32
)

// ErrKeyNotFound is returned by a KeyLookup for unknown or revoked keys.
var ErrKeyNotFound = errors.New("cloudgpt: api key not found")

// KeyRecord is what the key store knows about an API key.
type KeyRecord struct {
	ID        int64  `yaml:"id"`
	UserID    string `yaml:"user_id"`
	Plan      string `yaml:"plan"`
	CustomRPM int64  `yaml:"rpm"`
	CustomRPD int64  `yaml:"rpd"`
}

// KeyLookup finds the record of an API key.
type KeyLookup interface {
	LookupKey(ctx context.Context, key string) (KeyRecord, error)
}

// ProfileLookup returns the plan of a signed-in user.
type ProfileLookup interface {
	LookupPlan(ctx context.Context, userID string) (cloudgpt.Plan, error)
}

// Resolver turns requests into identities.
type Resolver struct {
	keys       KeyLookup
	profiles   ProfileLookup
	sessions   *SessionVerifier
	cookie     string
	trustProxy bool
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithKeyLookup sets the API key store.
func WithKeyLookup(k KeyLookup) Option {
	return func(r *Resolver) { r.keys = k }
}

// WithProfileLookup sets the plan lookup for session users.
func WithProfileLookup(p ProfileLookup) Option {
	return func(r *Resolver) { r.profiles = p }
}

// WithSessions enables session tokens read from the named cookie or a
// Bearer header.
func WithSessions(v *SessionVerifier, cookie string) Option {
	return func(r *Resolver) {
		r.sessions = v
		r.cookie = cookie
	}
}

// WithTrustProxy makes the client IP come from X-Forwarded-For.
func WithTrustProxy(trust bool) Option {
	return func(r *Resolver) { r.trustProxy = trust }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{cookie: "session"}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "auth")
	return r
}

// IsAPIKey reports whether token has the shape of a gateway API key.
func IsAPIKey(token string) bool {
	return strings.HasPrefix(token, KeyPrefix) || strings.HasPrefix(token, LegacyKeyPrefix)
}

// Resolve identifies the caller. Every request resolves to exactly one
// identity; a presented but invalid credential is an authentication error.
func (r *Resolver) Resolve(req *http.Request) (cloudgpt.Identity, error) {
	ctx := req.Context()
	ip := r.ClientIP(req)

	if token := bearerToken(req); token != "" {
		if IsAPIKey(token) {
			return r.resolveKey(ctx, token, ip)
		}
		if r.sessions != nil {
			return r.resolveSession(ctx, token, ip)
		}
		return cloudgpt.Identity{}, cloudgpt.Unauthenticated("Invalid API key format. Keys start with " + KeyPrefix + ".")
	}

	if r.sessions != nil && r.cookie != "" {
		if c, err := req.Cookie(r.cookie); err == nil && c.Value != "" {
			id, err := r.resolveSession(ctx, c.Value, ip)
			if err == nil {
				return id, nil
			}
			r.logger.Debug("ignoring invalid session cookie", "client_ip", ip, "error", err)
		}
	}

	return cloudgpt.AnonymousIdentity(ip), nil
}

func (r *Resolver) resolveKey(ctx context.Context, key, ip string) (cloudgpt.Identity, error) {
	if len(key) < MinKeyLength {
		return cloudgpt.Identity{}, cloudgpt.Unauthenticated("Invalid API key format.")
	}
	if r.keys == nil {
		return cloudgpt.Identity{}, cloudgpt.Unauthenticated("API keys are not accepted by this gateway.")
	}

	rec, err := r.keys.LookupKey(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return cloudgpt.Identity{}, cloudgpt.Unauthenticated("Invalid API key.")
	}
	if err != nil {
		return cloudgpt.Identity{}, fmt.Errorf("cloudgpt: lookup api key: %w", err)
	}

	return cloudgpt.Identity{
		Kind:      cloudgpt.IdentityAPIKey,
		UserID:    rec.UserID,
		APIKey:    key,
		KeyID:     rec.ID,
		Plan:      cloudgpt.ParsePlan(rec.Plan),
		CustomRPM: rec.CustomRPM,
		CustomRPD: rec.CustomRPD,
		ClientIP:  ip,
	}, nil
}

func (r *Resolver) resolveSession(ctx context.Context, token, ip string) (cloudgpt.Identity, error) {
	claims, err := r.sessions.Verify(token)
	if err != nil {
		return cloudgpt.Identity{}, cloudgpt.Unauthenticated("Invalid or expired session.")
	}

	plan := cloudgpt.ParsePlan(claims.Plan)
	if r.profiles != nil {
		p, err := r.profiles.LookupPlan(ctx, claims.Subject)
		if err != nil {
			r.logger.Warn("profile lookup failed, using session plan", "user_id", claims.Subject, "error", err)
		} else {
			plan = p
		}
	}

	return cloudgpt.Identity{
		Kind:     cloudgpt.IdentitySession,
		UserID:   claims.Subject,
		Plan:     plan,
		ClientIP: ip,
	}, nil
}

// ClientIP returns the first X-Forwarded-For hop when the proxy is trusted,
// otherwise the connection's remote address.
func (r *Resolver) ClientIP(req *http.Request) string {
	if r.trustProxy {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
