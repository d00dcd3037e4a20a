// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/authhub/internal/app/store/audit"
	"github.com/dalemusser/authhub/internal/app/system/auditlog"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for the hub.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: trusted_domain, identity_url, etc.
//   - Environment variables: AUTHHUB_TRUSTED_DOMAIN, AUTHHUB_IDENTITY_URL, etc.
//   - Command-line flags: --trusted_domain, --identity_url, etc.
var appConfigKeys = []config.AppKey{
	{Name: "trusted_domain", Default: "flowodonto.com.br", Desc: "Registrable domain allowed to receive sessions"},
	{Name: "fallback_url", Default: "https://flowodonto.com.br/", Desc: "Return target when returnTo is missing or untrusted"},
	{Name: "public_origin", Default: "", Desc: "Public origin of the hub (blank derives it from each request)"},
	{Name: "truthy_values", Default: "1,true,yes", Desc: "Comma-separated values that enable the logout flag"},

	// Identity backend
	{Name: "identity_url", Default: "", Desc: "Identity backend base URL"},
	{Name: "identity_anon_key", Default: "", Desc: "Identity backend public API key"},
	{Name: "identity_api_version", Default: "auto", Desc: "Identity API adapter: 'auto', 'v2' or 'legacy'"},
	{Name: "session_probe_timeout", Default: "4s", Desc: "Timeout for the initial session lookup"},

	// Client-held storage
	{Name: "storage_prefix", Default: "sb-", Desc: "Auth cookie name prefix"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Auth cookie key material (must be strong in production)"},
	{Name: "session_domain", Default: "", Desc: "Auth cookie domain (blank means current host)"},

	// Audit store
	{Name: "mongo_uri", Default: "", Desc: "MongoDB connection URI for the audit trail (blank disables it)"},
	{Name: "mongo_database", Default: "authhub", Desc: "MongoDB database name"},
	{Name: "audit_retention", Default: "2160h", Desc: "How long audit events are kept"},
	{Name: "audit_log", Default: "all", Desc: "Audit event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Rate limiting
	{Name: "redis_url", Default: "", Desc: "Redis URL for shared rate limits (blank keeps them in memory)"},
	{Name: "ratelimit_requests", Default: 10, Desc: "Form submissions allowed per client IP per window (0 disables)"},
	{Name: "ratelimit_window", Default: "1m", Desc: "Rate limit window"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// environment variables (WAFFLE_* for core, AUTHHUB_* for app) and flags,
// merged with precedence: flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "AUTHHUB", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		TrustedDomain: strings.ToLower(strings.TrimSpace(appValues.String("trusted_domain"))),
		FallbackURL:   appValues.String("fallback_url"),
		PublicOrigin:  strings.TrimRight(appValues.String("public_origin"), "/"),
		TruthyValues:  splitList(appValues.String("truthy_values")),

		// Identity backend
		IdentityURL:         appValues.String("identity_url"),
		IdentityAnonKey:     appValues.String("identity_anon_key"),
		IdentityAPIVersion:  appValues.String("identity_api_version"),
		SessionProbeTimeout: appValues.Duration("session_probe_timeout", timeouts.DefaultProbe),

		// Storage
		StoragePrefix: appValues.String("storage_prefix"),
		SessionKey:    appValues.String("session_key"),
		SessionDomain: appValues.String("session_domain"),

		// Audit
		MongoURI:       appValues.String("mongo_uri"),
		MongoDatabase:  appValues.String("mongo_database"),
		AuditRetention: appValues.Duration("audit_retention", audit.DefaultRetention),
		AuditLog:       appValues.String("audit_log"),

		// Rate limiting
		RedisURL:          appValues.String("redis_url"),
		RateLimitRequests: appValues.Int("ratelimit_requests"),
		RateLimitWindow:   appValues.Duration("ratelimit_window", time.Minute),
	}

	return coreCfg, appCfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// policy builds the return-target policy from config.
func (c AppConfig) policy() returnto.Policy {
	return returnto.Policy{
		RootDomain: c.TrustedDomain,
		Fallback:   c.FallbackURL,
		Truthy:     c.TruthyValues,
	}
}

// ValidateConfig performs app-specific config validation.
//
// The fallback must be an absolute URL inside the trusted domain, since
// every untrusted return target collapses to it. The identity backend URL
// and the cookie key are required.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if appCfg.TrustedDomain == "" {
		return errors.New("trusted_domain is required")
	}

	fb, err := url.Parse(appCfg.FallbackURL)
	if err != nil || !fb.IsAbs() || fb.Host == "" {
		return fmt.Errorf("fallback_url must be an absolute URL, got %q", appCfg.FallbackURL)
	}
	if !appCfg.policy().Trusted(fb.Hostname()) {
		return fmt.Errorf("fallback_url host %q is outside trusted_domain %q", fb.Hostname(), appCfg.TrustedDomain)
	}

	if appCfg.PublicOrigin != "" {
		po, err := url.Parse(appCfg.PublicOrigin)
		if err != nil || !po.IsAbs() || po.Host == "" {
			return fmt.Errorf("public_origin must be an absolute URL, got %q", appCfg.PublicOrigin)
		}
	}

	if appCfg.IdentityURL == "" {
		return errors.New("identity_url is required")
	}
	if u, err := url.Parse(appCfg.IdentityURL); err != nil || !u.IsAbs() {
		return fmt.Errorf("identity_url must be an absolute URL, got %q", appCfg.IdentityURL)
	}
	if v := strings.ToLower(strings.TrimSpace(appCfg.IdentityAPIVersion)); v != "" &&
		v != string(identity.VersionAuto) && identity.ParseVersion(v) == identity.VersionAuto {
		return fmt.Errorf("identity_api_version must be auto, v2 or legacy, got %q", appCfg.IdentityAPIVersion)
	}

	if appCfg.SessionKey == "" {
		return errors.New("session_key is required")
	}
	if len(appCfg.SessionKey) < 32 {
		logger.Warn("session_key is shorter than 32 characters")
	}

	if appCfg.MongoURI != "" {
		if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
			logger.Error("invalid MongoDB URI", zap.Error(err))
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
	}

	switch appCfg.AuditLog {
	case auditlog.ModeAll, auditlog.ModeDB, auditlog.ModeLog, auditlog.ModeOff:
	default:
		return fmt.Errorf("audit_log must be all, db, log or off, got %q", appCfg.AuditLog)
	}

	if appCfg.RateLimitRequests < 0 {
		return errors.New("ratelimit_requests must not be negative")
	}
	if appCfg.RateLimitRequests > 0 && appCfg.RateLimitWindow <= 0 {
		return errors.New("ratelimit_window must be positive")
	}
	return nil
}
