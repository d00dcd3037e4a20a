// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration; ports, TLS, log level and
// CORS stay in WAFFLE's CoreConfig.
type AppConfig struct {
	// Return-target policy
	TrustedDomain string   // registrable domain whose hosts may receive sessions
	FallbackURL   string   // absolute URL used when returnTo is missing or untrusted
	PublicOrigin  string   // origin of this hub as browsers see it (blank derives it per request)
	TruthyValues  []string // accepted values for the logout flag

	// Identity backend
	IdentityURL         string        // base URL of the hosted identity API
	IdentityAnonKey     string        // public API key sent with every call
	IdentityAPIVersion  string        // auto, v2 or legacy
	SessionProbeTimeout time.Duration // bound on the initial session lookup

	// Client-held storage
	StoragePrefix string // cookie name prefix (default: sb-)
	SessionKey    string // secret the cookie keys are derived from
	SessionDomain string // cookie domain (blank means current host)

	// MongoDB audit store (optional)
	MongoURI       string
	MongoDatabase  string
	AuditRetention time.Duration
	AuditLog       string // all, db, log or off

	// Rate limiting
	RedisURL          string // blank keeps counters in memory
	RateLimitRequests int
	RateLimitWindow   time.Duration
}
