package identity

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Version names a backend API generation.
type Version string

const (
	VersionAuto   Version = "auto"
	VersionV2     Version = "v2"
	VersionLegacy Version = "legacy"
)

// ParseVersion maps a configuration value to a Version. Unknown values
// mean auto-detection.
func ParseVersion(s string) Version {
	switch Version(strings.ToLower(strings.TrimSpace(s))) {
	case VersionV2:
		return VersionV2
	case VersionLegacy:
		return VersionLegacy
	}
	return VersionAuto
}

// Config configures a Factory.
type Config struct {
	URL        string
	AnonKey    string
	Version    Version
	HTTPClient *http.Client
	Log        *zap.Logger
}

// Factory picks the adapter for the configured backend once, then hands out
// request-scoped Backends bound to each request's storage.
type Factory struct {
	c   *client
	log *zap.Logger

	mu      sync.RWMutex
	version Version
	forced  bool
}

// NewFactory validates cfg. Call Probe before serving requests; until then
// the v2 adapter is used.
func NewFactory(cfg Config) (*Factory, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	c, err := newClient(cfg.URL, cfg.AnonKey, cfg.HTTPClient, log)
	if err != nil {
		return nil, err
	}
	f := &Factory{c: c, log: log, version: VersionV2}
	if v := cfg.Version; v == VersionV2 || v == VersionLegacy {
		f.version = v
		f.forced = true
	}
	return f, nil
}

type healthBody struct {
	Version     string `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Probe asks the backend which API generation it speaks and selects the
// matching adapter. A configured version skips the probe. An unreachable
// backend keeps the v2 adapter.
func (f *Factory) Probe(ctx context.Context) Version {
	if f.forced {
		return f.Version()
	}

	var h healthBody
	err := f.c.call(ctx, "health", http.MethodGet, "health", nil, "", nil, &h)
	v := VersionV2
	switch {
	case err != nil:
		f.log.Warn("identity backend probe failed; assuming v2", zap.Error(err))
	case majorVersion(h.Version) == 1:
		v = VersionLegacy
	}

	f.mu.Lock()
	f.version = v
	f.mu.Unlock()

	f.log.Info("identity backend selected",
		zap.String("adapter", string(v)),
		zap.String("reported_version", h.Version),
		zap.String("name", h.Name))
	return v
}

// majorVersion parses "v2.151.0" style strings. It returns 0 when the
// version cannot be read.
func majorVersion(s string) int {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Version returns the selected adapter.
func (f *Factory) Version() Version {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// ForRequest returns a Backend bound to store.
func (f *Factory) ForRequest(store Storage) Backend {
	b := newBase(f.c, store, f.log)
	if f.Version() == VersionLegacy {
		return &legacyBackend{base: b}
	}
	return &v2Backend{base: b}
}

// Ping reports whether the backend answers its health endpoint.
func (f *Factory) Ping(ctx context.Context) error {
	return f.c.call(ctx, "ping", http.MethodGet, "health", nil, "", nil, nil)
}
