// Package authstore keeps the hub's client-held auth state in signed,
// encrypted cookies. Each storage key is its own cookie named
// prefix+key, so logout can find and expire every one of them by prefix.
package authstore

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// DefaultPrefix is the cookie name prefix for auth storage.
const DefaultPrefix = "sb-"

// DefaultMaxAge is the lifetime of persistent cookies (30 days).
const DefaultMaxAge = 30 * 24 * 60 * 60

// Config configures a Store.
type Config struct {
	// Secret is the configured session key. Cookie keys are derived from it.
	Secret string
	Prefix string
	Domain string
	// Secure marks cookies Secure. Enable in production.
	Secure bool
	MaxAge int
}

// Store creates per-request storage. It is safe for concurrent use.
type Store struct {
	prefix string
	codecs []securecookie.Codec
	opts   sessions.Options
	log    *zap.Logger
}

// New derives the cookie signing and encryption keys from cfg.Secret.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Secret == "" {
		return nil, errors.New("session key is empty; provide ≥32 random chars")
	}
	if len(cfg.Secret) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(cfg.Secret)))
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	hashKey, err := deriveKey(cfg.Secret, "authhub cookie signing", 32)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(cfg.Secret, "authhub cookie encryption", 32)
	if err != nil {
		return nil, err
	}

	cs := sessions.NewCookieStore(hashKey, blockKey)
	for _, c := range cs.Codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxAge(cfg.MaxAge)
		}
	}

	s := &Store{
		prefix: cfg.Prefix,
		codecs: cs.Codecs,
		opts: sessions.Options{
			Domain:   cfg.Domain,
			Path:     "/",
			MaxAge:   cfg.MaxAge,
			Secure:   cfg.Secure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		log: logger,
	}

	logger.Info("auth storage initialized",
		zap.Bool("secure", cfg.Secure),
		zap.String("domain", cfg.Domain),
		zap.String("prefix", cfg.Prefix))
	return s, nil
}

func deriveKey(secret, info string, n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	return key, nil
}

// Prefix returns the cookie name prefix.
func (s *Store) Prefix() string { return s.prefix }

// ForRequest binds storage to one request. Writes are buffered until Flush.
func (s *Store) ForRequest(w http.ResponseWriter, r *http.Request) *RequestStore {
	return &RequestStore{
		s:       s,
		w:       w,
		r:       r,
		values:  make(map[string]string),
		pending: make(map[string]*http.Cookie),
	}
}

// RequestStore implements identity.Storage for one request. Values written
// during the request are visible to later reads in the same request.
type RequestStore struct {
	s *Store
	w http.ResponseWriter
	r *http.Request

	mu      sync.Mutex
	values  map[string]string
	deleted map[string]bool
	pending map[string]*http.Cookie
	flushed bool
}

func (rs *RequestStore) cookieName(key string) string {
	return rs.s.prefix + key
}

func (rs *RequestStore) Get(key string) (string, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if v, ok := rs.values[key]; ok {
		return v, true
	}
	if rs.deleted[key] {
		return "", false
	}

	name := rs.cookieName(key)
	c, err := rs.r.Cookie(name)
	if err != nil {
		return "", false
	}
	var v string
	if err := securecookie.DecodeMulti(name, c.Value, &v, rs.s.codecs...); err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			rs.s.log.Debug("discarding undecodable auth cookie", zap.String("cookie", name))
		} else {
			rs.s.log.Warn("auth cookie decode failed", zap.String("cookie", name), zap.Error(err))
		}
		rs.expireLocked(key)
		return "", false
	}
	rs.values[key] = v
	return v, true
}

func (rs *RequestStore) Set(key, value string, persistent bool) error {
	name := rs.cookieName(key)
	encoded, err := securecookie.EncodeMulti(name, value, rs.s.codecs...)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	opts := rs.s.opts
	if !persistent {
		opts.MaxAge = 0
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.flushed {
		rs.s.log.Warn("auth storage write after response started", zap.String("cookie", name))
		return nil
	}
	rs.values[key] = value
	delete(rs.deleted, key)
	rs.pending[name] = sessions.NewCookie(name, encoded, &opts)
	return nil
}

func (rs *RequestStore) Delete(key string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.expireLocked(key)
	return nil
}

func (rs *RequestStore) expireLocked(key string) {
	delete(rs.values, key)
	if rs.deleted == nil {
		rs.deleted = make(map[string]bool)
	}
	rs.deleted[key] = true
	if rs.flushed {
		return
	}
	name := rs.cookieName(key)
	opts := rs.s.opts
	opts.MaxAge = -1
	rs.pending[name] = sessions.NewCookie(name, "", &opts)
}

// Clear expires every prefixed cookie the request carried and every one
// written during the request.
func (rs *RequestStore) Clear() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, c := range rs.r.Cookies() {
		if strings.HasPrefix(c.Name, rs.s.prefix) {
			rs.expireLocked(strings.TrimPrefix(c.Name, rs.s.prefix))
		}
	}
	for name := range rs.pending {
		rs.expireLocked(strings.TrimPrefix(name, rs.s.prefix))
	}
	for key := range rs.values {
		rs.expireLocked(key)
	}
	return nil
}

// Flushed reports whether the response cookies have been written.
func (rs *RequestStore) Flushed() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.flushed
}

// Flush writes pending cookies to the response. Call it before writing
// headers; later writes are dropped.
func (rs *RequestStore) Flush() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.flushed {
		return
	}
	rs.flushed = true
	for _, c := range rs.pending {
		http.SetCookie(rs.w, c)
	}
	rs.pending = nil
}
