package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Check is one dependency probed by the health endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Checks  []Check
	Version func() string
	Log     *zap.Logger
}

// NewHandler constructs a health Handler. version reports the identity
// adapter in use and may be nil.
func NewHandler(checks []Check, version func() string, logger *zap.Logger) *Handler {
	return &Handler{
		Checks:  checks,
		Version: version,
		Log:     logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string            `json:"status"`
	Backend  string            `json:"backend,omitempty"`
	Checks   map[string]string `json:"checks"`
	Message  string            `json:"message,omitempty"`
	Failures map[string]string `json:"errors,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "backend":"v2", "checks":{"identity":"connected","database":"connected"} }
//
// If any check fails: 503 and
//
//	{ "status":"error", "message":"Dependency unavailable", "checks":{...}, "errors":{"identity":"…"} }
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	resp := healthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.Checks)),
	}
	if h.Version != nil {
		resp.Backend = h.Version()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range h.Checks {
		g.Go(func() error {
			err := c.Ping(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				resp.Checks[c.Name] = "disconnected"
				if resp.Failures == nil {
					resp.Failures = make(map[string]string)
				}
				resp.Failures[c.Name] = err.Error()
				return nil
			}
			resp.Checks[c.Name] = "connected"
			return nil
		})
	}
	_ = g.Wait()

	w.Header().Set("Content-Type", "application/json")
	if len(resp.Failures) > 0 {
		h.Log.Error("health-check failed", zap.Any("errors", resp.Failures))
		resp.Status = "error"
		resp.Message = "Dependency unavailable"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
