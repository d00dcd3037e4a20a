package testutil

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/dalemusser/authhub/internal/app/system/authstore"
	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/identity/identitytest"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
	"go.uber.org/zap"
)

// Hub test constants.
const (
	TrustedDomain = "flowodonto.com.br"
	FallbackURL   = "https://flowodonto.com.br/"
	PublicOrigin  = "https://auth.flowodonto.com.br"
	SessionKey    = "test-session-key-must-be-32-chars-long"
)

// Policy returns the URL policy used by hub tests.
func Policy() returnto.Policy {
	return returnto.Policy{RootDomain: TrustedDomain, Fallback: FallbackURL}
}

// NewHubDeps returns page dependencies backed by a scriptable identity
// backend and a real cookie store.
func NewHubDeps(t *testing.T) (*hubpage.Deps, *identitytest.Factory) {
	t.Helper()
	store, err := authstore.New(authstore.Config{Secret: SessionKey}, zap.NewNop())
	if err != nil {
		t.Fatalf("authstore.New: %v", err)
	}
	f := identitytest.NewFactory()
	return &hubpage.Deps{
		Policy:       Policy(),
		Identity:     f,
		Store:        store,
		PublicOrigin: PublicOrigin,
		Log:          zap.NewNop(),
	}, f
}

// Renderer records template renders. Its Render method matches
// templates.Render and writes the template name as the body.
type Renderer struct {
	mu   sync.Mutex
	Name string
	Data any
	N    int
}

func (r *Renderer) Render(w http.ResponseWriter, _ *http.Request, name string, data any) {
	r.mu.Lock()
	r.Name, r.Data = name, data
	r.N++
	r.mu.Unlock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "template:%s", name)
}
