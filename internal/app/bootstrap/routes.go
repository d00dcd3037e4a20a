// internal/app/bootstrap/routes.go
package bootstrap

import (
	"context"
	"net/http"

	checkemailfeature "github.com/dalemusser/authhub/internal/app/features/checkemail"
	errorsfeature "github.com/dalemusser/authhub/internal/app/features/errors"
	healthfeature "github.com/dalemusser/authhub/internal/app/features/health"
	loginfeature "github.com/dalemusser/authhub/internal/app/features/login"
	logoutfeature "github.com/dalemusser/authhub/internal/app/features/logout"
	newpasswordfeature "github.com/dalemusser/authhub/internal/app/features/newpassword"
	oauthfeature "github.com/dalemusser/authhub/internal/app/features/oauth"
	recoveryfeature "github.com/dalemusser/authhub/internal/app/features/recovery"
	signupfeature "github.com/dalemusser/authhub/internal/app/features/signup"
	"github.com/dalemusser/authhub/internal/app/system/auditlog"
	"github.com/dalemusser/authhub/internal/app/system/authstore"
	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/ratelimit"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/pantry/fileserver"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for the hub.
//
// Every hub page shares one hubpage.Deps: the return-target policy, the
// identity backend factory chosen in ConnectDB, cookie storage and the
// audit and metrics sinks. Form submissions pass through the rate limiter
// when one is configured.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	store, err := authstore.New(authstore.Config{
		Secret: appCfg.SessionKey,
		Prefix: appCfg.StoragePrefix,
		Domain: appCfg.SessionDomain,
		Secure: coreCfg.Env == "prod",
	}, logger)
	if err != nil {
		logger.Error("auth storage init failed", zap.Error(err))
		return nil, err
	}

	// Dev mode enables template reloading for faster iteration.
	eng := templates.New(coreCfg.Env == "dev")
	if err := eng.Boot(logger); err != nil {
		logger.Error("template engine boot failed", zap.Error(err))
		return nil, err
	}
	templates.UseEngine(eng, logger)

	var sink auditlog.Sink
	if deps.Audit != nil {
		sink = deps.Audit
	}
	hub := &hubpage.Deps{
		Policy:       appCfg.policy(),
		Identity:     deps.Identity,
		Store:        store,
		PublicOrigin: appCfg.PublicOrigin,
		ProbeTimeout: timeouts.Probe(),
		Audit:        auditlog.New(sink, logger, appCfg.AuditLog),
		Metrics:      deps.Metrics,
		Log:          logger,
	}

	errorsHandler := errorsfeature.NewHandler(logger)
	loginHandler := loginfeature.NewHandler(hub, logger)

	r := chi.NewRouter()

	// Unknown GET paths resolve to the login page; everything else is a 404.
	// Set before mounting so sub-routers inherit them.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet || req.Method == http.MethodHead {
			loginHandler.ServeLogin(w, req)
			return
		}
		errorsHandler.NotFound(w, req)
	})
	r.MethodNotAllowed(errorsHandler.MethodNotAllowed)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(healthChecks(deps), func() string {
		return string(deps.Identity.Version())
	}, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Handle("/metrics", promhttp.Handler())

	// Static assets with pre-compressed file support (gzip/brotli)
	r.Handle("/static/*", fileserver.Handler("/static", "public"))

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Limit(deps.Limiter, flow.MsgTooManyAttempts, hub.RateLimited, logger))

		r.Mount(flow.PathLogin, loginfeature.Routes(loginHandler))
		r.Mount(flow.PathSignup, signupfeature.Routes(signupfeature.NewHandler(hub, logger)))
		r.Mount(flow.PathCheckEmail, checkemailfeature.Routes(checkemailfeature.NewHandler(hub, logger)))
		r.Mount(flow.PathRecoverPassword, recoveryfeature.Routes(recoveryfeature.NewHandler(hub, logger)))
		r.Mount(flow.PathSetNewPassword, newpasswordfeature.Routes(newpasswordfeature.NewHandler(hub, logger)))
		r.Mount(flow.PathLogout, logoutfeature.Routes(logoutfeature.NewHandler(hub, logger)))
		r.Mount("/auth", oauthfeature.Routes(oauthfeature.NewHandler(hub, loginHandler, logger)))
	})

	return r, nil
}

func healthChecks(deps DBDeps) []healthfeature.Check {
	checks := []healthfeature.Check{{Name: "identity", Ping: deps.Identity.Ping}}
	if deps.Audit != nil {
		checks = append(checks, healthfeature.Check{Name: "database", Ping: deps.Audit.Ping})
	}
	if deps.Redis != nil {
		checks = append(checks, healthfeature.Check{Name: "cache", Ping: func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}
