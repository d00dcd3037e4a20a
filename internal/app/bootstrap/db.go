// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dalemusser/authhub/internal/app/store/audit"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/metrics"
	"github.com/dalemusser/authhub/internal/app/system/ratelimit"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB connects to the identity backend and the optional audit and
// rate limit stores.
//
// The identity adapter is chosen here, once, by probing the backend's
// health endpoint unless identity_api_version forces one. MongoDB and
// Redis are skipped when their URLs are blank.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	var deps DBDeps

	f, err := identity.NewFactory(identity.Config{
		URL:        appCfg.IdentityURL,
		AnonKey:    appCfg.IdentityAnonKey,
		Version:    identity.ParseVersion(appCfg.IdentityAPIVersion),
		HTTPClient: &http.Client{Timeout: timeouts.Medium()},
		Log:        logger,
	})
	if err != nil {
		return deps, fmt.Errorf("identity backend: %w", err)
	}
	version := f.Probe(ctx)
	deps.Identity = f

	deps.Metrics = metrics.New(nil)
	deps.Metrics.BackendSelected(version)

	if appCfg.MongoURI != "" {
		client, err := connectMongo(ctx, appCfg.MongoURI)
		if err != nil {
			return deps, err
		}
		deps.MongoClient = client
		deps.MongoDatabase = client.Database(appCfg.MongoDatabase)
		deps.Audit = audit.New(deps.MongoDatabase, appCfg.AuditRetention)
		logger.Info("connected to MongoDB", zap.String("database", appCfg.MongoDatabase))
	}

	if appCfg.RateLimitRequests > 0 {
		if appCfg.RedisURL != "" {
			rctx, cancel := context.WithTimeout(ctx, timeouts.Ping())
			client, err := ratelimit.Connect(rctx, appCfg.RedisURL)
			cancel()
			if err != nil {
				_ = deps.close(context.Background(), logger)
				return deps, err
			}
			deps.Redis = client
			deps.Limiter = ratelimit.NewRedis(client, appCfg.RateLimitRequests, appCfg.RateLimitWindow)
			logger.Info("rate limits shared through Redis")
		} else {
			deps.memLimiter = ratelimit.New(appCfg.RateLimitRequests, appCfg.RateLimitWindow)
			deps.Limiter = deps.memLimiter
		}
	}

	return deps, nil
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect MongoDB: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return client, nil
}

// EnsureSchema creates the audit trail indexes, including the TTL index
// that expires old events.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Audit == nil {
		return nil
	}
	ictx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()
	if err := deps.Audit.EnsureIndexes(ictx); err != nil {
		logger.Error("audit index setup failed", zap.Error(err))
		return err
	}
	return nil
}
