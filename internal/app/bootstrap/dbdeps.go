// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/authhub/internal/app/store/audit"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/metrics"
	"github.com/dalemusser/authhub/internal/app/system/ratelimit"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds back-end dependencies for the app. The Mongo and Redis
// clients are nil when not configured.
type DBDeps struct {
	Identity *identity.Factory

	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database
	Audit         *audit.Store

	Redis *redis.Client

	// Limiter throttles form submissions; nil disables rate limiting.
	// memLimiter is set when counters are kept in process.
	Limiter    ratelimit.Backend
	memLimiter *ratelimit.Limiter

	Metrics *metrics.Recorder
}
