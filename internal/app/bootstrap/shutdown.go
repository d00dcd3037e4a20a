// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown cleanly tears down connections and background workers.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	return deps.close(ctx, logger)
}

func (d DBDeps) close(ctx context.Context, logger *zap.Logger) error {
	var errs []error
	if d.memLimiter != nil {
		d.memLimiter.Stop()
	}
	if d.Redis != nil {
		logger.Info("closing Redis client")
		if err := d.Redis.Close(); err != nil {
			logger.Error("Redis close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if d.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := d.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
