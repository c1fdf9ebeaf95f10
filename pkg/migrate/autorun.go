package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

// runOnBoot is true only for a dev deployment on postgres that opted in with
// DIGISTORE_AUTO_MIGRATE. sqlite test databases get their schema from dbtest.
func runOnBoot(cfg *config.Config) bool {
	return cfg != nil && cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate && !cfg.FeatureFlags.UseSQLite
}

// OnBoot brings the schema up to the embedded head when runOnBoot allows it.
func OnBoot(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !runOnBoot(cfg) {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("boot migrations: %w", err)
	}
	if err := Run(ctx, sqlDB, EmbeddedDir, "up"); err != nil {
		return fmt.Errorf("boot migrations: %w", err)
	}
	logg.Info(logg.WithField(ctx, "migrations", "embedded"), "schema migrated on boot")
	return nil
}
