package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/digistore-backend/pkg/config"
)

func TestRunOnBoot(t *testing.T) {
	dev := func(auto, sqlite bool) *config.Config {
		cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
		cfg.FeatureFlags.AutoMigrate = auto
		cfg.FeatureFlags.UseSQLite = sqlite
		return cfg
	}
	assert.True(t, runOnBoot(dev(true, false)))
	assert.False(t, runOnBoot(dev(false, false)))
	assert.False(t, runOnBoot(dev(true, true)))

	prod := dev(true, false)
	prod.App.Env = "prod"
	assert.False(t, runOnBoot(prod))
	assert.False(t, runOnBoot(nil))
}

func TestOnBootSkipsWithoutTouchingDB(t *testing.T) {
	assert.NoError(t, OnBoot(context.Background(), &config.Config{}, nil, nil))
}
