package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
	"github.com/vegasq/deltagate"
	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/catalog/local"
	"github.com/vegasq/deltagate/catalog/unity"
	"github.com/vegasq/deltagate/credcache"
	"github.com/vegasq/deltagate/internal/config"
	"github.com/vegasq/deltagate/mutation"
	"github.com/vegasq/deltagate/storage"
	"github.com/vegasq/deltagate/tracing"
)

// loadConfig reads defaults, the config file, env and flags, in rising
// priority, and validates the result.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newCatalog(cfg config.Config, logger *slog.Logger) (catalog.Catalog, error) {
	switch cfg.Catalog.Type {
	case "local":
		return local.Open(cfg.Catalog.Warehouse, local.WithCredentialTTL(cfg.Catalog.CredentialTTL))
	case "unity":
		return unity.New(unity.Config{
			Endpoint:          cfg.Catalog.Endpoint,
			Token:             cfg.Catalog.Token,
			Timeout:           cfg.Catalog.Timeout,
			RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
			Burst:             cfg.Catalog.Burst,
		}, logger)
	}
	return nil, fmt.Errorf("unknown catalog type %q", cfg.Catalog.Type)
}

// env is everything a command needs, built once from config.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	gateway  *deltagate.Gateway
	catalog  catalog.Catalog
	shutdown func()
}

func newEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	_, shutdown, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       cfg.OTel.Exporter,
		Endpoint:       cfg.OTel.Endpoint,
		SampleRatio:    cfg.OTel.SampleRatio,
		ServiceVersion: Version,
		CatalogType:    cfg.Catalog.Type,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	cat, err := newCatalog(cfg, logger)
	if err != nil {
		shutdown()
		return nil, err
	}

	gw := deltagate.New(cat,
		deltagate.WithLogger(logger),
		deltagate.WithStorageLocation(cfg.Catalog.StorageLocation),
		deltagate.WithCacheOptions(
			credcache.WithTTL(cfg.Cache.TTL),
			credcache.WithMaxEntries(cfg.Cache.MaxEntries),
			credcache.WithKeyByMode(cfg.Cache.KeyByMode),
		),
		deltagate.WithStorageOptions(storage.Options{
			S3Endpoint:  cfg.Storage.S3.Endpoint,
			S3Region:    cfg.Storage.S3.Region,
			S3PathStyle: cfg.Storage.S3.PathStyle,
		}),
		deltagate.WithMutationOptions(
			mutation.WithTargetFileSize(cfg.Table.TargetFileSize),
			mutation.WithMinRetention(cfg.Table.MinRetention),
		),
	)
	return &env{cfg: cfg, logger: logger, gateway: gw, catalog: cat, shutdown: shutdown}, nil
}
