// Package main provides a CLI tool for migrating the schema, synchronizing
// configured entity types and optionally seeding demo data.
package main

import (
	"context"
	"fmt"
	"os"

	"eavstore/internal/cache"
	"eavstore/internal/config"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/batch"
	"eavstore/internal/eav/entity"
	"eavstore/internal/eav/metadata"
	"eavstore/internal/eav/query"
	"eavstore/internal/eav/repository"
	"eavstore/internal/eav/value"
	"eavstore/internal/infrastructure/storage/postgres"
	"eavstore/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.ConnString())
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("connected to database")

	txm := postgres.NewTxManager(pool)
	strategies := backend.NewSet(cfg.TableNames())

	if err := postgres.Migrate(ctx, txm, cfg.EntityTable(), cfg.TableNames()); err != nil {
		log.Fatalw("failed to migrate schema", "error", err)
	}

	cacheManager, err := cache.NewManager(cfg.CacheOptions())
	if err != nil {
		log.Fatalw("failed to build cache", "error", err)
	}
	defer cacheManager.Close()

	registry := metadata.NewRegistry(postgres.NewMetadataRepo(txm), cacheManager)

	types := cfg.MetadataTypes()
	if len(types) == 0 {
		types = demoTypes()
		log.Info("no entity types configured, using demo catalog")
	}
	for _, entityType := range types {
		if err := registry.SyncEntityType(ctx, entityType); err != nil {
			log.Fatalw("failed to sync entity type", "entity_type", entityType.Code, "error", err)
		}
		if err := registry.SyncAttributes(ctx, entityType); err != nil {
			log.Fatalw("failed to sync attributes", "entity_type", entityType.Code, "error", err)
		}
		log.Infow("entity type synchronized",
			"entity_type", entityType.Code, "attributes", len(entityType.Attributes))
	}

	if getEnv("SEED_DEMO_DATA", "false") != "true" {
		log.Info("seeding completed successfully")
		return
	}

	values := value.NewManager(postgres.NewValueRepo(txm, strategies), strategies)
	entities := entity.NewManager(postgres.NewEntityRepo(txm, cfg.EntityTable()), values, txm, cacheManager)
	batches := batch.NewManager(entities, cfg.BatchOptions())
	exec := postgres.NewQueryExecutor(txm)
	repo := repository.NewEntities(types, entities, batches, exec, cacheManager)

	if err := seedDemoData(ctx, repo, types[0]); err != nil {
		log.Fatalw("failed to seed demo data", "error", err)
	}
	log.Info("seeding completed successfully")
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return config.Load(path)
	}
	return config.FromEnv()
}

// demoTypes returns a small product catalog used when no configuration file
// defines entity types.
func demoTypes() []*metadata.EntityType {
	minPrice := 0.0
	return []*metadata.EntityType{{
		Code:  "product",
		Label: "Product",
		Table: "eav_entity",
		Attributes: []*metadata.Attribute{
			{Code: "sku", Label: "SKU", Backend: backend.TypeVarchar, Required: true, Unique: true, Searchable: true, SortOrder: 0},
			{Code: "name", Label: "Name", Backend: backend.TypeVarchar, Required: true, Searchable: true, SortOrder: 1},
			{Code: "description", Label: "Description", Backend: backend.TypeText, Searchable: true, SortOrder: 2},
			{Code: "price", Label: "Price", Backend: backend.TypeDecimal, Required: true, Filterable: true,
				Rules: metadata.ValidationRules{Min: &minPrice}, SortOrder: 3},
			{Code: "stock", Label: "Stock", Backend: backend.TypeInt, Filterable: true, Default: 0, SortOrder: 4},
			{Code: "released_at", Label: "Released", Backend: backend.TypeDatetime, Filterable: true, SortOrder: 5},
		},
	}}
}

func seedDemoData(ctx context.Context, repo *repository.Entities, entityType *metadata.EntityType) error {
	rows := []map[string]any{
		{"sku": "SKU-0001", "name": "Steel Bolt M8", "price": "0.1200", "stock": int64(5000), "released_at": "2024-01-15 09:00:00"},
		{"sku": "SKU-0002", "name": "Steel Nut M8", "price": "0.0800", "stock": int64(7400), "released_at": "2024-01-15 09:00:00"},
		{"sku": "SKU-0003", "name": "Torque Wrench", "description": "Adjustable 10-60 Nm", "price": "89.9000", "stock": int64(12), "released_at": "2024-03-02 12:30:00"},
	}

	ids, err := repo.Batches().BatchCreate(ctx, entityType, rows)
	if err != nil {
		return fmt.Errorf("batch create: %w", err)
	}
	logger.Info(ctx, "demo entities created", "entity_type", entityType.Code, "count", len(ids))

	b, err := repo.Query(entityType.Code)
	if err != nil {
		return err
	}
	matches, err := b.
		Where("price", query.OpLt, "1.00").
		OrderBy("price", query.Desc).
		Get(ctx)
	if err != nil {
		return fmt.Errorf("demo query: %w", err)
	}
	for _, e := range matches {
		name, _ := e.Get("name")
		price, _ := e.Get("price")
		logger.Info(ctx, "demo query match", "id", e.ID, "name", name, "price", fmt.Sprint(price))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
