package main

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"container-telemetry/loadgen/internal/config"
	"container-telemetry/loadgen/internal/store"
)

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		log.Fatal(err)
	}
	cfg := config.Load()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rs.Close()
	fmt.Println("✓ Connected")

	step1_api_keys(ctx, rs.Client(), cfg)
	step2_verify(ctx, rs)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/loadgen sink")
}

func step1_api_keys(ctx context.Context, client *redis.Client, cfg *config.Config) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	// container:auth:{api_key} → owner, read by auth.Authenticator
	// TTL 0 keeps them until removed
	apiKeys := map[string]string{
		"container:auth:reefer_fleet_key": "reefer_fleet",
		"container:auth:dry_fleet_key":    "dry_fleet",
		"container:auth:test_key":         "test_fleet",
	}
	if cfg.APIKey != "" {
		apiKeys["container:auth:"+cfg.APIKey] = "loadgen"
	}

	for key, owner := range apiKeys {
		if err := client.Set(ctx, key, owner, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", key, owner)
	}
}

func step2_verify(ctx context.Context, rs *store.RedisStore) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	keys, err := rs.Client().Keys(ctx, "container:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	owner, err := rs.GetAPIKey(ctx, "test_key")
	if err != nil || owner == "" {
		log.Fatalf("Spot check failed: %q %v", owner, err)
	}
	fmt.Printf("  ✓ spot check: container:auth:test_key → %s\n", owner)
}
