package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/amberpages/classifieds/internal/api"
	"github.com/amberpages/classifieds/internal/config"
	"github.com/amberpages/classifieds/internal/geo"
	"github.com/amberpages/classifieds/internal/media"
	"github.com/amberpages/classifieds/internal/pkg/distlock"
	"github.com/amberpages/classifieds/internal/pkg/httpretry"
	"github.com/amberpages/classifieds/internal/repository/dynamo"
	"github.com/amberpages/classifieds/internal/repository/memory"
	"github.com/amberpages/classifieds/internal/repository/postgres"
	"github.com/amberpages/classifieds/internal/service/admission"
	"github.com/amberpages/classifieds/internal/service/listing"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("AmberPages classifieds server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx := context.Background()

	// Listing store
	repo, db, err := buildRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize listing store: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	// Attempt log: Redis when configured, in-process otherwise
	var attemptLog admission.AttemptLog
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		redisLog, err := admission.NewRedisLogFromURL(cfg.Redis.URL, 2*cfg.Admission.Window())
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		attemptLog = redisLog
		redisClient = redisLog.Client()
		log.Println("Attempt log: Redis")
	} else {
		attemptLog = admission.NewMemoryLog()
		log.Println("Attempt log: in-process (single instance only)")
	}

	gate := admission.NewGate(repo, attemptLog, admission.Config{
		Window:      cfg.Admission.Window(),
		MaxAttempts: cfg.Admission.MaxAttempts,
	})

	listingSvc := listing.NewService(repo, gate)
	// Redis when available, PG advisory locks otherwise; memory and dynamo
	// deployments without Redis rely on store uniqueness alone.
	if redisClient != nil || db != nil {
		listingSvc.SetLockFactory(func(key string) listing.Lock {
			return distlock.NewLock(redisClient, db, "submit:"+key, 30*time.Second)
		})
	}

	handlers := api.NewHandlers(listingSvc)

	// Media uploads and URL resolution (optional)
	if cfg.Media.Enabled && cfg.Media.S3Bucket != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg.Media.S3Region, cfg.Media.AWSProfile)
		if err != nil {
			log.Fatalf("Failed to load AWS config for media: %v", err)
		}
		s3Client := s3.NewFromConfig(awsCfg)
		handlers.SetMediaResolver(media.NewResolver(s3Client, media.ResolverConfig{
			Bucket:         cfg.Media.S3Bucket,
			DefaultKey:     cfg.Media.DefaultKey,
			PlaceholderURL: cfg.Media.PlaceholderURL,
			PresignTTL:     cfg.Media.PresignTTL(),
		}))
		handlers.SetMediaIngester(media.NewIngester(s3Client, cfg.Media.S3Bucket))
		log.Printf("Media enabled (bucket %s)", cfg.Media.S3Bucket)
	}

	// Reverse geocoding (optional)
	if cfg.Geocoding.Enabled {
		client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Geocoding.Timeout()}, 2)
		handlers.SetGeocoder(geo.NewChain(
			geo.NewNominatimProvider(cfg.Geocoding.PrimaryURL, client),
			geo.NewBigDataCloudProvider(cfg.Geocoding.FallbackURL, client),
		))
		log.Println("Reverse geocoding enabled")
	}

	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", host, port)
	go func() {
		log.Printf("Listening on http://%s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func buildRepository(ctx context.Context, cfg *config.Config) (listing.Repository, *sql.DB, error) {
	switch cfg.Store.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("pinging database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		log.Println("Listing store: PostgreSQL")
		return postgres.NewListingRepo(db), db, nil
	case "dynamodb":
		repo, err := dynamo.NewListingRepoFromConfig(ctx,
			cfg.Store.DynamoDBTable, cfg.Store.AWSRegion, cfg.Store.GetAWSProfile())
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Listing store: DynamoDB (table %s)", cfg.Store.DynamoDBTable)
		return repo, nil, nil
	default:
		log.Println("Listing store: in-memory (data is not persisted)")
		return memory.NewListingRepo(), nil, nil
	}
}

func loadAWSConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	if profile != "" {
		return awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	}
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
}
