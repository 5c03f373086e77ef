package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gitlake/gitlake/internal/api"
	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/config"
	"github.com/gitlake/gitlake/internal/engine"
	"github.com/gitlake/gitlake/internal/enginecache"
	"github.com/gitlake/gitlake/internal/metastore"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: gitlake <command>\n\nCommands:\n  serve    Start the server\n  migrate  Run database migrations\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	metaDB, err := openMetaDB(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer metaDB.Close()

	if err := metaDB.Migrate(context.Background()); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	backend, err := openBlobBackend(cfg)
	if err != nil {
		log.Fatalf("open blob storage: %v", err)
	}

	adCache := enginecache.NewAdvertisementCache(advertisementTTL(cfg))
	kv := openKV(cfg)

	eng := engine.New(backend, metaDB, adCache, kv)
	server := api.NewServer(cfg, metaDB, eng, backend)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)

	go func() {
		log.Printf("gitlake listening on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-done
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
}

func cmdMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	metaDB, err := openMetaDB(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer metaDB.Close()

	if err := metaDB.Migrate(context.Background()); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations complete")
}

func openMetaDB(cfg *config.Config) (metastore.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return metastore.OpenSQLite(cfg.Database.DSN)
	case "postgres":
		return metastore.OpenPostgres(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func openBlobBackend(cfg *config.Config) (blobstore.Backend, error) {
	switch cfg.Storage.Driver {
	case "local", "":
		return blobstore.NewLocalBackend(cfg.Storage.Path)
	case "s3":
		return blobstore.NewS3Backend(blobstore.S3Config{
			Endpoint:  cfg.Storage.S3.Endpoint,
			Bucket:    cfg.Storage.S3.Bucket,
			Region:    cfg.Storage.S3.Region,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			UseSSL:    cfg.Storage.S3.UseSSL,
			PathStyle: cfg.Storage.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// openKV constructs the optional out-of-process cache tier. A nil KV is a
// fully supported configuration. The engine only calls DeletePattern on the
// KV after a push; no object, file, tree or ref lookup reads from or writes
// to it.
func openKV(cfg *config.Config) enginecache.KV {
	if cfg.Cache.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	return enginecache.NewRedisKV(client)
}

func advertisementTTL(cfg *config.Config) time.Duration {
	if cfg.Cache.AdvertisementTTLMillis <= 0 {
		return enginecache.DefaultAdvertisementTTL
	}
	return time.Duration(cfg.Cache.AdvertisementTTLMillis) * time.Millisecond
}
