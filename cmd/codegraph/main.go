package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/carmcp/codegraph-go/internal/cache"
	"github.com/carmcp/codegraph-go/internal/embeddings"
	"github.com/carmcp/codegraph-go/internal/metrics"
	"github.com/carmcp/codegraph-go/pkg/graph"
)

var (
	dbPath    = flag.String("db-path", "", "Database file path (default: $CODEGRAPH_DB_PATH or ./codegraph.db)")
	backupDir = flag.String("backup-dir", "", "Backup directory (default: $CODEGRAPH_BACKUP_DIR or ./backups)")
	redisAddr = flag.String("redis-addr", "", "Redis address for the read-through cache (default: $CODEGRAPH_REDIS_ADDR; empty disables caching)")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: codegraph [flags] <command>

Commands:
  stats            Print a JSON summary of the graph contents
  backup           Write a timestamped database copy plus stats sidecar
  clear            Delete all entities, relations, and observations
  restore <file>   Replace the live database with a backup file

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, aborting...")
		cancel()
	}()

	metrics.InitFromEnv()

	cfg, err := graph.NewConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.Path = *dbPath
	}
	if *backupDir != "" {
		cfg.BackupDir = *backupDir
	}

	var opts []graph.Option
	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("CODEGRAPH_REDIS_ADDR")
	}
	if addr != "" {
		provider, err := cache.NewRedisProvider(&redis.Options{Addr: addr})
		if err != nil {
			log.Printf("Warning: cache disabled: %v", err)
		} else {
			defer provider.Close()
			opts = append(opts, graph.WithCacheProvider(provider))
		}
	}
	if embedFn := embeddings.Adapt(embeddings.NewFromEnv()); embedFn != nil {
		opts = append(opts, graph.WithEmbeddingFunc(embedFn))
	}

	g, err := graph.Open(ctx, cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to open graph: %v", err)
	}
	defer func() {
		if err := g.Close(); err != nil {
			log.Printf("Error closing graph: %v", err)
		}
	}()

	if err := run(ctx, g, flag.Args()); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

func run(ctx context.Context, g *graph.Graph, args []string) error {
	switch args[0] {
	case "stats":
		stats, err := g.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	case "backup":
		info, err := g.Backup(ctx, "")
		if err != nil {
			return err
		}
		return printJSON(info)
	case "clear":
		result, err := g.Clear(ctx)
		if err != nil {
			return err
		}
		return printJSON(result)
	case "restore":
		if len(args) < 2 {
			return fmt.Errorf("restore requires a backup file argument")
		}
		if err := g.Restore(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("restored from %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
