// Command trellis is the CLI for the design-document version-control engine.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/trellishq/trellis/internal/cache"
	"github.com/trellishq/trellis/internal/config"
	"github.com/trellishq/trellis/internal/engine"
	"github.com/trellishq/trellis/internal/store"
)

var (
	flagConfig  string
	flagDBPath  string
	flagProject string
	flagAuthor  string
)

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Version control for design documents",
	Long: `Trellis tracks hierarchical design documents the way git tracks code:
immutable content-addressed commits, cheap branch forks, structural diffs,
and explicit merge conflict resolution at the node-property level.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Database file (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "default", "Project id")
	rootCmd.PersistentFlags().StringVarP(&flagAuthor, "author", "a", defaultAuthor(), "Acting user")
}

func defaultAuthor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// openEngine loads configuration and wires the engine with its store and
// comparison cache. The returned closer must be deferred.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.DBPath
	if flagDBPath != "" {
		dbPath = flagDBPath
	}

	var storeOpts []store.Option
	if cfg.S3.Bucket != "" {
		client := s3.New(s3.Options{Region: cfg.S3.Region})
		storeOpts = append(storeOpts, store.WithObjectStore(store.NewS3ObjectStore(client, cfg.S3.Bucket)))
	}

	db, err := store.Open(dbPath, storeOpts...)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	logger := config.NewLogger(cfg.Log, "[trellis] ")

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		backend, err := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Prefix)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		opts = append(opts, engine.WithComparisonCache(backend, cfg.CompareTTL))
	} else {
		opts = append(opts, engine.WithComparisonCache(cache.NewMemory(256, cfg.CompareTTL), cfg.CompareTTL))
	}

	eng := engine.New(db, opts...)
	closer := func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return eng, closer, nil
}

func formatAge(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
