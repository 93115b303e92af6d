package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/cache"
	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/pool"
	"github.com/scanguard/scanguard/internal/storage/s3"
	"github.com/scanguard/scanguard/pkg/retry"
	"github.com/scanguard/scanguard/pkg/utils"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the persisted analysis cache",
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePushCmd)
	cacheCmd.AddCommand(cachePullCmd)
}

// openPersistedCache loads the sqlite-backed cache into a fresh
// in-memory cache so the subcommands can inspect or modify it. The
// caller must Close the returned store.
func openPersistedCache(cfg *config.Configuration, logger *utils.StructuredLogger) (*cache.UnifiedCache, *cache.PersistentStore, error) {
	mgr := pool.NewManager(pool.ManagerConfig{
		FindingsPoolSize: cfg.Cache.PoolSizes.Findings,
		StringsPoolSize:  cfg.Cache.PoolSizes.Strings,
		PathsPoolSize:    cfg.Cache.PoolSizes.Paths,
		MapsPoolSize:     cfg.Cache.PoolSizes.Maps,
	})

	c, err := cache.New(cfg.Cache, cfg.Fingerprint(), mgr, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := cache.OpenStore(cfg.Cache.Persistent.Path)
	if err != nil {
		return nil, nil, err
	}
	return c, store, nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the persisted cache contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		c, store, err := openPersistedCache(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := c.LoadSnapshot(cmd.Context(), store); err != nil {
			return err
		}

		fmt.Println(c.Report())
		util := c.Utilization()
		fmt.Printf("Utilization: %d/%d entries (%.1f%%)\n",
			util.Entries, util.MaxEntries, util.Percent)
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove persisted entries older than the configured maximum age",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}

		store, err := cache.OpenStore(cfg.Cache.Persistent.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		maxAge := time.Duration(cfg.Cache.MaxAgeHours) * time.Hour
		pruned, err := store.Prune(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d entries older than %s\n", pruned, maxAge)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every persisted cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}

		store, err := cache.OpenStore(cfg.Cache.Persistent.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Save(cmd.Context(), nil); err != nil {
			return err
		}
		fmt.Println("Cache cleared")
		return nil
	},
}

func newRemoteStore(ctx context.Context, cfg *config.Configuration) (*s3.RemoteStore, error) {
	if !cfg.Cache.Remote.Enabled {
		return nil, fmt.Errorf("remote cache is not enabled; set cache.remote.enabled or SCANGUARD_REMOTE_CACHE_BUCKET")
	}
	return s3.NewRemoteStore(ctx, s3.Config{
		Bucket:             cfg.Cache.Remote.Bucket,
		Region:             cfg.Cache.Remote.Region,
		Prefix:             cfg.Cache.Remote.Prefix,
		Endpoint:           cfg.Cache.Remote.Endpoint,
		ForcePathStyle:     cfg.Cache.Remote.ForcePathStyle,
		EnableOptimization: cfg.Cache.Remote.EnableOptimization,
	})
}

var cachePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the persisted cache to the shared remote store",
	Long: `Push uploads the local persisted cache as a snapshot keyed by the
current configuration fingerprint, so other machines running the same
configuration can pull it instead of re-analyzing unchanged files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ctx := cmd.Context()

		c, store, err := openPersistedCache(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := c.LoadSnapshot(ctx, store); err != nil {
			return err
		}
		entries := c.Snapshot()
		if len(entries) == 0 {
			return fmt.Errorf("nothing to push: the persisted cache is empty")
		}

		remote, err := newRemoteStore(ctx, cfg)
		if err != nil {
			return err
		}
		err = retry.Backoff(ctx, func(ctx context.Context) error {
			return remote.Push(ctx, c.Fingerprint(), entries)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Pushed %d entries (fingerprint %s)\n", len(entries), c.Fingerprint())
		return nil
	},
}

var cachePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download a shared cache snapshot into the local persisted cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ctx := cmd.Context()

		remote, err := newRemoteStore(ctx, cfg)
		if err != nil {
			return err
		}

		c, store, err := openPersistedCache(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		var entries []*cache.Entry
		err = retry.Backoff(ctx, func(ctx context.Context) error {
			var pullErr error
			entries, pullErr = remote.Pull(ctx, c.Fingerprint())
			return pullErr
		})
		if err != nil {
			return err
		}

		accepted := c.Restore(entries)
		if err := c.SaveSnapshot(ctx, store); err != nil {
			return err
		}
		fmt.Printf("Pulled %d entries, %d accepted\n", len(entries), accepted)
		return nil
	},
}
