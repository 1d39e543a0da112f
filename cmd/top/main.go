// Command top runs the Top-N tracker worker as its own OS process
// (spec.md §2's "one-process-per-worker model"): poll getrawmempool every
// second, feed newly-fetched txids through the Top-N Tracker and the
// tx-volume/tx-fees Bucket Engines, and warm-start/persist both from disk.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/config"
	"github.com/btcdash/aggregator/internal/coordination"
	"github.com/btcdash/aggregator/internal/keys"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/nodes"
	"github.com/btcdash/aggregator/internal/snapshot"
	"github.com/btcdash/aggregator/internal/supervisor"
	"github.com/btcdash/aggregator/internal/topn"
	"github.com/btcdash/aggregator/internal/workers"
)

const topTrackerSize = 100

var logger = log.NewModuleLogger(log.WorkerTop)

func main() {
	role := os.Getenv("NODE_ROLE")
	if role == "" {
		role = "pruned"
	}
	if err := config.LoadEnvFile(fmt.Sprintf("env/.env.%s", role)); err != nil {
		logger.Warn("failed to load env file", "role", role, "err", err)
	}

	app := cli.NewApp()
	app.Name = "btcdash-top-worker"
	app.Usage = "tracks the highest-value mempool transactions ever seen"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("top worker exited with error", "err", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.FromCLIContext(c)
	if err := cfg.Validate(); err != nil {
		return err
	}

	cacheClient, err := openCache(cfg)
	if err != nil {
		return err
	}

	rpc := nodes.NewClient(cfg.NodeRPCURL, cfg.NodeRPCUser, cfg.NodeRPCPass, nodes.ConvertStringToRole(cfg.NodeRole), cfg.UpstreamTimeout)
	lease := coordination.NewLease(cacheClient, keys.BtcTopLock(), cfg.LeaseTTL, "")
	tracker := topn.NewTracker(topTrackerSize)
	events := snapshot.NewEventLog(cfg.RAMLogDir, "btc_top", 1000)
	worker := workers.NewTopWorker(rpc, cacheClient, tracker, events, lease, cfg.SnapshotDir)

	return supervisor.New(lease).Run(context.Background(), worker)
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("no redis-addr configured, falling back to an in-process cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}
