// Command network runs the network worker as its own OS process
// (spec.md §2's "one-process-per-worker model"): poll getnetworkinfo every
// 10s and publish the peer-count/protocol-version view.
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
	"github.com/btcdash/aggregator/internal/supervisor"
	"github.com/btcdash/aggregator/internal/workers"
)

var logger = log.NewModuleLogger(log.WorkerNetwork)

func main() {
	role := os.Getenv("NODE_ROLE")
	if role == "" {
		role = "pruned"
	}
	if err := config.LoadEnvFile(fmt.Sprintf("env/.env.%s", role)); err != nil {
		logger.Warn("failed to load env file", "role", role, "err", err)
	}

	app := cli.NewApp()
	app.Name = "btcdash-network-worker"
	app.Usage = "polls the Bitcoin node's peer/network info and publishes it to the shared cache"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("network worker exited with error", "err", err)
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
	lease := coordination.NewLease(cacheClient, keys.NetworkLock(), cfg.LeaseTTL, "")
	worker := workers.NewNetworkWorker(rpc, cacheClient, lease)

	return supervisor.New(lease).Run(context.Background(), worker)
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("no redis-addr configured, falling back to an in-process cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}
