// Command blockchain runs the blockchain worker as its own OS process
// (spec.md §2's "one-process-per-worker model"): poll getblockchaininfo and
// getblock once a second, publish the dynamic/static views, and feed the
// difficulty/hashrate Bucket Engines on every new best block.
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

var logger = log.NewModuleLogger(log.WorkerBlockch)

func main() {
	// env/.env.<role> must be loaded before app.Run parses flags, since
	// urfave/cli resolves each flag's EnvVar default at flag-registration
	// time. The role itself can only come from the process environment at
	// this point, matching the original's load-env-before-anything-else
	// ordering in nodes/config.py.
	role := os.Getenv("NODE_ROLE")
	if role == "" {
		role = "full"
	}
	if err := config.LoadEnvFile(fmt.Sprintf("env/.env.%s", role)); err != nil {
		logger.Warn("failed to load env file", "role", role, "err", err)
	}

	app := cli.NewApp()
	app.Name = "btcdash-blockchain-worker"
	app.Usage = "polls the Bitcoin node for chain state and publishes it to the shared cache"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("blockchain worker exited with error", "err", err)
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
	lease := coordination.NewLease(cacheClient, keys.BlockchainLock(), cfg.LeaseTTL, "")
	worker := workers.NewBlockchainWorker(rpc, cacheClient, lease)

	return supervisor.New(lease).Run(context.Background(), worker)
}

// openCache builds the shared-cache client: Redis if configured, otherwise
// an in-process MemoryCache (useful for a single-node smoke test, but
// useless across processes since nothing else shares its memory).
func openCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("no redis-addr configured, falling back to an in-process cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}
