// Command api runs component G, the read-only HTTP API, plus the two
// workers that are driven by HTTP requests rather than a fixed-interval
// poll: the ElectrumX address/transaction/wallet lookups (AddressWorker) and
// the pageview-ingest traffic worker (TrafficWorker). Neither needs the
// process-wide Supervisor lock component H guards the pollers with: an
// AddressWorker lookup is scoped per-request via the coordination
// package's lease+wait pattern, and running more than one TrafficWorker
// would only matter if more than one API replica pushed pageviews;
// nothing here coordinates TrafficWorkers across replicas.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/btcdash/aggregator/internal/api"
	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/config"
	"github.com/btcdash/aggregator/internal/electrumx"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/workers"
)

var logger = log.NewModuleLogger(log.API)

func main() {
	role := os.Getenv("NODE_ROLE")
	if role == "" {
		role = "full"
	}
	if err := config.LoadEnvFile(fmt.Sprintf("env/.env.%s", role)); err != nil {
		logger.Warn("failed to load env file", "role", role, "err", err)
	}

	app := cli.NewApp()
	app.Name = "btcdash-api"
	app.Usage = "serves the read-only dashboard API over the shared cache"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("api server exited with error", "err", err)
	}
}

// run skips cfg.Validate(): the API process never calls the node RPC
// client directly, so node-rpc-user/pass/url are not required here even
// though the worker processes treat them as mandatory.
func run(c *cli.Context) error {
	cfg := config.FromCLIContext(c)

	cacheClient, err := openCache(cfg)
	if err != nil {
		return err
	}

	electrumxClient := electrumx.NewClient(cfg.ElectrumXHost, cfg.ElectrumXPort, cfg.UpstreamTimeout)
	addressWorker := workers.NewAddressWorker(electrumxClient, cacheClient)
	trafficWorker := workers.NewTrafficWorker(cacheClient, time.Now().UnixMilli(), cfg.SnapshotDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trafficWorker.Run(ctx)

	server := api.NewServer(cacheClient, addressWorker, trafficWorker)

	logger.Info("listening", "addr", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, server.Handler())
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("no redis-addr configured, falling back to an in-process cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}
