package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/coordination"
	"github.com/btcdash/aggregator/internal/electrumx"
	"github.com/btcdash/aggregator/internal/keys"
)

// AddressWorker serves address-overview lookups on demand: no fixed-
// interval loop of its own (spec.md §4.7's address/transaction/wallet
// endpoints are request-driven), just the lease+wait coalescing pattern of
// internal/coordination.Coalescer wrapping internal/electrumx.Client, built
// fresh per address since the cache key is address-scoped.
type AddressWorker struct {
	client *electrumx.Client
	cache  cache.Cache
}

func NewAddressWorker(client *electrumx.Client, c cache.Cache) *AddressWorker {
	return &AddressWorker{client: client, cache: c}
}

// Run satisfies Worker; address lookups have nothing to do between
// requests, so this blocks only until ctx is canceled.
func (w *AddressWorker) Run(ctx context.Context) {
	<-ctx.Done()
}

// Overview resolves one address's overview, coalescing concurrent lookups
// for the same address into a single ElectrumX round trip.
func (w *AddressWorker) Overview(ctx context.Context, address string) ([]byte, bool, error) {
	co := coordination.NewCoalescer(w.cache, coordination.CoalesceConfig{
		FreshKey: keys.AddressOverviewCache(address),
		LockKey:  keys.AddressOverviewLock(address),
		LockTTL:  10 * time.Second,
		CacheTTL: 10 * time.Second,
		MaxWait:  5 * time.Second,
		Fetch: func() ([]byte, error) {
			overview, err := w.client.GetAddressOverview(ctx, address)
			if err != nil {
				return nil, err
			}
			return json.Marshal(overview)
		},
	}, 2*time.Second)
	return co.Resolve()
}

// Transaction resolves one txid's transaction payload, coalesced the same
// way as Overview. A verbose lookup also derives the transaction's fee by
// walking its inputs once (spec.md §4.3), rather than passing the
// ElectrumX response straight through.
func (w *AddressWorker) Transaction(ctx context.Context, txid string, verbose bool) ([]byte, bool, error) {
	co := coordination.NewCoalescer(w.cache, coordination.CoalesceConfig{
		FreshKey: keys.TxLookupCache(txid),
		LockKey:  keys.TxLookupLock(txid),
		LockTTL:  10 * time.Second,
		CacheTTL: 30 * time.Second,
		MaxWait:  5 * time.Second,
		Fetch: func() ([]byte, error) {
			if !verbose {
				return w.client.GetTransaction(ctx, txid, verbose)
			}
			tx, err := w.client.GetTransactionWithFee(ctx, txid)
			if err != nil {
				return nil, err
			}
			return json.Marshal(tx)
		},
	}, 2*time.Second)
	return co.Resolve()
}
