// Package btcconst holds the handful of protocol constants the blockchain
// worker needs to derive hashrate and halving countdowns (spec.md §4.3),
// lifted from the original service's redis_keys module.
package btcconst

const (
	// InitialBlockReward is the block subsidy in whole BTC before any
	// halving, used only for display; satoshi arithmetic never depends on
	// this float.
	InitialBlockReward = 50

	// HalvingInterval is the number of blocks between subsidy halvings.
	HalvingInterval = 210_000

	// LastHalvingBlock is the height of the most recent halving at the
	// time this service was written. The next halving is at
	// LastHalvingBlock + HalvingInterval.
	LastHalvingBlock = 840_000

	// BlockTimeSeconds is the target time between blocks, used to convert
	// a block-count countdown into a seconds estimate.
	BlockTimeSeconds = 10 * 60
)

// HalvingCountdown returns the number of blocks and estimated seconds until
// the next halving given the current height. See spec.md §8 scenario 6.
func HalvingCountdown(currentHeight int64) (blocksRemaining int64, secondsRemaining int64) {
	nextHalvingBlock := int64(LastHalvingBlock)
	for nextHalvingBlock <= currentHeight {
		nextHalvingBlock += HalvingInterval
	}
	blocksRemaining = nextHalvingBlock - currentHeight
	secondsRemaining = blocksRemaining * BlockTimeSeconds
	return blocksRemaining, secondsRemaining
}

// HashrateEHs derives hashrate in EH/s from chain difficulty, following the
// standard difficulty-to-hashrate formula: hashes/sec = difficulty * 2^32 / 600.
func HashrateEHs(difficulty float64) float64 {
	const twoPow32 = 4294967296.0
	hashesPerSec := difficulty * twoPow32 / float64(BlockTimeSeconds)
	return hashesPerSec / 1e18
}
