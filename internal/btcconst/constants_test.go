package btcconst

import "testing"

func TestHalvingCountdown(t *testing.T) {
	blocks, seconds := HalvingCountdown(857500)
	if blocks != 192500 {
		t.Fatalf("blocks = %d, want 192500", blocks)
	}
	if seconds != 192500*600 {
		t.Fatalf("seconds = %d, want %d", seconds, 192500*600)
	}
}

func TestHalvingCountdownExactlyAtHalving(t *testing.T) {
	blocks, _ := HalvingCountdown(LastHalvingBlock)
	if blocks != HalvingInterval {
		t.Fatalf("blocks = %d, want %d", blocks, HalvingInterval)
	}
}
