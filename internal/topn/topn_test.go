package topn

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/keys"
)

func fetchFrom(values map[string]float64) VerboseFetchFunc {
	return func(id string) (float64, error) {
		v, ok := values[id]
		if !ok {
			return 0, fmt.Errorf("no fixture value for %s", id)
		}
		return v, nil
	}
}

// Scenario 4 from spec.md §8: top-K eviction, K=3.
func TestTracker_EvictionScenario(t *testing.T) {
	tr := NewTracker(3)
	values := map[string]float64{"a": 5, "b": 1, "c": 9, "d": 2, "e": 8}

	_, err := tr.Tick([]string{"a", "b", "c", "d", "e"}, 1000, fetchFrom(values))
	require.NoError(t, err)

	cur := tr.Current()
	require.Len(t, cur, 3)
	assert.Equal(t, []string{"c", "e", "a"}, idsOf(cur))

	// "c" (value 9) leaves the upstream mempool.
	_, err = tr.Tick([]string{"a", "b", "d", "e"}, 2000, fetchFrom(values))
	require.NoError(t, err)

	cur = tr.Current()
	require.Len(t, cur, 3)
	assert.Equal(t, []string{"e", "a", "d"}, idsOf(cur))
}

func idsOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// Top-K liveness (spec.md §8): every id in the current list is a member of
// the most recent upstream sample, and no id appears twice.
func TestTracker_LivenessAndNoDuplicates(t *testing.T) {
	tr := NewTracker(3)
	values := map[string]float64{"a": 5, "b": 1, "c": 9, "d": 2, "e": 8}
	upstream := []string{"a", "b", "c", "d", "e"}

	_, err := tr.Tick(upstream, 1000, fetchFrom(values))
	require.NoError(t, err)

	live := make(map[string]bool, len(upstream))
	for _, id := range upstream {
		live[id] = true
	}
	seen := make(map[string]bool)
	for _, e := range tr.Current() {
		assert.True(t, live[e.ID], "id %s in current list must be present upstream", e.ID)
		assert.False(t, seen[e.ID], "id %s appeared twice in current list", e.ID)
		seen[e.ID] = true
	}
}

// An id already recorded in the ever-seen index is reinstated into the
// dedup set without a second fetch (spec.md §4.5 step 3).
func TestTracker_ReinstatesFromEverWithoutRefetch(t *testing.T) {
	tr := NewTracker(2)
	fetchCount := map[string]int{}
	fetch := func(values map[string]float64) VerboseFetchFunc {
		return func(id string) (float64, error) {
			fetchCount[id]++
			return values[id], nil
		}
	}

	values := map[string]float64{"x": 10, "y": 20}
	_, err := tr.Tick([]string{"x", "y"}, 1000, fetch(values))
	require.NoError(t, err)
	require.Equal(t, 1, fetchCount["x"])
	require.Equal(t, 1, fetchCount["y"])

	// x drops out of the mempool, then reappears; since it's still in the
	// ever-top index it must not be re-fetched.
	_, err = tr.Tick([]string{"y"}, 2000, fetch(values))
	require.NoError(t, err)

	_, err = tr.Tick([]string{"x", "y"}, 3000, fetch(values))
	require.NoError(t, err)
	assert.Equal(t, 1, fetchCount["x"], "x must not be fetched a second time once recorded in the ever-top list")

	v, ok := tr.ValueOf("x")
	require.True(t, ok)
	assert.Equal(t, 10.0, v)
}

func TestTracker_EverListIsMonotonicAcrossEvictions(t *testing.T) {
	tr := NewTracker(2)
	values := map[string]float64{"a": 1, "b": 2, "c": 100}

	_, err := tr.Tick([]string{"a", "b"}, 1000, fetchFrom(values))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, idsOf(tr.Ever()))

	// c (much larger) appears, evicting both a and b from current, but the
	// ever-list must retain its two highest values ever observed.
	_, err = tr.Tick([]string{"c"}, 2000, fetchFrom(values))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, idsOf(tr.Ever()), "ever list keeps the two highest values ever seen")
	assert.Equal(t, []string{"c"}, idsOf(tr.Current()), "current list only contains currently-live ids")
}

func TestTracker_NewlyFetchedReturnedForLogging(t *testing.T) {
	tr := NewTracker(5)
	values := map[string]float64{"a": 1, "b": 2}

	fresh, err := tr.Tick([]string{"a", "b"}, 1000, fetchFrom(values))
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	fresh, err = tr.Tick([]string{"a", "b"}, 2000, fetchFrom(values))
	require.NoError(t, err)
	assert.Empty(t, fresh, "already-known live ids must not be reported as newly fetched")
}

func TestTracker_SkipsIDOnFetchError(t *testing.T) {
	tr := NewTracker(5)
	fetch := func(id string) (float64, error) {
		if id == "bad" {
			return 0, fmt.Errorf("rpc timeout")
		}
		return 1.0, nil
	}
	fresh, err := tr.Tick([]string{"good", "bad"}, 1000, fetch)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
	assert.Equal(t, "good", fresh[0].ID)
	_, ok := tr.ValueOf("bad")
	assert.False(t, ok)
}

func TestTracker_RestoreEverSeedsIndexForReinstatement(t *testing.T) {
	tr := NewTracker(3)
	tr.RestoreEver([]Entry{{ID: "old", BTCValue: 50, ObservedMs: 1}})

	fetchCount := 0
	fetch := func(id string) (float64, error) {
		fetchCount++
		return 1, nil
	}
	_, err := tr.Tick([]string{"old"}, 2000, fetch)
	require.NoError(t, err)
	assert.Equal(t, 0, fetchCount, "restored ever entries must be reinstated without fetching")

	v, ok := tr.ValueOf("old")
	require.True(t, ok)
	assert.Equal(t, 50.0, v)
}

func TestTracker_Publish(t *testing.T) {
	tr := NewTracker(2)
	values := map[string]float64{"a": 1, "b": 2}
	_, err := tr.Tick([]string{"a", "b"}, 1000, fetchFrom(values))
	require.NoError(t, err)

	c := cache.NewMemoryCache()
	require.NoError(t, tr.Publish(c, keys.BtcTopTxs(), keys.BtcTopSeen(), keys.BtcTopStats(), 5000))

	raw, ok, err := c.Get(keys.BtcTopTxs())
	require.NoError(t, err)
	require.True(t, ok)
	var current []Entry
	require.NoError(t, json.Unmarshal(raw, &current))
	assert.Equal(t, []string{"b", "a"}, idsOf(current))

	raw, ok, err = c.Get(keys.BtcTopStats())
	require.NoError(t, err)
	require.True(t, ok)
	var stats statsPayload
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.EqualValues(t, 5000, stats.UpdatedMs)
}
