/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package keypool

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestPool(keys []string, cfg Config) (*Pool, *testingclock.FakeClock) {
	fc := testingclock.NewFakeClock(epoch)
	return New(keys, cfg, WithClock(fc), WithRand(NewSeededRand(42))), fc
}

func testConfig() Config {
	return Config{
		RPMLimit:         100,
		DailyLimit:       1000,
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
		MinSpacing:       0,
	}
}

// snapshot copies every credential's current state.
func snapshot(p *Pool) []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = *c
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("drops blank entries and duplicates", func(t *testing.T) {
		p, _ := newTestPool([]string{"key-a", "", "   ", "key-b", " key-a "}, testConfig())
		snap := snapshot(p)
		assert.Len(t, snap, 2)
		assert.Equal(t, "key-a", snap[0].Key)
		assert.Equal(t, "key-b", snap[1].Key)
		for _, c := range snap {
			assert.True(t, c.Available)
			assert.Equal(t, epoch, c.MinuteWindowStart)
			assert.Equal(t, epoch, c.DayWindowStart)
		}
	})

	t.Run("applies defaults for missing ceilings", func(t *testing.T) {
		p, _ := newTestPool([]string{"key-a"}, Config{})
		assert.Equal(t, DefaultRPMLimit, p.cfg.RPMLimit)
		assert.Equal(t, DefaultDailyLimit, p.cfg.DailyLimit)
		assert.Equal(t, DefaultFailureThreshold, p.cfg.FailureThreshold)
		assert.Equal(t, DefaultCooldown, p.cfg.Cooldown)
	})

	t.Run("empty pool never selects", func(t *testing.T) {
		p, _ := newTestPool(nil, testConfig())
		_, ok := p.Select()
		assert.False(t, ok)
		assert.Equal(t, Stats{}, p.Stats())
	})
}

func TestSelect(t *testing.T) {
	t.Run("charges the selected credential", func(t *testing.T) {
		p, fc := newTestPool([]string{"key-a"}, testConfig())
		c, ok := p.Select()
		require.True(t, ok)
		assert.Equal(t, "key-a", c.Key)
		assert.Equal(t, 1, c.RequestsThisMinute)
		assert.Equal(t, 1, c.RequestsToday)
		assert.Equal(t, fc.Now(), c.LastUsedAt)
	})

	t.Run("respects the per-minute ceiling until the window rolls over", func(t *testing.T) {
		cfg := testConfig()
		cfg.RPMLimit = 2
		p, fc := newTestPool([]string{"key-a"}, cfg)

		for i := 0; i < 2; i++ {
			_, ok := p.Select()
			require.True(t, ok)
		}
		_, ok := p.Select()
		assert.False(t, ok)

		fc.Step(59 * time.Second)
		_, ok = p.Select()
		assert.False(t, ok)

		fc.Step(time.Second)
		c, ok := p.Select()
		require.True(t, ok)
		assert.Equal(t, 1, c.RequestsThisMinute)
		assert.Equal(t, 3, c.RequestsToday)
	})

	t.Run("respects the daily ceiling across minute windows", func(t *testing.T) {
		cfg := testConfig()
		cfg.DailyLimit = 3
		p, fc := newTestPool([]string{"key-a"}, cfg)

		for i := 0; i < 3; i++ {
			_, ok := p.Select()
			require.True(t, ok)
		}
		fc.Step(2 * time.Minute)
		_, ok := p.Select()
		assert.False(t, ok)

		fc.Step(24 * time.Hour)
		c, ok := p.Select()
		require.True(t, ok)
		assert.Equal(t, 1, c.RequestsToday)
	})

	t.Run("enforces minimum spacing", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinSpacing = 100 * time.Millisecond
		p, fc := newTestPool([]string{"key-a"}, cfg)

		_, ok := p.Select()
		require.True(t, ok)
		_, ok = p.Select()
		assert.False(t, ok)

		fc.Step(100 * time.Millisecond)
		_, ok = p.Select()
		assert.True(t, ok)
	})

	t.Run("is atomic with a single eligible credential", func(t *testing.T) {
		cfg := testConfig()
		cfg.RPMLimit = 1
		p, _ := newTestPool([]string{"key-a"}, cfg)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := p.Select(); ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("never over-allocates under concurrency", func(t *testing.T) {
		cfg := testConfig()
		cfg.RPMLimit = 5
		p, _ := newTestPool([]string{"key-a", "key-b", "key-c"}, cfg)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := p.Select(); ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(15), wins.Load())
		for _, c := range snapshot(p) {
			assert.LessOrEqual(t, c.RequestsThisMinute, cfg.RPMLimit)
			assert.LessOrEqual(t, c.RequestsToday, cfg.DailyLimit)
		}
	})
}

func TestPolicy(t *testing.T) {
	t.Run("custom policy receives only eligible credentials", func(t *testing.T) {
		var seen [][]int
		last := func(eligible []int, _ *rand.Rand) int {
			seen = append(seen, append([]int(nil), eligible...))
			return eligible[len(eligible)-1]
		}
		cfg := testConfig()
		cfg.RPMLimit = 1
		fc := testingclock.NewFakeClock(epoch)
		p := New([]string{"key-a", "key-b", "key-c"}, cfg, WithClock(fc), WithPolicy(last))

		c1, _ := p.Select()
		c2, _ := p.Select()
		assert.Equal(t, "key-c", c1.Key)
		assert.Equal(t, "key-b", c2.Key)
		assert.Equal(t, [][]int{{0, 1, 2}, {0, 1}}, seen)
	})

	t.Run("seeded selection is reproducible", func(t *testing.T) {
		keys := []string{"key-a", "key-b", "key-c", "key-d"}
		run := func() []string {
			p, _ := newTestPool(keys, testConfig())
			var picks []string
			for i := 0; i < 20; i++ {
				c, ok := p.Select()
				require.True(t, ok)
				picks = append(picks, c.Key)
			}
			return picks
		}
		assert.Equal(t, run(), run())
	})

	t.Run("uniform policy spreads load", func(t *testing.T) {
		cfg := testConfig()
		cfg.RPMLimit = 1000
		p, _ := newTestPool([]string{"key-a", "key-b", "key-c"}, cfg)

		counts := map[string]int{}
		for i := 0; i < 300; i++ {
			c, ok := p.Select()
			require.True(t, ok)
			counts[c.Key]++
		}
		for key, n := range counts {
			assert.Greater(t, n, 50, "key %s selected too rarely", key)
		}
		assert.Len(t, counts, 3)
	})
}

func TestFailureCooldown(t *testing.T) {
	t.Run("threshold parks the credential until cooldown elapses", func(t *testing.T) {
		p, fc := newTestPool([]string{"key-a"}, testConfig())

		p.RecordFailure("key-a")
		p.RecordFailure("key-a")
		_, ok := p.Select()
		require.True(t, ok, "two failures stay below the threshold")

		p.RecordFailure("key-a")
		_, ok = p.Select()
		assert.False(t, ok)
		assert.Equal(t, 0, p.Stats().AvailableKeys)
		assert.True(t, fc.HasWaiters())

		fc.Step(4*time.Minute + 59*time.Second)
		_, ok = p.Select()
		assert.False(t, ok)

		fc.Step(time.Second)
		c, ok := p.Select()
		require.True(t, ok)
		assert.Equal(t, 0, c.ConsecutiveFailures)
		assert.True(t, c.Available)
	})

	t.Run("extra failures during cooldown schedule one timer", func(t *testing.T) {
		p, fc := newTestPool([]string{"key-a"}, testConfig())
		for i := 0; i < 6; i++ {
			p.RecordFailure("key-a")
		}
		fc.Step(5 * time.Minute)
		assert.False(t, fc.HasWaiters())
		assert.Equal(t, 1, p.Stats().AvailableKeys)
		assert.Equal(t, 0, snapshot(p)[0].ConsecutiveFailures)
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		p, _ := newTestPool([]string{"key-a"}, testConfig())
		p.RecordFailure("key-a")
		p.RecordFailure("key-a")
		p.RecordSuccess("key-a")
		p.RecordFailure("key-a")
		assert.Equal(t, 1, snapshot(p)[0].ConsecutiveFailures)
		_, ok := p.Select()
		assert.True(t, ok)
	})

	t.Run("unknown keys are ignored", func(t *testing.T) {
		p, _ := newTestPool([]string{"key-a"}, testConfig())
		p.RecordFailure("missing")
		p.RecordSuccess("missing")
		assert.Equal(t, 0, snapshot(p)[0].ConsecutiveFailures)
	})
}

func TestStats(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLimit = 10
	p, _ := newTestPool([]string{"key-a", "key-b"}, cfg)

	for i := 0; i < 3; i++ {
		_, ok := p.Select()
		require.True(t, ok)
	}
	for i := 0; i < 3; i++ {
		p.RecordFailure("key-b")
	}

	assert.Equal(t, Stats{
		TotalKeys:                  2,
		AvailableKeys:              1,
		TotalRequestsToday:         3,
		EstimatedRemainingCapacity: 17,
	}, p.Stats())
}

func TestLoadKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("key-a\n\n  key-b  \n\t\nkey-c"), 0o600))

	keys, err := LoadKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, keys)

	_, err = LoadKeys(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
