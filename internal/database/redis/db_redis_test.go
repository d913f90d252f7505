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

// Test for the redis checkpoint database.

package redis_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	dbredis "github.com/llm-d-incubation/batch-dispatcher/internal/database/redis"
	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
	uredis "github.com/llm-d-incubation/batch-dispatcher/internal/util/redis"
)

const (
	ServiceName = "test-service"
)

var (
	redisUrl string
	minirds  *miniredis.Miniredis
)

func TestCheckpointDBRedis(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Checkpoint DB Redis Suite")
}

var _ = BeforeSuite(func() {
	redisUrl = os.Getenv("TEST_REDIS_URL")
	if redisUrl == "" {
		minirds = miniredis.RunT(GinkgoT())
		Expect(minirds).ToNot(BeNil())
		redisUrl = "redis://" + minirds.Addr()
	}
})

func sampleCheckpoint(processed int) *api.Checkpoint {
	return &api.Checkpoint{
		ProcessedCount: processed,
		TotalCount:     10,
		SuccessCount:   processed,
		ElapsedTime:    1.5,
		KeyStats:       keypool.Stats{TotalKeys: 1, AvailableKeys: 1, TotalRequestsToday: processed, EstimatedRemainingCapacity: 1450 - processed},
		Results:        []api.Result{{Question: "What is <b>Go</b>?", Response: "a language"}},
	}
}

var _ = Describe("Checkpoint database using redis", func() {
	var (
		db  *dbredis.CheckpointDBRedis
		fc  *testingclock.FakeClock
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = dbredis.NewCheckpointDBRedis(ctx, &uredis.RedisClientConfig{
			Url:         redisUrl,
			ServiceName: ServiceName,
			KeyPrefix:   "test-" + uuid.NewString()[:8] + ":",
			Timeout:     time.Second,
		})
		Expect(err).To(BeNil())
		fc = testingclock.NewFakeClock(time.Date(2026, 7, 8, 9, 10, 11, 0, time.Local))
		db.SetClock(fc)
	})

	AfterEach(func() {
		if db != nil {
			Expect(db.Close()).To(Succeed())
		}
	})

	It("should reject a nil config", func() {
		_, err := dbredis.NewCheckpointDBRedis(ctx, nil)
		Expect(err).To(HaveOccurred())
	})

	It("should report an empty store", func() {
		records, err := db.List(ctx)
		Expect(err).To(BeNil())
		Expect(records).To(BeEmpty())

		_, err = db.Latest(ctx)
		Expect(err).To(MatchError(api.ErrNotFound))
	})

	It("should save and load a checkpoint", func() {
		rec, err := db.Save(ctx, "", sampleCheckpoint(3))
		Expect(err).To(BeNil())
		Expect(rec.Sequence).To(Equal(int64(1)))
		Expect(rec.Name).To(Equal("checkpoint_000001_2026-07-08_09-10-11.json"))
		Expect(rec.Size).To(BeNumerically(">", 0))

		cp, err := db.Load(ctx, rec.Name)
		Expect(err).To(BeNil())
		Expect(cp.Sequence).To(Equal(int64(1)))
		Expect(cp.Timestamp).To(Equal("2026-07-08_09-10-11"))
		Expect(cp.ProcessedCount).To(Equal(3))
		Expect(cp.KeyStats.EstimatedRemainingCapacity).To(Equal(1447))
		Expect(cp.Results).To(Equal([]api.Result{{Question: "What is <b>Go</b>?", Response: "a language"}}))
	})

	It("should return not found for a missing checkpoint", func() {
		_, err := db.Load(ctx, "checkpoint_000042_2026-01-01_00-00-00.json")
		Expect(err).To(MatchError(api.ErrNotFound))
	})

	It("should keep every save as a distinct record ordered by sequence", func() {
		for i := 1; i <= 3; i++ {
			_, err := db.Save(ctx, "", sampleCheckpoint(i))
			Expect(err).To(BeNil())
		}
		fc.Step(time.Minute)
		final, err := db.Save(ctx, api.LabelFinal, sampleCheckpoint(10))
		Expect(err).To(BeNil())
		Expect(final.Name).To(Equal("checkpoint_000004_final_2026-07-08_09-11-11.json"))

		records, err := db.List(ctx)
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(4))
		for i, r := range records {
			Expect(r.Sequence).To(Equal(int64(i + 1)))
			Expect(r.Size).To(BeNumerically(">", 0))
		}
		Expect(records[3].Label).To(Equal(api.LabelFinal))

		latest, err := db.Latest(ctx)
		Expect(err).To(BeNil())
		Expect(latest.Name).To(Equal(final.Name))

		cp, name, err := api.Resolve(ctx, db, api.LatestCheckpoint)
		Expect(err).To(BeNil())
		Expect(name).To(Equal(final.Name))
		Expect(cp.Label).To(Equal(api.LabelFinal))
	})

	It("should allocate unique sequences under concurrent saves", func() {
		const n = 20
		var wg sync.WaitGroup
		names := make(chan string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				rec, err := db.Save(ctx, "", sampleCheckpoint(i))
				Expect(err).To(BeNil())
				names <- rec.Name
			}(i)
		}
		wg.Wait()
		close(names)

		seen := map[string]bool{}
		for name := range names {
			Expect(seen[name]).To(BeFalse())
			seen[name] = true
		}
		records, err := db.List(ctx)
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(n))
	})
})
