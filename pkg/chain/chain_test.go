package chain_test

import (
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reminisce/pkg/chain"
	"github.com/papercomputeco/reminisce/pkg/metrics"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var _ = Describe("Tracker", func() {
	var (
		clock   *fakeClock
		tracker *chain.Tracker
	)

	BeforeEach(func() {
		clock = &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tracker = chain.NewTracker(&chain.Config{
			MaxContexts: 3,
			Clock:       clock.Now,
			Metrics:     metrics.NewCollector(""),
		})
	})

	Describe("AddStep", func() {
		It("returns nil for an unknown context", func() {
			Expect(tracker.AddStep("missing", "get_item", nil, nil)).To(BeNil())
		})

		It("links steps and accumulates complexity", func() {
			id := tracker.CreateContext()

			first := tracker.AddStep(id, "query_location", map[string]any{"name": "Library"}, nil)
			Expect(first).NotTo(BeNil())
			Expect(first.PreviousStepID).To(BeEmpty())
			Expect(first.Complexity).To(Equal(3))
			Expect(first.Fingerprint).NotTo(BeEmpty())

			second := tracker.AddStep(id, "get_item", map[string]any{"id": "x"}, nil)
			Expect(second.PreviousStepID).To(Equal(first.ID))

			c, ok := tracker.Get(id)
			Expect(ok).To(BeTrue())
			Expect(c.Steps).To(HaveLen(2))
			Expect(c.AggregateComplexity).To(Equal(first.Complexity + second.Complexity))
		})

		It("keeps its own copy of params and results", func() {
			id := tracker.CreateContext()
			params := map[string]any{"id": "x", "filter": map[string]any{"room": "office"}}
			result := map[string]any{"location": "drawer"}
			tracker.AddStep(id, "get_item", params, result)

			params["id"] = "y"
			params["filter"].(map[string]any)["room"] = "garage"
			result["location"] = "shelf"

			c, _ := tracker.Get(id)
			Expect(c.Steps[0].Params).To(Equal(map[string]any{"id": "x", "filter": map[string]any{"room": "office"}}))
			Expect(c.Steps[0].Result).To(Equal(map[string]any{"location": "drawer"}))
		})

		It("detects a location transfer", func() {
			id := tracker.CreateContext()
			tracker.AddStep(id, "query_location", map[string]any{"name": "Library"},
				map[string]any{"location": map[string]any{"name": "Library"}})
			step := tracker.AddStep(id, "estimate_time", map[string]any{"origin": "Library", "destination": "Home"}, nil)

			Expect(step.RelationToPrevious).To(Equal(chain.RelationLocationTransfer))
		})

		It("detects an entity transfer from a raw JSON result", func() {
			id := tracker.CreateContext()
			tracker.AddStep(id, "search_items", map[string]any{"query": "passport"},
				json.RawMessage(`{"item":{"id":"item-7","name":"Passport"}}`))
			step := tracker.AddStep(id, "transfer_item", map[string]any{"itemId": "item-7", "to": "loc-2"}, nil)

			Expect(step.RelationToPrevious).To(Equal(chain.RelationEntityTransfer))
		})

		It("leaves unrelated steps unlabelled", func() {
			id := tracker.CreateContext()
			tracker.AddStep(id, "query_location", nil, map[string]any{"location": map[string]any{"name": "Library"}})
			step := tracker.AddStep(id, "estimate_time", map[string]any{"origin": "Office"}, nil)
			Expect(step.RelationToPrevious).To(BeEmpty())
		})

		It("rejects steps after completion", func() {
			id := tracker.CreateContext()
			Expect(tracker.Complete(id)).To(BeTrue())
			Expect(tracker.AddStep(id, "get_item", nil, nil)).To(BeNil())

			c, _ := tracker.Get(id)
			Expect(c.Completed).To(BeTrue())
		})

		It("runs custom detectors after the built-in ones", func() {
			custom := chain.NewTracker(&chain.Config{
				Clock: clock.Now,
				Detectors: append(chain.DefaultDetectors(), chain.Detector{
					Relation: "same_tool",
					Match:    func(prev, cur *chain.Step) bool { return prev.ToolName == cur.ToolName },
				}),
			})
			id := custom.CreateContext()
			custom.AddStep(id, "get_item", map[string]any{"id": "a"}, nil)
			Expect(custom.AddStep(id, "get_item", map[string]any{"id": "b"}, nil).RelationToPrevious).To(Equal("same_tool"))
		})
	})

	Describe("IsCompound", func() {
		It("requires more than one step", func() {
			id := tracker.CreateContext()
			tracker.AddStep(id, "plan_route", map[string]any{"origin": "a", "destination": "b", "stops": []any{"c"}}, nil)
			Expect(tracker.IsCompound(id)).To(BeFalse())
		})

		It("flags chains whose complexity reaches the threshold", func() {
			id := tracker.CreateContext()
			tracker.AddStep(id, "query_location", map[string]any{"name": "Library"}, nil)
			Expect(tracker.IsCompound(id)).To(BeFalse())
			tracker.AddStep(id, "estimate_time", map[string]any{"origin": "Library", "destination": "Home"}, nil)
			Expect(tracker.IsCompound(id)).To(BeTrue())
		})

		It("stays false for simple chains", func() {
			id := tracker.CreateContext()
			tracker.AddStep(id, "get_item", nil, nil)
			tracker.AddStep(id, "get_contact", nil, nil)
			Expect(tracker.IsCompound(id)).To(BeFalse())
		})

		It("is false for unknown contexts", func() {
			Expect(tracker.IsCompound("missing")).To(BeFalse())
		})
	})

	Describe("lifecycle", func() {
		It("expires idle contexts on cleanup", func() {
			stale := tracker.CreateContext()
			clock.Advance(20 * time.Minute)
			fresh := tracker.CreateContext()
			clock.Advance(15 * time.Minute)

			Expect(tracker.Cleanup()).To(Equal(1))
			_, ok := tracker.Get(stale)
			Expect(ok).To(BeFalse())
			_, ok = tracker.Get(fresh)
			Expect(ok).To(BeTrue())
		})

		It("keeps a context alive while steps arrive", func() {
			id := tracker.CreateContext()
			for range 4 {
				clock.Advance(20 * time.Minute)
				Expect(tracker.AddStep(id, "get_item", nil, nil)).NotTo(BeNil())
			}
			Expect(tracker.Cleanup()).To(BeZero())
		})

		It("evicts the least recently active context when full", func() {
			a := tracker.CreateContext()
			clock.Advance(time.Minute)
			b := tracker.CreateContext()
			clock.Advance(time.Minute)
			c := tracker.CreateContext()
			clock.Advance(time.Minute)

			// a becomes the most recently active.
			tracker.AddStep(a, "get_item", nil, nil)
			clock.Advance(time.Minute)

			d := tracker.CreateContext()
			Expect(tracker.Len()).To(Equal(3))

			_, ok := tracker.Get(b)
			Expect(ok).To(BeFalse())
			for _, id := range []string{a, c, d} {
				_, ok := tracker.Get(id)
				Expect(ok).To(BeTrue())
			}
		})

		It("lists most recently active first", func() {
			a := tracker.CreateContext()
			clock.Advance(time.Minute)
			b := tracker.CreateContext()

			list := tracker.List()
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal(b))
			Expect(list[1].ID).To(Equal(a))
		})

		It("returns false when completing an unknown context", func() {
			Expect(tracker.Complete("missing")).To(BeFalse())
		})
	})

	It("is safe under concurrent use", func() {
		big := chain.NewTracker(&chain.Config{})
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := big.CreateContext()
				for range 10 {
					big.AddStep(id, "get_item", map[string]any{"id": "x"}, nil)
					big.IsCompound(id)
				}
				big.List()
			}()
		}
		wg.Wait()
		Expect(big.Len()).To(Equal(8))
	})
})
