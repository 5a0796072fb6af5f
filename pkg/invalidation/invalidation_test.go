package invalidation_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/invalidation"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/recall"
	"github.com/papercomputeco/reminisce/pkg/storage/inmemory"
	"github.com/papercomputeco/reminisce/pkg/storage/storagetest"
)

var _ = Describe("Rules", func() {
	rules := invalidation.DefaultRules()

	DescribeTable("Resolve",
		func(entityType, eventType string, want invalidation.Rule, wantKey string, found bool) {
			rule, key, ok := rules.Resolve(entityType, eventType)
			Expect(ok).To(Equal(found))
			if !found {
				return
			}
			Expect(rule).To(Equal(want))
			Expect(key.String()).To(Equal(wantKey))
		},
		Entry("exact expire", "item", "transferred",
			invalidation.Rule{Action: invalidation.ActionExpire}, "item.transferred", true),
		Entry("exact reduce", "item", "note_added",
			invalidation.Rule{Action: invalidation.ActionReduceConfidence}, "item.note_added", true),
		Entry("exact beats wildcard", "task", "updated",
			invalidation.Rule{Action: invalidation.ActionExpire}, "task.updated", true),
		Entry("wildcard fallback", "bio_data", "deleted",
			invalidation.Rule{Action: invalidation.ActionExpire}, "*.deleted", true),
		Entry("type scoped created", "contact", "created",
			invalidation.Rule{Action: invalidation.ActionReduceConfidence, Scope: invalidation.ScopeType}, "*.created", true),
		Entry("case-insensitive", "Item", "Transferred",
			invalidation.Rule{Action: invalidation.ActionExpire}, "item.transferred", true),
		Entry("no rule", "item", "viewed", invalidation.Rule{}, "", false),
	)

	It("lets callers add rules", func() {
		r := invalidation.Rules{}
		r.Set(invalidation.Key{EntityType: "Schedule", EventType: "Moved"}, invalidation.Rule{Action: invalidation.ActionExpire})
		_, key, ok := r.Resolve("schedule", "moved")
		Expect(ok).To(BeTrue())
		Expect(key.String()).To(Equal("schedule.moved"))
	})
})

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		clock  *storagetest.FakeClock
		driver *inmemory.Driver
		engine *invalidation.Engine
	)

	itemX := memory.EntityRef{EntityType: "item", EntityID: "x"}
	itemY := memory.EntityRef{EntityType: "item", EntityID: "y"}

	learn := func(confidence float64, entities ...memory.EntityRef) string {
		u := storagetest.NewUnit("query_items", entities...)
		u.Confidence = confidence
		id, err := driver.Create(ctx, u)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	stored := func(id string) *memory.Unit {
		u, err := driver.Get(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = storagetest.NewFakeClock()
		driver = inmemory.NewDriver()
		driver.Clock = clock.Now

		var err error
		engine, err = invalidation.NewEngine(&invalidation.Config{Driver: driver, Clock: clock.Now})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires a driver", func() {
		_, err := invalidation.NewEngine(&invalidation.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("rejects invalid events", func() {
		_, err := engine.Apply(ctx, nil)
		Expect(err).To(MatchError(eventstream.ErrNilEvent))
	})

	It("expires every memory anchored to a transferred item", func() {
		x1 := learn(0.9, itemX)
		x2 := learn(0.8, itemX, itemY)
		y := learn(0.9, itemY)

		clock.Advance(time.Minute)
		out, err := engine.Apply(ctx, &eventstream.EntityChangeEvent{
			EntityType: "item", EntityID: "x", EventType: "transferred",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Matched).To(BeTrue())
		Expect(out.Affected).To(Equal(2))

		for _, id := range []string{x1, x2} {
			u := stored(id)
			Expect(u.Confidence).To(BeZero())
			Expect(u.ExpiresAt).NotTo(BeNil())
			Expect(*u.ExpiresAt).To(Equal(clock.Now()))
		}
		Expect(stored(y).Confidence).To(Equal(0.9))

		clock.Advance(time.Second)
		r, err := recall.NewEngine(&recall.Config{Driver: driver, Clock: clock.Now})
		Expect(err).NotTo(HaveOccurred())
		hits, err := r.Recall(ctx, recall.Request{
			Pattern:  &memory.Pattern{Type: "query_items"},
			Entities: []memory.EntityKey{itemX.Key()},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(BeEmpty())
	})

	It("matches entity types case-insensitively", func() {
		lower := learn(0.9, itemX)
		mixed := learn(0.9, memory.EntityRef{EntityType: "ITEM", EntityID: "x"})

		out, err := engine.Apply(ctx, &eventstream.EntityChangeEvent{
			EntityType: "Item", EntityID: "x", EventType: "transferred",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Key.String()).To(Equal("item.transferred"))
		Expect(out.Affected).To(Equal(2))
		Expect(stored(lower).Confidence).To(BeZero())
		Expect(stored(mixed).Confidence).To(BeZero())
	})

	It("uses the event timestamp for expiry", func() {
		id := learn(0.9, itemX)
		at := clock.Now().Add(-time.Hour)
		_, err := engine.Apply(ctx, &eventstream.EntityChangeEvent{
			EntityType: "item", EntityID: "x", EventType: "deleted", Timestamp: at,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(*stored(id).ExpiresAt).To(Equal(at))
	})

	It("reduces confidence without expiring and never raises it", func() {
		high := learn(0.9, itemX)
		low := learn(0.3, itemX)
		before := stored(high).ExpiresAt

		out, err := engine.Apply(ctx, &eventstream.EntityChangeEvent{
			EntityType: "item", EntityID: "x", EventType: "note_added",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Affected).To(Equal(1))

		Expect(stored(high).Confidence).To(Equal(invalidation.DefaultReducedConfidence))
		Expect(stored(high).ExpiresAt).To(Equal(before))
		Expect(stored(low).Confidence).To(Equal(0.3))
	})

	It("reduces confidence across the whole type on creation", func() {
		a := learn(0.9, itemX)
		b := learn(0.9, itemY)
		other := learn(0.9, memory.EntityRef{EntityType: "contact", EntityID: "c"})

		_, err := engine.Apply(ctx, &eventstream.EntityChangeEvent{
			EntityType: "item", EntityID: "z", EventType: "created",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(stored(a).Confidence).To(Equal(0.5))
		Expect(stored(b).Confidence).To(Equal(0.5))
		Expect(stored(other).Confidence).To(Equal(0.9))
	})

	It("ignores events with no rule", func() {
		id := learn(0.9, itemX)
		out, err := engine.Apply(ctx, &eventstream.EntityChangeEvent{
			EntityType: "item", EntityID: "x", EventType: "viewed",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Matched).To(BeFalse())
		Expect(stored(id).Confidence).To(Equal(0.9))
	})

	It("skips entity-scoped rules when the event has no id", func() {
		id := learn(0.9, itemX)
		out, err := engine.Apply(ctx, &eventstream.EntityChangeEvent{EntityType: "item", EventType: "deleted"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Matched).To(BeTrue())
		Expect(out.Affected).To(BeZero())
		Expect(stored(id).Confidence).To(Equal(0.9))
	})

	It("is idempotent under replay", func() {
		id := learn(0.9, itemX)
		event := &eventstream.EntityChangeEvent{
			EntityType: "item", EntityID: "x", EventType: "transferred", Timestamp: clock.Now(),
		}

		Expect(engine.Handle(ctx, event)).To(Succeed())
		once := stored(id)

		clock.Advance(time.Hour)
		Expect(engine.Handle(ctx, event)).To(Succeed())
		twice := stored(id)

		Expect(twice.Confidence).To(Equal(once.Confidence))
		Expect(twice.ExpiresAt).To(Equal(once.ExpiresAt))
		Expect(twice.Tier).To(Equal(once.Tier))
	})
})

var _ = Describe("Scope", func() {
	It("parses scope names", func() {
		var s invalidation.Scope
		Expect(s.UnmarshalText([]byte("type"))).To(Succeed())
		Expect(s).To(Equal(invalidation.ScopeType))
		Expect(s.UnmarshalText([]byte("Entity"))).To(Succeed())
		Expect(s).To(Equal(invalidation.ScopeEntity))
		Expect(s.UnmarshalText([]byte("global"))).To(MatchError(ContainSubstring("unknown rule scope")))
	})
})
