package reminisce_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/invalidation"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
	"github.com/papercomputeco/reminisce/pkg/storage"
	"github.com/papercomputeco/reminisce/pkg/storage/inmemory"
	"github.com/papercomputeco/reminisce/pkg/storage/storagetest"
)

type knownEntities map[memory.EntityKey]bool

func (k knownEntities) EntityExists(_ context.Context, ref memory.EntityRef) (bool, error) {
	return k[ref.Key()], nil
}

// unavailableDriver fails reads the way a lost database connection does.
type unavailableDriver struct {
	*inmemory.Driver
}

func (unavailableDriver) Find(context.Context, memory.Query) ([]*memory.Unit, error) {
	return nil, &storage.TransientError{Op: "find", Err: errors.New("connection refused")}
}

var _ = Describe("Service", func() {
	var (
		ctx    context.Context
		clock  *storagetest.FakeClock
		driver *inmemory.Driver
		stack  *reminisce.Stack
		svc    *reminisce.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = storagetest.NewFakeClock()
		driver = inmemory.NewDriver()
		driver.Clock = clock.Now

		var err error
		stack, err = reminisce.NewStack(driver, reminisce.Options{Clock: clock.Now})
		Expect(err).NotTo(HaveOccurred())
		svc = stack.Service
	})

	AfterEach(func() {
		stack.Stop()
	})

	// drain waits for queued access statistics.
	drain := func() {
		stack.Pool.Close()
	}

	learn := func(req reminisce.LearnRequest) *memory.Unit {
		res := svc.Learn(ctx, req)
		Expect(res.Err()).NotTo(HaveOccurred())
		return res.Data
	}

	It("recalls a learned time estimate and counts the access", func() {
		u := learn(reminisce.LearnRequest{
			Pattern:    memory.Pattern{Type: "estimate_time"},
			Result:     json.RawMessage(`{"minutes":12}`),
			Importance: memory.Ptr(0.6),
		})
		Expect(u.Confidence).To(BeNumerically(">=", 0.7))
		Expect(u.AccessCount).To(BeZero())

		res := svc.Recall(ctx, reminisce.RecallRequest{Pattern: &memory.Pattern{Type: "estimate_time"}})
		Expect(res.Success).To(BeTrue())
		Expect(res.Data).To(HaveLen(1))
		Expect(res.Data[0].ID).To(Equal(u.ID))
		Expect(res.Data[0].AccessCount).To(Equal(int64(1)))
		Expect(string(res.Data[0].Result)).To(MatchJSON(`{"minutes":12}`))

		drain()
		stored, err := driver.Get(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.AccessCount).To(Equal(int64(1)))
	})

	It("stops serving memories of a transferred item", func() {
		x := memory.EntityRef{EntityType: "item", EntityID: "X"}
		a := learn(reminisce.LearnRequest{
			Pattern:  memory.Pattern{Type: "query_items", Keywords: []string{"passport"}},
			Result:   json.RawMessage(`{"location":"drawer"}`),
			Entities: []memory.EntityRef{x},
		})
		b := learn(reminisce.LearnRequest{
			Pattern:  memory.Pattern{Type: "get_item"},
			Result:   json.RawMessage(`{"id":"X"}`),
			Entities: []memory.EntityRef{x},
		})

		res := svc.EmitEntityChange(ctx, &eventstream.EntityChangeEvent{
			EntityType: "item", EntityID: "X", EventType: "transferred",
		})
		Expect(res.Err()).NotTo(HaveOccurred())
		Expect(res.Data.Rule.Action).To(Equal(invalidation.ActionExpire))
		Expect(res.Data.Affected).To(Equal(2))

		for _, id := range []string{a.ID, b.ID} {
			u, err := driver.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Confidence).To(BeZero())
			Expect(*u.ExpiresAt).To(BeTemporally("==", clock.Now()))
		}

		clock.Advance(time.Millisecond)
		hits := svc.Recall(ctx, reminisce.RecallRequest{
			Pattern:  &memory.Pattern{Type: "query_items"},
			Entities: []memory.EntityRef{x},
		})
		Expect(hits.Success).To(BeTrue())
		Expect(hits.Data).To(BeEmpty())
	})

	It("invalidates memories when the emitter spells the entity type differently", func() {
		u := learn(reminisce.LearnRequest{
			Pattern:  memory.Pattern{Type: "get_item"},
			Result:   json.RawMessage(`{"id":"X"}`),
			Entities: []memory.EntityRef{{EntityType: "item", EntityID: "X"}},
		})

		res := svc.EmitEntityChange(ctx, &eventstream.EntityChangeEvent{
			EntityType: "Item", EntityID: "X", EventType: "transferred",
		})
		Expect(res.Err()).NotTo(HaveOccurred())
		Expect(res.Data.Matched).To(BeTrue())
		Expect(res.Data.Affected).To(Equal(1))

		stored, err := driver.Get(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Confidence).To(BeZero())
	})

	Describe("Learn", func() {
		It("keeps caller-supplied zero confidence and importance", func() {
			u := learn(reminisce.LearnRequest{
				Pattern:    memory.Pattern{Type: "estimate_time"},
				Result:     json.RawMessage(`{"minutes":12}`),
				Confidence: memory.Ptr(0.0),
				Importance: memory.Ptr(0.0),
			})
			Expect(u.Confidence).To(Equal(0.0))
			Expect(u.Importance).To(Equal(0.0))
		})

		It("rejects invalid requests before storing anything", func() {
			for _, req := range []reminisce.LearnRequest{
				{Result: json.RawMessage(`{}`)},
				{Pattern: memory.Pattern{Type: "t"}},
				{Pattern: memory.Pattern{Type: "t"}, Result: json.RawMessage(`{`)},
				{Pattern: memory.Pattern{Type: "t"}, Result: json.RawMessage(`{}`), Importance: memory.Ptr(1.5)},
				{Pattern: memory.Pattern{Type: "t"}, Result: json.RawMessage(`{}`), Tier: "forever"},
				{Pattern: memory.Pattern{Type: "t"}, Result: json.RawMessage(`{}`), Entities: []memory.EntityRef{{EntityType: "item"}}},
			} {
				res := svc.Learn(ctx, req)
				Expect(res.Success).To(BeFalse())
				Expect(res.Error.Kind).To(Equal(reminisce.KindValidation), "%+v", req)
			}
			Expect(driver.Len()).To(BeZero())
		})

		It("checks entities against the resolver", func() {
			s, err := reminisce.NewStack(driver, reminisce.Options{
				Clock:    clock.Now,
				Resolver: knownEntities{{Type: "contact", ID: "c1"}: true},
			})
			Expect(err).NotTo(HaveOccurred())
			defer s.Stop()

			res := s.Service.Learn(ctx, reminisce.LearnRequest{
				Pattern:  memory.Pattern{Type: "get_contact"},
				Result:   json.RawMessage(`{}`),
				Entities: []memory.EntityRef{{EntityType: "contact", EntityID: "c2"}},
			})
			Expect(res.Error.Kind).To(Equal(reminisce.KindValidation))

			res = s.Service.Learn(ctx, reminisce.LearnRequest{
				Pattern:  memory.Pattern{Type: "get_contact"},
				Result:   json.RawMessage(`{}`),
				Entities: []memory.EntityRef{{EntityType: "contact", EntityID: "c1"}},
			})
			Expect(res.Success).To(BeTrue())
		})

		It("links related memories both ways", func() {
			first := learn(reminisce.LearnRequest{Pattern: memory.Pattern{Type: "a"}, Result: json.RawMessage(`1`)})
			second := learn(reminisce.LearnRequest{
				Pattern:         memory.Pattern{Type: "b"},
				Result:          json.RawMessage(`2`),
				RelatedMemories: []string{first.ID},
			})

			back, err := driver.Get(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(back.RelatedMemories).To(ConsistOf(second.ID))

			rel := svc.Related(ctx, first.ID, 0)
			Expect(rel.Err()).NotTo(HaveOccurred())
			Expect(rel.Data).To(HaveLen(1))
			Expect(rel.Data[0].ID).To(Equal(second.ID))
		})
	})

	Describe("Manage", func() {
		var id string

		BeforeEach(func() {
			id = learn(reminisce.LearnRequest{
				Pattern: memory.Pattern{Type: "get_schedule"},
				Result:  json.RawMessage(`[]`),
			}).ID
		})

		manage := func(action reminisce.ManageAction, value any) reminisce.Result[*memory.Unit] {
			return svc.Manage(ctx, reminisce.ManageRequest{MemoryID: id, Action: action, Value: value})
		}

		It("updates scores", func() {
			res := manage(reminisce.ActionUpdateImportance, 0.9)
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.Importance).To(Equal(0.9))

			res = svc.Manage(ctx, reminisce.ManageRequest{
				MemoryID: id, Action: reminisce.ActionUpdateConfidence, Value: "1", Validate: true,
			})
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.Confidence).To(Equal(1.0))
			Expect(res.Data.Validated).To(BeTrue())
			Expect(res.Data.LastValidated).NotTo(BeNil())
		})

		It("rejects out-of-range scores", func() {
			for _, v := range []any{1.2, -0.1, "high", nil} {
				res := manage(reminisce.ActionUpdateConfidence, v)
				Expect(res.Error.Kind).To(Equal(reminisce.KindValidation))
			}
			u, _ := driver.Get(ctx, id)
			Expect(u.Confidence).To(Equal(reminisce.DefaultLearnConfidence))
		})

		It("promotes one tier at a time", func() {
			res := manage(reminisce.ActionChangeTier, "long")
			Expect(res.Error.Kind).To(Equal(reminisce.KindValidation))

			res = manage(reminisce.ActionChangeTier, "medium")
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.Tier).To(Equal(memory.TierMedium))
			Expect(*res.Data.ExpiresAt).To(BeTemporally("==", clock.Now().Add(memory.TierMedium.DefaultTTL())))

			res = manage(reminisce.ActionChangeTier, "LONG")
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.Tier).To(Equal(memory.TierLong))
		})

		It("archives and unarchives", func() {
			res := manage(reminisce.ActionUnarchive, nil)
			Expect(res.Error.Kind).To(Equal(reminisce.KindValidation))

			res = manage(reminisce.ActionArchive, nil)
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.Tier).To(Equal(memory.TierArchived))
			Expect(res.Data.ExpiresAt).To(BeNil())

			res = manage(reminisce.ActionUnarchive, nil)
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.Tier).To(Equal(memory.TierShort))
			Expect(res.Data.ExpiresAt).NotTo(BeNil())
		})

		It("edits tags", func() {
			Expect(manage(reminisce.ActionAddTag, "travel").Data.Tags).To(ConsistOf("travel"))
			Expect(manage(reminisce.ActionAddTag, "travel").Data.Tags).To(ConsistOf("travel"))
			Expect(manage(reminisce.ActionRemoveTag, "travel").Data.Tags).To(BeEmpty())
			Expect(manage(reminisce.ActionAddTag, "").Error.Kind).To(Equal(reminisce.KindValidation))
		})

		It("reports unknown memories and actions", func() {
			res := svc.Manage(ctx, reminisce.ManageRequest{MemoryID: "missing", Action: reminisce.ActionArchive})
			Expect(res.Error.Kind).To(Equal(reminisce.KindNotFound))

			res = manage("explode", nil)
			Expect(res.Error.Kind).To(Equal(reminisce.KindValidation))
		})
	})

	Describe("Forget", func() {
		It("deletes and then reports not found", func() {
			u := learn(reminisce.LearnRequest{Pattern: memory.Pattern{Type: "t"}, Result: json.RawMessage(`{}`)})
			Expect(svc.Forget(ctx, u.ID).Data).To(BeTrue())
			Expect(svc.Forget(ctx, u.ID).Error.Kind).To(Equal(reminisce.KindNotFound))
			Expect(svc.Get(ctx, u.ID).Error.Kind).To(Equal(reminisce.KindNotFound))
		})
	})

	Describe("GetStats", func() {
		It("reports aggregates and performance", func() {
			learn(reminisce.LearnRequest{Pattern: memory.Pattern{Type: "a"}, Result: json.RawMessage(`1`)})
			learn(reminisce.LearnRequest{Pattern: memory.Pattern{Type: "b"}, Result: json.RawMessage(`2`), Confidence: memory.Ptr(0.4)})

			Expect(svc.Recall(ctx, reminisce.RecallRequest{Pattern: &memory.Pattern{Type: "a"}}).Data).To(HaveLen(1))
			Expect(svc.Recall(ctx, reminisce.RecallRequest{Pattern: &memory.Pattern{Type: "zzz"}}).Data).To(BeEmpty())
			drain()

			res := svc.GetStats(ctx, reminisce.StatsRequest{})
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.Total).To(Equal(2))
			Expect(res.Data.ByTier[memory.TierShort]).To(Equal(2))
			Expect(res.Data.ByConfidence).To(Equal(memory.ConfidenceBuckets{High: 1, Low: 1}))
			Expect(res.Data.Performance.HitRate).To(Equal(0.5))
			Expect(res.Data.Performance.EstimatedSavings).To(Equal(int64(1)))
			Expect(res.Data.Performance.AvgConfidence).To(BeNumerically("~", 0.6, 1e-9))
			Expect(res.Data.TopMemories).To(BeNil())
		})

		It("adds top, recent and trend data when detailed", func() {
			a := learn(reminisce.LearnRequest{Pattern: memory.Pattern{Type: "a"}, Result: json.RawMessage(`1`)})
			clock.Advance(time.Minute)
			b := learn(reminisce.LearnRequest{Pattern: memory.Pattern{Type: "b"}, Result: json.RawMessage(`2`)})

			svc.Recall(ctx, reminisce.RecallRequest{Pattern: &memory.Pattern{Type: "a"}})
			drain()

			res := svc.GetStats(ctx, reminisce.StatsRequest{Detailed: true})
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Data.TopMemories[0].ID).To(Equal(a.ID))
			Expect(res.Data.RecentMemories[0].ID).To(Equal(b.ID))
			Expect(res.Data.UsageTrend).To(HaveLen(7))
			Expect(res.Data.UsageTrend[6]).To(Equal(reminisce.DayUsage{
				Date:     clock.Now().UTC().Format(time.DateOnly),
				Accessed: 1,
			}))
		})
	})

	Describe("query contexts", func() {
		It("tracks steps and compound status", func() {
			created := svc.CreateContext()
			Expect(created.Success).To(BeTrue())
			id := created.Data.ContextID

			step := svc.AddStep(reminisce.AddStepRequest{
				ContextID: id,
				ToolName:  "query_location",
				Params:    map[string]any{"name": "Library"},
				Result:    map[string]any{"location": map[string]any{"name": "Library"}},
			})
			Expect(step.Err()).NotTo(HaveOccurred())

			step = svc.AddStep(reminisce.AddStepRequest{
				ContextID: id,
				ToolName:  "estimate_time",
				Params:    map[string]any{"origin": "Library", "destination": "Home"},
			})
			Expect(step.Data.RelationToPrevious).To(Equal("location_transfer"))

			status := svc.IsCompound(id)
			Expect(status.Data.IsCompound).To(BeTrue())
			Expect(status.Data.Steps).To(Equal(2))

			Expect(svc.ListContexts().Data).To(HaveLen(1))
			Expect(svc.CompleteContext(id).Data).To(BeTrue())
			Expect(svc.GetContext(id).Data.Completed).To(BeTrue())
		})

		It("reports unknown contexts as not found", func() {
			Expect(svc.AddStep(reminisce.AddStepRequest{ContextID: "nope", ToolName: "t"}).Error.Kind).To(Equal(reminisce.KindNotFound))
			Expect(svc.IsCompound("nope").Error.Kind).To(Equal(reminisce.KindNotFound))
			Expect(svc.CompleteContext("nope").Error.Kind).To(Equal(reminisce.KindNotFound))
		})
	})

	Describe("tool call cache", func() {
		route := reminisce.ToolCall{
			ToolName: "estimate_time",
			Params:   map[string]any{"origin": "Library", "destination": "Home", "sessionId": "s1"},
		}

		It("misses, remembers, then hits on an equivalent call", func() {
			miss := svc.LookupToolCall(ctx, route)
			Expect(miss.Err()).NotTo(HaveOccurred())
			Expect(miss.Data.Analysis.ShouldCache).To(BeTrue())
			Expect(miss.Data.Hit).To(BeFalse())

			saved := svc.RememberToolCall(ctx, reminisce.ToolOutcome{
				ToolCall: route,
				Result:   json.RawMessage(`{"minutes":12}`),
			})
			Expect(saved.Err()).NotTo(HaveOccurred())
			Expect(saved.Data.Stored).To(BeTrue())
			Expect(saved.Data.Memory.Pattern.Keywords).To(Equal([]string{"Home", "Library"}))
			Expect(saved.Data.Memory.Context.SourceTool).To(Equal("estimate_time"))

			again := svc.LookupToolCall(ctx, reminisce.ToolCall{
				ToolName: "estimate_time",
				Params:   map[string]any{"destination": "Home", "origin": "Library", "sessionId": "s2"},
			})
			Expect(again.Err()).NotTo(HaveOccurred())
			Expect(again.Data.Hit).To(BeTrue())
			Expect(string(again.Data.Memory.Result)).To(MatchJSON(`{"minutes":12}`))
		})

		It("does not store calls below the threshold or mutating calls", func() {
			for _, call := range []reminisce.ToolCall{
				{ToolName: "get_item", Params: map[string]any{"id": "x"}},
				{ToolName: "update_item", Params: map[string]any{"id": "x", "notes": "long text", "tags": []any{"a"}}},
			} {
				saved := svc.RememberToolCall(ctx, reminisce.ToolOutcome{ToolCall: call, Result: json.RawMessage(`{}`)})
				Expect(saved.Err()).NotTo(HaveOccurred())
				Expect(saved.Data.Stored).To(BeFalse())
			}
			Expect(driver.Len()).To(BeZero())
		})

		It("records steps in the caller's context", func() {
			id := svc.CreateContext().Data.ContextID
			call := route
			call.ContextID = id

			saved := svc.RememberToolCall(ctx, reminisce.ToolOutcome{ToolCall: call, Result: json.RawMessage(`{"minutes":3}`)})
			Expect(saved.Err()).NotTo(HaveOccurred())
			Expect(svc.GetContext(id).Data.Steps).To(HaveLen(1))

			call.ContextID = "missing"
			Expect(svc.RememberToolCall(ctx, reminisce.ToolOutcome{ToolCall: call, Result: json.RawMessage(`{}`)}).Error.Kind).
				To(Equal(reminisce.KindNotFound))
		})
	})

	It("classifies storage outages as transient", func() {
		s, err := reminisce.NewStack(unavailableDriver{driver}, reminisce.Options{Clock: clock.Now})
		Expect(err).NotTo(HaveOccurred())
		defer s.Stop()

		res := s.Service.Recall(ctx, reminisce.RecallRequest{Fingerprint: "f"})
		Expect(res.Success).To(BeFalse())
		Expect(res.Error.Kind).To(Equal(reminisce.KindTransient))
	})

	It("rejects malformed entity change events", func() {
		res := svc.EmitEntityChange(ctx, &eventstream.EntityChangeEvent{EntityID: "x"})
		Expect(res.Error.Kind).To(Equal(reminisce.KindValidation))
		Expect(svc.EmitEntityChange(ctx, nil).Error.Kind).To(Equal(reminisce.KindValidation))
	})
})
