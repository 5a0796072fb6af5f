// Package storagetest holds the behavioral suite every storage.Driver must pass.
package storagetest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// Epoch is the fixed starting instant of a FakeClock.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// FakeClock is a settable time source for drivers under test.
type FakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFakeClock returns a clock stopped at Epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{t: Epoch}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Factory builds a clean driver bound to the given clock.
type Factory func(clock storage.Clock) storage.Driver

// NewUnit builds a unit with the fields most tests care about.
func NewUnit(patternType string, entities ...memory.EntityRef) *memory.Unit {
	return &memory.Unit{
		Pattern:  memory.Pattern{Type: patternType},
		Entities: entities,
		Result:   json.RawMessage(`{"ok":true}`),
		Context:  memory.Context{SourceTool: patternType},
	}
}

// DescribeDriver registers the driver behavior suite under name.
func DescribeDriver(name string, factory Factory) bool {
	return Describe(name+" driver behavior", func() {
		var (
			ctx    context.Context
			clock  *FakeClock
			driver storage.Driver
		)

		BeforeEach(func() {
			ctx = context.Background()
			clock = NewFakeClock()
			driver = nil
			driver = factory(clock.Now)
		})

		AfterEach(func() {
			if driver != nil {
				driver.Close()
			}
		})

		create := func(u *memory.Unit) string {
			id, err := driver.Create(ctx, u)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())
			return id
		}

		ids := func(units []*memory.Unit) []string {
			out := make([]string, 0, len(units))
			for _, u := range units {
				out = append(out, u.ID)
			}
			return out
		}

		Describe("Create and Get", func() {
			It("stamps defaults", func() {
				id := create(NewUnit("estimate_time"))

				u, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(u.ID).To(Equal(id))
				Expect(u.CreatedAt).To(BeTemporally("==", Epoch))
				Expect(u.UpdatedAt).To(BeTemporally("==", Epoch))
				Expect(u.Tier).To(Equal(memory.TierShort))
				Expect(u.Confidence).To(Equal(memory.DefaultConfidence))
				Expect(u.Importance).To(Equal(memory.DefaultImportance))
				Expect(u.ExpiresAt).NotTo(BeNil())
				Expect(*u.ExpiresAt).To(BeTemporally("==", Epoch.Add(24*time.Hour)))
				Expect(u.LastAccessed.IsZero()).To(BeTrue())
			})

			It("round-trips every field", func() {
				in := &memory.Unit{
					Fingerprint: "fp-1",
					Pattern: memory.Pattern{
						Type:     "query_location",
						Intent:   "find",
						Keywords: []string{"library"},
						InvolvedEntities: []memory.InvolvedEntity{
							{Type: "location", Identifier: "Library", Role: "target"},
						},
					},
					Entities: []memory.EntityRef{{EntityID: "l1", EntityType: "location", Role: "subject"}},
					Relationships: []memory.Relationship{
						{SourceEntityID: "i1", Type: "stored_at", TargetEntityID: "l1", Direction: "outgoing"},
					},
					Result:     json.RawMessage(`{"location":{"name":"Library"}}`),
					Summary:    "library lookup",
					Context:    memory.Context{SessionID: "s1", SourceTool: "query_location", UserInput: "where"},
					Confidence: 0.9,
					Importance: 0.7,
					Tier:       memory.TierMedium,
					Tags:       []string{"places"},
				}
				id := create(in)

				u, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(u.Fingerprint).To(Equal("fp-1"))
				Expect(u.Pattern).To(Equal(in.Pattern))
				Expect(u.Entities).To(Equal(in.Entities))
				Expect(u.Relationships).To(Equal(in.Relationships))
				Expect(u.Result).To(MatchJSON(in.Result))
				Expect(u.Summary).To(Equal("library lookup"))
				Expect(u.Context.SessionID).To(Equal("s1"))
				Expect(u.Context.SourceTool).To(Equal("query_location"))
				Expect(u.Confidence).To(Equal(0.9))
				Expect(u.Importance).To(Equal(0.7))
				Expect(u.Tier).To(Equal(memory.TierMedium))
				Expect(*u.ExpiresAt).To(BeTemporally("==", Epoch.Add(7*24*time.Hour)))
				Expect(u.Tags).To(Equal([]string{"places"}))
			})

			It("clamps out-of-range scores", func() {
				u := NewUnit("x")
				u.Confidence = 3
				u.Importance = -2
				id := create(u)

				got, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Confidence).To(Equal(1.0))
				Expect(got.Importance).To(Equal(0.0))
			})

			It("keeps explicitly assigned zero scores", func() {
				u := NewUnit("untrusted")
				u.SetScores(0, 0)
				id := create(u)

				got, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Confidence).To(Equal(0.0))
				Expect(got.Importance).To(Equal(0.0))
			})

			It("stores entity types folded to lower case", func() {
				id := create(NewUnit("x", memory.EntityRef{EntityID: "X", EntityType: " Item "}))

				got, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Entities).To(Equal([]memory.EntityRef{{EntityID: "X", EntityType: "item"}}))
			})

			It("returns NotFoundError for unknown ids", func() {
				_, err := driver.Get(ctx, "missing")
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})

			It("rejects nil units", func() {
				_, err := driver.Create(ctx, nil)
				Expect(err).To(MatchError(storage.ErrNilUnit))
			})
		})

		Describe("Find", func() {
			It("uses the default ranking", func() {
				a := NewUnit("rank")
				a.Importance, a.Confidence = 0.9, 0.6
				b := NewUnit("rank")
				b.Importance, b.Confidence = 0.9, 0.95
				c := NewUnit("rank")
				c.Importance, c.Confidence = 0.2, 1
				idA, idB, idC := create(a), create(b), create(c)

				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{PatternType: "rank"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{idB, idA, idC}))
			})

			It("breaks ties by lastAccessed then createdAt", func() {
				older := create(NewUnit("tie"))
				clock.Advance(time.Minute)
				newer := create(NewUnit("tie"))
				clock.Advance(time.Minute)
				accessed := create(NewUnit("tie"))
				_, err := driver.Update(ctx, accessed, memory.Patch{LastAccessed: memory.Ptr(clock.Now())})
				Expect(err).NotTo(HaveOccurred())

				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{PatternType: "tie"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{accessed, newer, older}))
			})

			It("limits results", func() {
				for i := 0; i < 5; i++ {
					create(NewUnit("many"))
				}
				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{PatternType: "many"}, Limit: 2})
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(HaveLen(2))
			})

			It("matches pattern text case-insensitively by substring", func() {
				u := NewUnit("Estimate_Time")
				u.Pattern.Intent = "Travel Duration"
				u.Pattern.Keywords = []string{"Library", "bike"}
				id := create(u)
				create(NewUnit("query_item"))

				for _, f := range []memory.Filter{
					{PatternType: "estimate"},
					{Intent: "duration"},
					{Keywords: []string{"LIBR"}},
					{PatternType: "time", Keywords: []string{"nothing", "bike"}},
				} {
					found, err := driver.Find(ctx, memory.Query{Filter: f})
					Expect(err).NotTo(HaveOccurred())
					Expect(ids(found)).To(Equal([]string{id}), "filter %+v", f)
				}
			})

			It("matches involved entity types", func() {
				u := NewUnit("x")
				u.Pattern.InvolvedEntities = []memory.InvolvedEntity{{Type: "contact"}}
				id := create(u)
				create(NewUnit("x"))

				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{InvolvedTypes: []string{"contact"}}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{id}))
			})

			It("matches by entity id and by entity type", func() {
				x := create(NewUnit("e", memory.EntityRef{EntityID: "x", EntityType: "item"}))
				y := create(NewUnit("e", memory.EntityRef{EntityID: "y", EntityType: "item"}))
				create(NewUnit("e", memory.EntityRef{EntityID: "x", EntityType: "location"}))

				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{
					Entities: []memory.EntityKey{{Type: "item", ID: "x"}},
				}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{x}))

				found, err = driver.Find(ctx, memory.Query{Filter: memory.Filter{
					Entities: []memory.EntityKey{{Type: "item"}},
				}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(ConsistOf(x, y))
			})

			It("matches entity types regardless of case", func() {
				x := create(NewUnit("e", memory.EntityRef{EntityID: "x", EntityType: "item"}))
				create(NewUnit("e", memory.EntityRef{EntityID: "y", EntityType: "Item"}))

				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{
					Entities: []memory.EntityKey{{Type: "ITEM", ID: "x"}},
				}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{x}))

				n, err := driver.Count(ctx, memory.Filter{Entities: []memory.EntityKey{{Type: "iTem"}}})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(2))
			})

			It("filters by fingerprint, tier, tag and confidence", func() {
				u := NewUnit("f")
				u.Fingerprint = "abc"
				u.Tier = memory.TierLong
				u.Tags = []string{"keep"}
				u.Confidence = 0.8
				id := create(u)
				create(NewUnit("f"))

				for _, f := range []memory.Filter{
					{Fingerprint: "abc"},
					{Tiers: []memory.Tier{memory.TierLong}},
					{Tags: []string{"keep"}},
					{MinConfidence: memory.Ptr(0.8)},
					{PatternType: "f", ExcludeTiers: []memory.Tier{memory.TierShort}},
				} {
					found, err := driver.Find(ctx, memory.Query{Filter: f})
					Expect(err).NotTo(HaveOccurred())
					Expect(ids(found)).To(Equal([]string{id}), "filter %+v", f)
				}

				n, err := driver.Count(ctx, memory.Filter{MaxConfidence: memory.Ptr(0.8)})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))
			})

			It("filters by expiry", func() {
				expiring := create(NewUnit("exp"))
				forever := NewUnit("exp")
				forever.Tier = memory.TierArchived
				foreverID := create(forever)

				later := Epoch.Add(48 * time.Hour)
				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{ExpiredBefore: &later}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{expiring}))

				found, err = driver.Find(ctx, memory.Query{Filter: memory.Filter{PatternType: "exp", LiveAt: &later}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{foreverID}))
			})

			It("filters by idle time and access window", func() {
				idle := create(NewUnit("idle"))
				clock.Advance(10 * 24 * time.Hour)
				used := create(NewUnit("idle"))
				_, err := driver.Update(ctx, used, memory.Patch{LastAccessed: memory.Ptr(clock.Now())})
				Expect(err).NotTo(HaveOccurred())

				cutoff := Epoch.Add(24 * time.Hour)
				found, err := driver.Find(ctx, memory.Query{Filter: memory.Filter{IdleBefore: &cutoff}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{idle}))

				from, to := clock.Now(), clock.Now().Add(time.Hour)
				found, err = driver.Find(ctx, memory.Query{Filter: memory.Filter{AccessedFrom: &from, AccessedTo: &to}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{used}))
			})
		})

		Describe("Update", func() {
			It("refreshes updatedAt and clamps", func() {
				id := create(NewUnit("u"))
				clock.Advance(time.Hour)

				ok, err := driver.Update(ctx, id, memory.Patch{
					Confidence: memory.Ptr(7.0),
					Importance: memory.Ptr(-0.5),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				u, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(u.Confidence).To(Equal(1.0))
				Expect(u.Importance).To(Equal(0.0))
				Expect(u.UpdatedAt).To(BeTemporally("==", Epoch.Add(time.Hour)))
				Expect(u.CreatedAt).To(BeTemporally("==", Epoch))
			})

			It("edits tags and related memories as sets", func() {
				u := NewUnit("t")
				u.Tags = []string{"a"}
				id := create(u)

				_, err := driver.Update(ctx, id, memory.Patch{AddTags: []string{"a", "b"}, AddRelated: []string{"r1"}})
				Expect(err).NotTo(HaveOccurred())
				_, err = driver.Update(ctx, id, memory.Patch{RemoveTags: []string{"a"}})
				Expect(err).NotTo(HaveOccurred())

				got, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Tags).To(Equal([]string{"b"}))
				Expect(got.RelatedMemories).To(Equal([]string{"r1"}))
			})

			It("sets and clears expiry and increments access", func() {
				id := create(NewUnit("e"))
				at := Epoch.Add(time.Minute)

				_, err := driver.Update(ctx, id, memory.Patch{ExpiresAt: &at, IncrementAccess: 1})
				Expect(err).NotTo(HaveOccurred())
				got, err := driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(*got.ExpiresAt).To(BeTemporally("==", at))
				Expect(got.AccessCount).To(Equal(int64(1)))

				_, err = driver.Update(ctx, id, memory.Patch{ClearExpiry: true, IncrementAccess: 2})
				Expect(err).NotTo(HaveOccurred())
				got, err = driver.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.ExpiresAt).To(BeNil())
				Expect(got.AccessCount).To(Equal(int64(3)))
			})

			It("keeps indexes current when the tier changes", func() {
				id := create(NewUnit("tier"))
				_, err := driver.Update(ctx, id, memory.Patch{Tier: memory.Ptr(memory.TierMedium)})
				Expect(err).NotTo(HaveOccurred())

				n, err := driver.Count(ctx, memory.Filter{Tiers: []memory.Tier{memory.TierShort}})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeZero())
				n, err = driver.Count(ctx, memory.Filter{Tiers: []memory.Tier{memory.TierMedium}})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))
			})

			It("reports false for unknown ids", func() {
				ok, err := driver.Update(ctx, "missing", memory.Patch{Confidence: memory.Ptr(0.1)})
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})

			It("updates many units in one call", func() {
				ref := memory.EntityRef{EntityID: "x", EntityType: "item"}
				a := create(NewUnit("m", ref))
				b := create(NewUnit("m", ref))
				c := create(NewUnit("m"))

				n, err := driver.UpdateMany(ctx,
					memory.Filter{Entities: []memory.EntityKey{ref.Key()}},
					memory.Patch{Confidence: memory.Ptr(0.0), AddTags: []string{"stale"}},
				)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(2))

				for _, id := range []string{a, b} {
					u, err := driver.Get(ctx, id)
					Expect(err).NotTo(HaveOccurred())
					Expect(u.Confidence).To(BeZero())
					Expect(u.Tags).To(Equal([]string{"stale"}))
				}
				u, err := driver.Get(ctx, c)
				Expect(err).NotTo(HaveOccurred())
				Expect(u.Confidence).To(Equal(memory.DefaultConfidence))
			})
		})

		Describe("Delete", func() {
			It("deletes one unit", func() {
				id := create(NewUnit("d", memory.EntityRef{EntityID: "x", EntityType: "item"}))

				ok, err := driver.Delete(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				_, err = driver.Get(ctx, id)
				Expect(storage.IsNotFound(err)).To(BeTrue())

				n, err := driver.Count(ctx, memory.Filter{Entities: []memory.EntityKey{{Type: "item", ID: "x"}}})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeZero())

				ok, err = driver.Delete(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})

			It("deletes many units", func() {
				low := NewUnit("dm")
				low.Confidence = 0.1
				create(low)
				keep := create(NewUnit("dm"))

				n, err := driver.DeleteMany(ctx, memory.Filter{MaxConfidence: memory.Ptr(0.3)})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))

				found, err := driver.Find(ctx, memory.Query{})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(found)).To(Equal([]string{keep}))
			})
		})

		Describe("FindRelated", func() {
			It("resolves one hop in both directions", func() {
				a := create(NewUnit("r"))
				b := NewUnit("r")
				b.RelatedMemories = []string{a}
				bID := create(b)
				c := create(NewUnit("r"))
				_, err := driver.Update(ctx, a, memory.Patch{AddRelated: []string{c}})
				Expect(err).NotTo(HaveOccurred())

				related, err := driver.FindRelated(ctx, a, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(related)).To(ConsistOf(bID, c))
			})

			It("walks deeper when asked", func() {
				a := create(NewUnit("r"))
				b := NewUnit("r")
				b.RelatedMemories = []string{a}
				bID := create(b)
				c := NewUnit("r")
				c.RelatedMemories = []string{bID}
				cID := create(c)

				related, err := driver.FindRelated(ctx, a, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(related)).To(Equal([]string{bID}))

				related, err = driver.FindRelated(ctx, a, 2)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(related)).To(ConsistOf(bID, cID))
			})

			It("fails for unknown ids", func() {
				_, err := driver.FindRelated(ctx, "missing", 1)
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})
		})

		Describe("Summarize", func() {
			It("aggregates counts", func() {
				hi := NewUnit("s")
				hi.Confidence = 0.9
				hi.Tier = memory.TierLong
				hiID := create(hi)
				mid := NewUnit("s")
				mid.Confidence = 0.6
				create(mid)
				lo := NewUnit("s")
				lo.Confidence = 0.1
				lo.Tier = memory.TierArchived
				create(lo)

				_, err := driver.Update(ctx, hiID, memory.Patch{Validated: memory.Ptr(true), IncrementAccess: 4})
				Expect(err).NotTo(HaveOccurred())

				s, err := driver.Summarize(ctx, Epoch.Add(48*time.Hour))
				Expect(err).NotTo(HaveOccurred())
				Expect(s.Total).To(Equal(3))
				Expect(s.ByTier).To(Equal(map[memory.Tier]int{
					memory.TierShort: 1, memory.TierMedium: 0, memory.TierLong: 1, memory.TierArchived: 1,
				}))
				Expect(s.ByConfidence).To(Equal(memory.ConfidenceBuckets{High: 1, Medium: 1, Low: 1}))
				Expect(s.Validated).To(Equal(1))
				Expect(s.Expired).To(Equal(1))
				Expect(s.TotalAccess).To(Equal(int64(4)))
				Expect(s.AvgConfidence).To(BeNumerically("~", (0.9+0.6+0.1)/3, 1e-9))
			})

			It("handles an empty store", func() {
				s, err := driver.Summarize(ctx, Epoch)
				Expect(err).NotTo(HaveOccurred())
				Expect(s.Total).To(BeZero())
				Expect(s.AvgConfidence).To(BeZero())
				Expect(s.ByTier).To(HaveLen(4))
			})
		})
	})
}
