package decay_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reminisce/pkg/decay"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/storage"
	"github.com/papercomputeco/reminisce/pkg/storage/inmemory"
	"github.com/papercomputeco/reminisce/pkg/storage/storagetest"
)

const day = 24 * time.Hour

// blockingDriver parks DeleteMany until released.
type blockingDriver struct {
	*inmemory.Driver
	entered chan struct{}
	release chan struct{}
}

func (b *blockingDriver) DeleteMany(ctx context.Context, f memory.Filter) (int, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Driver.DeleteMany(ctx, f)
}

// failingDriver fails every bulk operation.
type failingDriver struct {
	*inmemory.Driver
}

func (failingDriver) DeleteMany(context.Context, memory.Filter) (int, error) {
	return 0, &storage.TransientError{Op: "delete", Err: errors.New("unavailable")}
}

func (failingDriver) UpdateMany(context.Context, memory.Filter, memory.Patch) (int, error) {
	return 0, &storage.TransientError{Op: "update", Err: errors.New("unavailable")}
}

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		clock     *storagetest.FakeClock
		driver    *inmemory.Driver
		scheduler *decay.Scheduler
	)

	learn := func(tier memory.Tier, confidence float64, expiresIn time.Duration) string {
		u := storagetest.NewUnit("get_schedule")
		u.Tier = tier
		u.Confidence = confidence
		if expiresIn != 0 {
			u.ExpiresAt = memory.Ptr(clock.Now().Add(expiresIn))
		}
		id, err := driver.Create(ctx, u)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	get := func(id string) (*memory.Unit, bool) {
		u, err := driver.Get(ctx, id)
		if storage.IsNotFound(err) {
			return nil, false
		}
		Expect(err).NotTo(HaveOccurred())
		return u, true
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = storagetest.NewFakeClock()
		driver = inmemory.NewDriver()
		driver.Clock = clock.Now

		var err error
		scheduler, err = decay.NewScheduler(&decay.Config{
			Driver:  driver,
			Clock:   clock.Now,
			Metrics: metrics.NewCollector(""),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires a driver", func() {
		_, err := decay.NewScheduler(&decay.Config{})
		Expect(err).To(HaveOccurred())
	})

	Describe("RunExpiredSweep", func() {
		It("deletes untrustworthy expired memories and softens the rest", func() {
			weak := learn(memory.TierMedium, 0.2, time.Hour)
			strong := learn(memory.TierLong, 0.9, time.Hour)
			live := learn(memory.TierMedium, 0.2, 48*time.Hour)
			archived := learn(memory.TierArchived, 0.1, time.Hour)

			clock.Advance(2 * time.Hour)
			res, err := scheduler.RunExpiredSweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(decay.SweepResult{Deleted: 1, Downgraded: 1}))

			_, ok := get(weak)
			Expect(ok).To(BeFalse())

			u, ok := get(strong)
			Expect(ok).To(BeTrue())
			Expect(u.Tier).To(Equal(memory.TierShort))
			Expect(u.Confidence).To(Equal(decay.DefaultConfidenceFloor))
			Expect(*u.ExpiresAt).To(Equal(clock.Now().Add(7 * day)))

			_, ok = get(live)
			Expect(ok).To(BeTrue())

			u, ok = get(archived)
			Expect(ok).To(BeTrue())
			Expect(u.Tier).To(Equal(memory.TierArchived))
		})

		It("keeps a memory exactly at the floor", func() {
			id := learn(memory.TierShort, 0.3, time.Hour)
			clock.Advance(2 * time.Hour)

			_, err := scheduler.RunExpiredSweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, ok := get(id)
			Expect(ok).To(BeTrue())
		})

		It("does not touch a softened memory again until it re-expires", func() {
			id := learn(memory.TierMedium, 0.9, time.Hour)
			clock.Advance(2 * time.Hour)
			_, err := scheduler.RunExpiredSweep(ctx)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(time.Hour)
			res, err := scheduler.RunExpiredSweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(decay.SweepResult{}))
			_, ok := get(id)
			Expect(ok).To(BeTrue())
		})
	})

	Describe("RunStaleSweep", func() {
		idle := func(tier memory.Tier, confidence float64) string {
			id := learn(tier, confidence, 0)
			_, err := driver.Update(ctx, id, memory.Patch{LastAccessed: memory.Ptr(clock.Now())})
			Expect(err).NotTo(HaveOccurred())
			return id
		}

		It("exempts long-tier memories regardless of staleness", func() {
			long := idle(memory.TierLong, 0.4)
			medium := idle(memory.TierMedium, 0.4)
			archived := idle(memory.TierArchived, 0.1)

			clock.Advance(120 * day)
			res, err := scheduler.RunStaleSweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Deleted).To(Equal(1))

			_, ok := get(long)
			Expect(ok).To(BeTrue())
			_, ok = get(medium)
			Expect(ok).To(BeFalse())
			_, ok = get(archived)
			Expect(ok).To(BeTrue())
		})

		It("keeps trusted or recently used memories", func() {
			trusted := idle(memory.TierMedium, 0.9)
			clock.Advance(60 * day)
			recent := idle(memory.TierShort, 0.1)
			clock.Advance(60 * day)

			res, err := scheduler.RunStaleSweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Deleted).To(BeZero())

			_, ok := get(trusted)
			Expect(ok).To(BeTrue())
			_, ok = get(recent)
			Expect(ok).To(BeTrue())
		})

		It("measures never-used memories from creation", func() {
			id := learn(memory.TierShort, 0.1, 0)
			clock.Advance(91 * day)

			_, err := scheduler.RunStaleSweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, ok := get(id)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("RefreshStats", func() {
		It("summarizes without modifying memories", func() {
			learn(memory.TierLong, 0.9, 0)
			learn(memory.TierShort, 0.6, time.Hour)
			Expect(scheduler.Stats()).To(BeNil())

			clock.Advance(2 * time.Hour)
			sum, err := scheduler.RefreshStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Total).To(Equal(2))
			Expect(sum.Expired).To(Equal(1))
			Expect(sum.ByTier[memory.TierLong]).To(Equal(1))
			Expect(scheduler.Stats()).To(Equal(sum))
			Expect(driver.Len()).To(Equal(2))
		})
	})

	It("skips a task that is still running", func() {
		blocking := &blockingDriver{
			Driver:  driver,
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		s, err := decay.NewScheduler(&decay.Config{Driver: blocking, Clock: clock.Now})
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() {
			_, err := s.RunStaleSweep(ctx)
			done <- err
		}()
		Eventually(blocking.entered).Should(Receive())

		_, err = s.RunStaleSweep(ctx)
		Expect(err).To(MatchError(decay.ErrTaskRunning))

		// Other tasks are independent.
		_, err = s.RefreshStats(ctx)
		Expect(err).NotTo(HaveOccurred())

		close(blocking.release)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("surfaces store failures without wedging the task", func() {
		s, err := decay.NewScheduler(&decay.Config{Driver: failingDriver{driver}, Clock: clock.Now})
		Expect(err).NotTo(HaveOccurred())

		_, err = s.RunExpiredSweep(ctx)
		Expect(storage.IsTransient(err)).To(BeTrue())
		_, err = s.RunExpiredSweep(ctx)
		Expect(err).NotTo(MatchError(decay.ErrTaskRunning))
	})

	Describe("Start and Stop", func() {
		It("runs the tasks on their intervals until stopped", func() {
			id := learn(memory.TierShort, 0.1, time.Millisecond)
			clock.Advance(time.Second)

			s, err := decay.NewScheduler(&decay.Config{
				Driver:          driver,
				Clock:           clock.Now,
				ExpiredInterval: 5 * time.Millisecond,
				StaleInterval:   5 * time.Millisecond,
				StatsInterval:   5 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Start(ctx)).To(Succeed())
			Expect(s.Start(ctx)).To(MatchError(decay.ErrStarted))

			Eventually(func() bool {
				_, ok := get(id)
				return ok
			}).Should(BeFalse())
			Eventually(s.Stats).ShouldNot(BeNil())

			s.Stop()
			s.Stop()
		})
	})
})

