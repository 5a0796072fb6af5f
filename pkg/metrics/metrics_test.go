package metrics_test

import (
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
)

var _ = Describe("Collector", func() {
	var c *metrics.Collector

	BeforeEach(func() {
		c = metrics.NewCollector("")
	})

	It("separates recall hits from misses", func() {
		c.RecordRecall(metrics.ModeFingerprint, 2, time.Millisecond)
		c.RecordRecall(metrics.ModePattern, 0, time.Millisecond)
		c.RecordRecall(metrics.ModePattern, 0, time.Millisecond)

		Expect(testutil.ToFloat64(c.RecallHits(metrics.ModeFingerprint))).To(Equal(1.0))
		Expect(testutil.ToFloat64(c.RecallMisses(metrics.ModePattern))).To(Equal(2.0))
	})

	It("publishes tier gauges from a summary", func() {
		s := memory.NewSummary()
		s.ByTier[memory.TierLong] = 4
		s.TotalAccess = 17
		c.ObserveSummary(s)

		body := scrape(c)
		Expect(body).To(ContainSubstring(`reminisce_units{tier="long"} 4`))
		Expect(body).To(ContainSubstring(`reminisce_access_count 17`))
	})

	It("records sweeps without observing duration for skipped runs", func() {
		c.RecordSweep("expired", metrics.OutcomeSkipped, 0)
		c.RecordSweepEffect("expired", "deleted", 3)
		c.RecordInvalidation("expire", 2)

		body := scrape(c)
		Expect(body).To(ContainSubstring(`reminisce_sweep_runs_total{outcome="skipped",sweep="expired"} 1`))
		Expect(body).To(ContainSubstring(`reminisce_sweep_units_total{effect="deleted",sweep="expired"} 3`))
		Expect(body).To(ContainSubstring(`reminisce_invalidated_units_total{action="expire"} 2`))
		Expect(body).NotTo(ContainSubstring(`reminisce_sweep_duration_seconds_count{sweep="expired"}`))
	})

	It("is a no-op when nil", func() {
		var nilCollector *metrics.Collector
		Expect(func() {
			nilCollector.RecordRecall(metrics.ModePattern, 1, time.Second)
			nilCollector.RecordLearn()
			nilCollector.SetActiveContexts(3)
			nilCollector.ObserveSummary(memory.NewSummary())
		}).NotTo(Panic())
		Expect(nilCollector.Registry()).To(BeNil())
	})
})

func scrape(c *metrics.Collector) string {
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	Expect(rec.Code).To(Equal(200))
	return rec.Body.String()
}
