package statscmder_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	statscmder "github.com/papercomputeco/reminisce/cmd/reminisce/stats"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

var _ = Describe("Markdown", func() {
	stats := &reminisce.Stats{
		Total:        3,
		ByTier:       map[memory.Tier]int{memory.TierShort: 2, memory.TierLong: 1},
		ByConfidence: memory.ConfidenceBuckets{High: 1, Medium: 1, Low: 1},
		Performance:  reminisce.Performance{HitRate: 0.5, AvgConfidence: 0.6, EstimatedSavings: 4},
	}

	It("lists every tier, including empty ones", func() {
		md := statscmder.Markdown(stats)
		Expect(md).To(ContainSubstring("| short | 2 |"))
		Expect(md).To(ContainSubstring("| medium | 0 |"))
		Expect(md).To(ContainSubstring("| archived | 0 |"))
		Expect(md).To(ContainSubstring("hit rate: 50.0%"))
		Expect(md).To(ContainSubstring("tool calls saved: 4"))
		Expect(md).NotTo(ContainSubstring("Most used"))
	})

	It("adds detail sections when present", func() {
		detailed := *stats
		detailed.TopMemories = []*memory.Unit{{
			ID:          "0123456789abcdef",
			Pattern:     memory.Pattern{Type: "estimate_time"},
			Tier:        memory.TierLong,
			Confidence:  0.9,
			AccessCount: 7,
			Summary:     "Home | Library",
		}}
		detailed.UsageTrend = []reminisce.DayUsage{{Date: "2026-03-01", Accessed: 2}}

		md := statscmder.Markdown(&detailed)
		Expect(md).To(ContainSubstring("| 01234567 | estimate_time | long | 0.90 | 7 | Home / Library |"))
		Expect(md).To(ContainSubstring("| 2026-03-01 | 2 |"))
		Expect(md).NotTo(ContainSubstring("Most recent"))
	})
})

var _ = Describe("TierSummary", func() {
	It("counts every tier in order", func() {
		line := statscmder.TierSummary(map[memory.Tier]int{memory.TierShort: 2, memory.TierArchived: 1})
		Expect(line).To(MatchRegexp(`short\S* \S*2.*medium\S* \S*0.*long\S* \S*0.*archived\S* \S*1`))
	})
})

var _ = Describe("NewStatsCmd", func() {
	It("prints the raw stats as JSON", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"success":true,"data":{"total":5,"byTier":{"short":5},
				"byConfidenceBucket":{"high":5,"medium":0,"low":0},"validated":1,"expired":0,
				"performance":{"hitRate":1,"avgConfidence":0.9,"estimatedSavings":9}}}`)
		}))
		DeferCleanup(server.Close)

		var out bytes.Buffer
		root := &cobra.Command{Use: "reminisce"}
		root.PersistentFlags().String("config-dir", "", "")
		root.AddCommand(statscmder.NewStatsCmd())
		root.SetOut(&out)
		root.SetArgs([]string{"stats", "--config-dir", GinkgoT().TempDir(), "--api-target", server.URL, "--json"})

		Expect(root.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring(`"total": 5`))
		Expect(out.String()).To(ContainSubstring(`"estimatedSavings": 9`))
	})

	It("leads the report with the tier summary", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"success":true,"data":{"total":3,"byTier":{"short":2,"long":1},
				"byConfidenceBucket":{"high":1,"medium":1,"low":1},"validated":0,"expired":0,
				"performance":{"hitRate":0.5,"avgConfidence":0.6,"estimatedSavings":1}}}`)
		}))
		DeferCleanup(server.Close)

		var out bytes.Buffer
		root := &cobra.Command{Use: "reminisce"}
		root.PersistentFlags().String("config-dir", "", "")
		root.AddCommand(statscmder.NewStatsCmd())
		root.SetOut(&out)
		root.SetArgs([]string{"stats", "--config-dir", GinkgoT().TempDir(), "--api-target", server.URL})

		Expect(root.Execute()).To(Succeed())
		firstLine, _, _ := strings.Cut(out.String(), "\n")
		Expect(firstLine).To(ContainSubstring("short"))
		Expect(firstLine).To(ContainSubstring("archived"))
		Expect(out.String()).To(ContainSubstring("Memory stats"))
	})
})
