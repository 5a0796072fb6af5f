package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reminisce/pkg/cliui"
)

var _ = Describe("Step", func() {
	It("prints a success mark and returns nil", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "sweeping expired", func() error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring("sweeping expired"))
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
	})

	It("passes through the error with a fail mark", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")
		err := cliui.Step(&buf, "refreshing stats", func() error { return boom })
		Expect(err).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})
})

var _ = Describe("FormatDuration", func() {
	It("uses milliseconds below a second", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
	})

	It("uses seconds otherwise", func() {
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})

var _ = Describe("Tier", func() {
	It("keeps the tier name in the output", func() {
		Expect(cliui.Tier("long")).To(ContainSubstring("long"))
		Expect(cliui.Tier("bogus")).To(ContainSubstring("bogus"))
	})
})

var _ = Describe("RenderMarkdown", func() {
	It("renders headings", func() {
		out, err := cliui.RenderMarkdown("# Memory stats\n\n| tier | count |\n|---|---|\n| short | 2 |\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Memory stats"))
	})
})
