package scanning

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("transcription", func() {
	DescribeTable("model replies",
		func(reply string, want string) {
			detection, err := transcription(reply)
			Expect(err).NotTo(HaveOccurred())
			Expect(detection.FullText).To(Equal(want))
		},
		Entry("plain text", "Shop\nTOTAL 4.00", "Shop\nTOTAL 4.00"),
		Entry("surrounding whitespace", "\n  Shop\nTOTAL 4.00  \n", "Shop\nTOTAL 4.00"),
		Entry("text fence", "```text\nShop\nTOTAL 4.00\n```", "Shop\nTOTAL 4.00"),
		Entry("bare fence", "```\nShop\nTOTAL 4.00\n```", "Shop\nTOTAL 4.00"),
		Entry("fence without closing", "```\nShop", "Shop"),
	)

	DescribeTable("empty replies",
		func(reply string) {
			_, err := transcription(reply)
			Expect(err).To(MatchError(ErrNoTextFound))
		},
		Entry("empty", ""),
		Entry("whitespace", "  \n\t"),
		Entry("empty fence", "```text\n```"),
		Entry("empty bare fence", "```\n\n```"),
	)
})

var _ = Describe("NewGemini", func() {
	It("requires an API key", func() {
		_, err := NewGemini(context.Background(), "", "gemini-2.5-pro")
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})
})
