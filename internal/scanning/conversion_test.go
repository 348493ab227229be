package scanning

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

var _ = Describe("prepareImageData", func() {
	It("passes PNG data through", func() {
		data := testPNG()
		out, err := prepareImageData(data, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("converts JPEG to PNG", func() {
		out, err := prepareImageData(testJPEG(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.HasPrefix(out, pngMagic)).To(BeTrue())
	})

	It("ignores content type parameters and case", func() {
		out, err := prepareImageData(testJPEG(), " Image/JPEG; charset=binary ")
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.HasPrefix(out, pngMagic)).To(BeTrue())
	})

	It("rejects data it cannot decode", func() {
		_, err := prepareImageData([]byte("not an image"), "image/bmp")
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})
})

var _ = Describe("decodeContainer", func() {
	It("leaves JPEG data unchanged", func() {
		data := testJPEG()
		out, err := decodeContainer(data, "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("leaves unknown formats for the detector to judge", func() {
		data := []byte("RIFF....WEBP")
		out, err := decodeContainer(data, "image/webp")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})
})

var _ = Describe("isHEICFormat", func() {
	It("detects the ftyp brand", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"))).To(BeTrue())
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypmif1\x00\x00\x00\x00"))).To(BeTrue())
	})

	It("rejects other data", func() {
		Expect(isHEICFormat(testPNG())).To(BeFalse())
		Expect(isHEICFormat([]byte("short"))).To(BeFalse())
	})
})
