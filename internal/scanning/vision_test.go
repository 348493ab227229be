package scanning

import (
	"context"
	"errors"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type mockAnnotator struct {
	resp    *visionpb.BatchAnnotateImagesResponse
	err     error
	request *visionpb.BatchAnnotateImagesRequest
	closed  bool
}

func (m *mockAnnotator) BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	m.request = req
	return m.resp, m.err
}

func (m *mockAnnotator) Close() error {
	m.closed = true
	return nil
}

func annotations(texts ...string) *visionpb.BatchAnnotateImagesResponse {
	result := &visionpb.AnnotateImageResponse{}
	for _, t := range texts {
		result.TextAnnotations = append(result.TextAnnotations, &visionpb.EntityAnnotation{Description: t})
	}
	return &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{result},
	}
}

var _ = Describe("Vision", func() {
	var (
		client    *mockAnnotator
		detector  *Vision
		data      []byte
		detection *Detection
		err       error
	)

	BeforeEach(func() {
		client = &mockAnnotator{}
		detector = newVisionWithClient(client)
		data = testPNG()
	})

	JustBeforeEach(func() {
		detection, err = detector.DetectText(context.Background(), data, "image/png")
	})

	When("the image has text", func() {
		BeforeEach(func() {
			client.resp = annotations("COFFEE HOUSE\nTOTAL 4.50\n", "COFFEE", "HOUSE")
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the full text annotation", func() {
			Expect(detection.FullText).To(Equal("COFFEE HOUSE\nTOTAL 4.50\n"))
		})

		It("should request text detection for the image bytes", func() {
			Expect(client.request.GetRequests()).To(HaveLen(1))
			req := client.request.GetRequests()[0]
			Expect(req.GetImage().GetContent()).To(Equal(data))
			Expect(req.GetFeatures()).To(HaveLen(1))
			Expect(req.GetFeatures()[0].GetType()).To(Equal(visionpb.Feature_TEXT_DETECTION))
		})
	})

	When("the image has no text", func() {
		BeforeEach(func() {
			client.resp = annotations()
		})

		It("should return ErrNoTextFound", func() {
			Expect(err).To(MatchError(ErrNoTextFound))
			Expect(detection).To(BeNil())
		})
	})

	When("the response is empty", func() {
		BeforeEach(func() {
			client.resp = &visionpb.BatchAnnotateImagesResponse{}
		})

		It("returns an error", func() {
			Expect(err).To(MatchError(ContainSubstring("no response from vision")))
		})
	})

	When("the API call fails", func() {
		BeforeEach(func() {
			client.err = errors.New("permission denied")
		})

		It("returns the wrapped error", func() {
			Expect(err).To(MatchError(ContainSubstring("annotating image: permission denied")))
		})
	})

	It("closes the client", func() {
		Expect(detector.Close()).To(Succeed())
		Expect(client.closed).To(BeTrue())
	})
})
