package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// imageAnnotator is the part of the Vision client that Vision uses
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// Vision implements the TextDetector interface using Google Cloud Vision
type Vision struct {
	client  imageAnnotator
	timeout time.Duration
}

// NewVision creates a new Cloud Vision TextDetector
func NewVision(ctx context.Context, opts ...option.ClientOption) (*Vision, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	return newVisionWithClient(client), nil
}

func newVisionWithClient(client imageAnnotator) *Vision {
	return &Vision{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// DetectText runs TEXT_DETECTION and returns the first annotation, which
// covers the whole image.
func (v *Vision) DetectText(ctx context.Context, data []byte, contentType string) (*Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	// Vision reads JPEG, PNG, GIF, WebP and friends directly; only the
	// containers it cannot open are decoded first.
	content, err := decodeContainer(data, contentType)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image:    &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION}},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("annotating image: %w", err)
	}

	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("no response from vision")
	}
	result := resp.GetResponses()[0]
	if status := result.GetError(); status != nil && status.GetCode() != 0 {
		return nil, fmt.Errorf("vision error (code %d): %s", status.GetCode(), status.GetMessage())
	}

	annotations := result.GetTextAnnotations()
	if len(annotations) == 0 || strings.TrimSpace(annotations[0].GetDescription()) == "" {
		return nil, ErrNoTextFound
	}

	return &Detection{FullText: annotations[0].GetDescription()}, nil
}

// Close closes the Vision client
func (v *Vision) Close() error {
	return v.client.Close()
}
