package scanning

import (
	"context"
	"errors"
)

// ErrNoTextFound is returned by a TextDetector when the image contains no text
var ErrNoTextFound = errors.New("no text found in image")

// NoTextMessage is the error recorded for receipts whose image has no text
const NoTextMessage = "No text found in image"

// Detection is the text read from a receipt image
type Detection struct {
	FullText string `json:"full_text"`
}

// TextDetector defines the interface for reading the text of a receipt
type TextDetector interface {
	// DetectText returns the full text of an image or PDF
	DetectText(ctx context.Context, data []byte, contentType string) (*Detection, error)
	// Close releases the detector's resources
	Close() error
}
