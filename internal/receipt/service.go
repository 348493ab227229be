package receipt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartflow/smartflow/internal/scanning"
)

// ErrProcessingDisabled is returned by pipeline operations when the service
// runs in demo mode.
var ErrProcessingDisabled = errors.New("receipt processing is disabled")

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload is a receipt file received from a client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	// Email of the owner; the service default is used when empty
	Email string
}

// ProcessedReceipt is the outcome of the upload pipeline
type ProcessedReceipt struct {
	Receipt *Receipt
	Items   []*Item
}

// Service handles receipt operations
type Service struct {
	db           DB
	detector     scanning.TextDetector
	storage      Storage
	defaultEmail string
	timeSource   TimeSource
	log          zerolog.Logger
}

// NewService creates a Service that stores, scans and persists uploads
func NewService(db DB, detector scanning.TextDetector, storage Storage, defaultEmail string, log zerolog.Logger) *Service {
	return NewServiceWithDeps(db, detector, storage, defaultEmail, log, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, detector scanning.TextDetector, storage Storage, defaultEmail string, log zerolog.Logger, timeSrc TimeSource) *Service {
	return &Service{
		db:           db,
		detector:     detector,
		storage:      storage,
		defaultEmail: defaultEmail,
		timeSource:   timeSrc,
		log:          log,
	}
}

// NewDemoService creates a Service that only acknowledges uploads
func NewDemoService(log zerolog.Logger) *Service {
	return NewServiceWithDeps(nil, nil, nil, "", log, &defaultTimeSource{})
}

// Processing reports whether uploads run through the full pipeline
func (s *Service) Processing() bool {
	return s.db != nil && s.detector != nil && s.storage != nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
	filenameExtension   = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

// sanitizeFilename keeps letters, digits, spaces, hyphens and underscores of
// the base name, truncated to 50 characters. Spaces become underscores so the
// result is safe in object keys and URLs.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(filename))
	if !filenameExtension.MatchString(ext) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return strings.ReplaceAll(base, " ", "_") + ext
}

// objectKey names the stored image: receipts/<YYYYMMDD_HHMMSS>_<filename>
func objectKey(now time.Time, filename string) string {
	return fmt.Sprintf("receipts/%s_%s", now.UTC().Format("20060102_150405"), sanitizeFilename(filename))
}

// ProcessReceipt stores the image, reads its text, parses the text into line
// items and saves the receipt with its items for the uploading user.
func (s *Service) ProcessReceipt(ctx context.Context, upload Upload) (*ProcessedReceipt, error) {
	if !s.Processing() {
		return nil, ErrProcessingDisabled
	}

	now := s.timeSource.Now()

	key := objectKey(now, upload.Filename)
	imageURL, err := s.storage.Upload(ctx, key, upload.Data, upload.ContentType)
	if err != nil {
		return nil, fmt.Errorf("uploading image: %w", err)
	}

	ocr, parsed, err := s.readReceipt(ctx, upload)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("filename", upload.Filename).
			Str("content_type", upload.ContentType).
			Int("file_size", len(upload.Data)).
			Msg("Failed to read receipt text")
		s.deleteImage(ctx, key)
		return nil, fmt.Errorf("detecting text: %w", err)
	}

	// Users are created only once the image has been read.
	user, err := s.resolveUser(ctx, upload.Email)
	if err != nil {
		s.deleteImage(ctx, key)
		return nil, err
	}

	receipt := &Receipt{
		UserID:      user.ID,
		ImageURL:    imageURL,
		OCRData:     ocr,
		ReceiptDate: now,
		CreatedAt:   now,
	}

	items := make([]*Item, 0)
	if parsed != nil {
		for _, p := range parsed.Items {
			items = append(items, &Item{
				Name:       p.Name,
				Quantity:   p.Quantity,
				UnitPrice:  p.UnitPrice,
				TotalPrice: p.TotalPrice,
			})
		}
		receipt.TotalAmount = parsed.Total
		if date, ok := parsed.PurchaseDate(); ok {
			receipt.ReceiptDate = date
		}

		if sum := ItemsTotal(items); len(items) > 0 && math.Abs(sum-receipt.TotalAmount) > 0.01 {
			s.log.Warn().
				Float64("total_amount", receipt.TotalAmount).
				Float64("items_total", sum).
				Str("filename", upload.Filename).
				Msg("Receipt total does not match item sum")
		}
	}

	if err := s.db.SaveReceipt(ctx, receipt, items); err != nil {
		s.deleteImage(ctx, key)
		return nil, fmt.Errorf("saving receipt: %w", err)
	}

	s.log.Info().
		Uint("receipt_id", receipt.ID).
		Uint("user_id", user.ID).
		Int("item_count", len(items)).
		Float64("total_amount", receipt.TotalAmount).
		Msg("Receipt processed")

	return &ProcessedReceipt{Receipt: receipt, Items: items}, nil
}

// readReceipt runs text detection and parsing. An image without text is not
// an error: it yields OCR data that records the fact and no parsed data.
func (s *Service) readReceipt(ctx context.Context, upload Upload) (*OCRData, *scanning.ParsedReceipt, error) {
	detection, err := s.detector.DetectText(ctx, upload.Data, upload.ContentType)
	if errors.Is(err, scanning.ErrNoTextFound) {
		return &OCRData{Error: scanning.NoTextMessage}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	parsed := scanning.ParseReceiptText(detection.FullText)
	return &OCRData{FullText: detection.FullText, ParsedData: parsed}, parsed, nil
}

// deleteImage removes an uploaded image after a failed pipeline
func (s *Service) deleteImage(ctx context.Context, key string) {
	if err := s.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to delete image")
	}
}

// resolveUser returns the user with email, creating it on first use
func (s *Service) resolveUser(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = s.defaultEmail
	}

	user, err := s.db.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	user = &User{Email: email, CreatedAt: s.timeSource.Now()}
	err = s.db.CreateUser(ctx, user)
	if errors.Is(err, ErrDuplicateEmail) {
		// Created concurrently by another upload
		return s.db.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	return user, nil
}

// CreateUser registers a user
func (s *Service) CreateUser(ctx context.Context, email string, businessName *string) (*User, error) {
	if !s.Processing() {
		return nil, ErrProcessingDisabled
	}
	user := &User{
		Email:        strings.TrimSpace(email),
		BusinessName: businessName,
		CreatedAt:    s.timeSource.Now(),
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, id uint) (*User, error) {
	if !s.Processing() {
		return nil, ErrProcessingDisabled
	}
	user, err := s.db.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// GetReceiptDetail retrieves a receipt together with its items
func (s *Service) GetReceiptDetail(ctx context.Context, id uint) (*ReceiptDetail, error) {
	if !s.Processing() {
		return nil, ErrProcessingDisabled
	}
	receipt, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	items, err := s.db.ListItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt items: %w", err)
	}
	return &ReceiptDetail{Receipt: receipt, Items: items}, nil
}

// ListUserReceipts returns the receipts of a user, newest first
func (s *Service) ListUserReceipts(ctx context.Context, userID uint) ([]*Receipt, error) {
	if !s.Processing() {
		return nil, ErrProcessingDisabled
	}
	if _, err := s.db.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	receipts, err := s.db.ListReceiptsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}
