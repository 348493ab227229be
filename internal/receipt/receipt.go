package receipt

import (
	"time"

	"github.com/smartflow/smartflow/internal/scanning"
)

// User owns zero or more receipts.
type User struct {
	ID           uint      `json:"id"`
	Email        string    `json:"email"`
	BusinessName *string   `json:"business_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Receipt is an uploaded receipt image and what was read from it.
// It references its owner by UserID only.
type Receipt struct {
	ID          uint      `json:"id"`
	UserID      uint      `json:"user_id"`
	ImageURL    string    `json:"image_url"`
	OCRData     *OCRData  `json:"ocr_data"`
	TotalAmount float64   `json:"total_amount"`
	ReceiptDate time.Time `json:"receipt_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Item is one line of a receipt. TotalPrice is expected to equal
// Quantity * UnitPrice.
type Item struct {
	ID         uint    `json:"id"`
	ReceiptID  uint    `json:"receipt_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// OCRData is the document stored alongside a receipt. Either Error is set,
// or FullText and ParsedData are.
type OCRData struct {
	FullText   string                  `json:"full_text,omitempty"`
	ParsedData *scanning.ParsedReceipt `json:"parsed_data,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// ReceiptDetail is a receipt joined with its items at query time.
type ReceiptDetail struct {
	Receipt *Receipt `json:"receipt"`
	Items   []*Item  `json:"items"`
}

// ItemsTotal sums the line totals of items.
func ItemsTotal(items []*Item) float64 {
	var total float64
	for _, item := range items {
		total += item.TotalPrice
	}
	return scanning.RoundCents(total)
}
