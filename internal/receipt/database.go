package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when a user with the same email exists.
	ErrDuplicateEmail = errors.New("email already registered")
)

// DB defines the interface for database operations
type DB interface {
	// CreateUser inserts a user and fills in its ID and CreatedAt
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by ID
	GetUser(ctx context.Context, id uint) (*User, error)

	// GetUserByEmail retrieves a user by email
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// SaveReceipt inserts a receipt and its items in one transaction
	SaveReceipt(ctx context.Context, receipt *Receipt, items []*Item) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(ctx context.Context, id uint) (*Receipt, error)

	// ListItems returns the items of a receipt in insertion order
	ListItems(ctx context.Context, receiptID uint) ([]*Item, error)

	// ListReceiptsByUser returns a user's receipts, newest first
	ListReceiptsByUser(ctx context.Context, userID uint) ([]*Receipt, error)

	// Close closes the database connection
	Close() error
}

// Table rows. Parents declare their children only so AutoMigrate emits the
// foreign key constraints; the rows are never loaded as a graph.
type userRow struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	BusinessName *string
	CreatedAt    time.Time

	Receipts []receiptRow `gorm:"foreignKey:UserID"`
}

func (userRow) TableName() string { return "users" }

type receiptRow struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"index;not null"`
	ImageURL    string
	OCRData     *string `gorm:"column:ocr_data;type:json"`
	TotalAmount float64
	ReceiptDate time.Time
	CreatedAt   time.Time

	Items []itemRow `gorm:"foreignKey:ReceiptID"`
}

func (receiptRow) TableName() string { return "receipts" }

type itemRow struct {
	ID         uint `gorm:"primaryKey"`
	ReceiptID  uint `gorm:"index;not null"`
	Name       string
	Quantity   int
	UnitPrice  float64
	TotalPrice float64
}

func (itemRow) TableName() string { return "items" }

// GormDB implements the DB interface on top of GORM
type GormDB struct {
	db *gorm.DB
}

// OpenDB connects to the database named by url. postgres:// and
// postgresql:// URLs use PostgreSQL; sqlite:// URLs and bare paths use SQLite.
func OpenDB(url string, debug bool) (*GormDB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		dialector = postgres.Open(url)
	case strings.HasPrefix(url, "sqlite://"):
		dialector = sqlite.Open(sqliteDSN(strings.TrimPrefix(url, "sqlite://")))
	case url == "":
		return nil, errors.New("database url is empty")
	default:
		dialector = sqlite.Open(sqliteDSN(url))
	}

	logMode := gormlogger.Silent
	if debug {
		logMode = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &GormDB{db: db}, nil
}

// sqliteDSN turns on foreign key enforcement for every pooled connection.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on"
}

// Migrate creates or updates the users, receipts and items tables
func (g *GormDB) Migrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(&userRow{}, &receiptRow{}, &itemRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// CreateUser inserts a user
func (g *GormDB) CreateUser(ctx context.Context, user *User) error {
	row := userRow{
		Email:        user.Email,
		BusinessName: user.BusinessName,
		CreatedAt:    user.CreatedAt,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("creating user %s: %w", user.Email, ErrDuplicateEmail)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	user.ID = row.ID
	user.CreatedAt = row.CreatedAt
	return nil
}

// GetUser retrieves a user by ID
func (g *GormDB) GetUser(ctx context.Context, id uint) (*User, error) {
	var row userRow
	if err := g.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return row.toUser(), nil
}

// GetUserByEmail retrieves a user by email
func (g *GormDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var row userRow
	if err := g.db.WithContext(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		return nil, notFound(err, "user", email)
	}
	return row.toUser(), nil
}

// SaveReceipt inserts a receipt and its items, filling in their IDs
func (g *GormDB) SaveReceipt(ctx context.Context, receipt *Receipt, items []*Item) error {
	ocr, err := encodeOCRData(receipt.OCRData)
	if err != nil {
		return err
	}

	row := receiptRow{
		UserID:      receipt.UserID,
		ImageURL:    receipt.ImageURL,
		OCRData:     ocr,
		TotalAmount: receipt.TotalAmount,
		ReceiptDate: receipt.ReceiptDate,
		CreatedAt:   receipt.CreatedAt,
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(&row).Error; err != nil {
			return fmt.Errorf("inserting receipt: %w", err)
		}

		if len(items) > 0 {
			itemRows := make([]itemRow, len(items))
			for i, item := range items {
				itemRows[i] = itemRow{
					ReceiptID:  row.ID,
					Name:       item.Name,
					Quantity:   item.Quantity,
					UnitPrice:  item.UnitPrice,
					TotalPrice: item.TotalPrice,
				}
			}
			if err := tx.Create(&itemRows).Error; err != nil {
				return fmt.Errorf("inserting items: %w", err)
			}
			for i, item := range items {
				item.ID = itemRows[i].ID
				item.ReceiptID = row.ID
			}
		}

		receipt.ID = row.ID
		receipt.CreatedAt = row.CreatedAt
		return nil
	})
}

// GetReceipt retrieves a receipt by ID
func (g *GormDB) GetReceipt(ctx context.Context, id uint) (*Receipt, error) {
	var row receiptRow
	if err := g.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "receipt", id)
	}
	return row.toReceipt()
}

// ListItems returns the items of a receipt
func (g *GormDB) ListItems(ctx context.Context, receiptID uint) ([]*Item, error) {
	var rows []itemRow
	if err := g.db.WithContext(ctx).Where("receipt_id = ?", receiptID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing items of receipt %d: %w", receiptID, err)
	}
	items := make([]*Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, &Item{
			ID:         row.ID,
			ReceiptID:  row.ReceiptID,
			Name:       row.Name,
			Quantity:   row.Quantity,
			UnitPrice:  row.UnitPrice,
			TotalPrice: row.TotalPrice,
		})
	}
	return items, nil
}

// ListReceiptsByUser returns a user's receipts, newest first
func (g *GormDB) ListReceiptsByUser(ctx context.Context, userID uint) ([]*Receipt, error) {
	var rows []receiptRow
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc, id desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing receipts of user %d: %w", userID, err)
	}
	receipts := make([]*Receipt, 0, len(rows))
	for _, row := range rows {
		receipt, err := row.toReceipt()
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// Close closes the database connection
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql handle: %w", err)
	}
	return sqlDB.Close()
}

func (r userRow) toUser() *User {
	return &User{
		ID:           r.ID,
		Email:        r.Email,
		BusinessName: r.BusinessName,
		CreatedAt:    r.CreatedAt,
	}
}

func (r receiptRow) toReceipt() (*Receipt, error) {
	ocr, err := decodeOCRData(r.OCRData)
	if err != nil {
		return nil, fmt.Errorf("receipt %d: %w", r.ID, err)
	}
	return &Receipt{
		ID:          r.ID,
		UserID:      r.UserID,
		ImageURL:    r.ImageURL,
		OCRData:     ocr,
		TotalAmount: r.TotalAmount,
		ReceiptDate: r.ReceiptDate,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func encodeOCRData(data *OCRData) (*string, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling ocr data: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeOCRData(raw *string) (*OCRData, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var data OCRData
	if err := json.Unmarshal([]byte(*raw), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling ocr data: %w", err)
	}
	return &data, nil
}

func notFound(err error, kind string, key any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", kind, key, ErrNotFound)
	}
	return fmt.Errorf("getting %s %v: %w", kind, key, err)
}
