package receipt

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smartflow/smartflow/internal/scanning"
)

var _ = Describe("GormDB", func() {
	var (
		db  *GormDB
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = OpenDB("sqlite://"+filepath.Join(GinkgoT().TempDir(), "test.db"), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(db.Migrate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	createUser := func(email string) *User {
		user := &User{Email: email, CreatedAt: time.Now()}
		Expect(db.CreateUser(ctx, user)).To(Succeed())
		return user
	}

	Describe("CreateUser", func() {
		It("assigns an ID", func() {
			user := createUser("owner@example.com")
			Expect(user.ID).NotTo(BeZero())
		})

		It("returns ErrDuplicateEmail for a taken email", func() {
			createUser("owner@example.com")
			err := db.CreateUser(ctx, &User{Email: "owner@example.com"})
			Expect(err).To(MatchError(ErrDuplicateEmail))
		})
	})

	Describe("GetUser", func() {
		It("returns the stored user", func() {
			name := "Corner Cafe"
			user := &User{Email: "owner@example.com", BusinessName: &name, CreatedAt: time.Now()}
			Expect(db.CreateUser(ctx, user)).To(Succeed())

			got, err := db.GetUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Email).To(Equal("owner@example.com"))
			Expect(got.BusinessName).To(HaveValue(Equal("Corner Cafe")))
		})

		It("returns ErrNotFound for a missing user", func() {
			_, err := db.GetUser(ctx, 99)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("GetUserByEmail", func() {
		It("finds the user", func() {
			user := createUser("owner@example.com")
			got, err := db.GetUserByEmail(ctx, "owner@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
		})

		It("returns ErrNotFound for an unknown email", func() {
			_, err := db.GetUserByEmail(ctx, "nobody@example.com")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("SaveReceipt", func() {
		var (
			user    *User
			receipt *Receipt
			items   []*Item
			err     error
		)

		BeforeEach(func() {
			user = createUser("owner@example.com")
			receipt = &Receipt{
				UserID:   user.ID,
				ImageURL: "https://storage.googleapis.com/b/receipts/r.png",
				OCRData: &OCRData{
					FullText: "Latte 2 x 4.50 9.00\nTOTAL 9.00",
					ParsedData: &scanning.ParsedReceipt{
						Total: 9.00,
						Items: []scanning.ParsedItem{{Name: "Latte", Quantity: 2, UnitPrice: 4.50, TotalPrice: 9.00}},
					},
				},
				TotalAmount: 9.00,
				ReceiptDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
				CreatedAt:   time.Date(2024, 3, 20, 9, 30, 15, 0, time.UTC),
			}
			items = []*Item{
				{Name: "Latte", Quantity: 2, UnitPrice: 4.50, TotalPrice: 9.00},
				{Name: "Cookie", Quantity: 1, UnitPrice: 0, TotalPrice: 0},
			}
		})

		JustBeforeEach(func() {
			err = db.SaveReceipt(ctx, receipt, items)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should assign IDs", func() {
				Expect(receipt.ID).NotTo(BeZero())
				for _, item := range items {
					Expect(item.ID).NotTo(BeZero())
					Expect(item.ReceiptID).To(Equal(receipt.ID))
				}
			})

			It("should round trip the receipt", func() {
				got, err := db.GetReceipt(ctx, receipt.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.UserID).To(Equal(user.ID))
				Expect(got.ImageURL).To(Equal(receipt.ImageURL))
				Expect(got.TotalAmount).To(Equal(9.00))
				Expect(got.ReceiptDate).To(BeTemporally("==", receipt.ReceiptDate))
				Expect(got.OCRData).To(Equal(receipt.OCRData))
			})

			It("should list the items in order", func() {
				got, err := db.ListItems(ctx, receipt.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(HaveLen(2))
				Expect(got[0].Name).To(Equal("Latte"))
				Expect(got[1].Name).To(Equal("Cookie"))
			})
		})

		When("the receipt has no OCR data", func() {
			BeforeEach(func() {
				receipt.OCRData = nil
				items = nil
			})

			It("should store a null document", func() {
				Expect(err).NotTo(HaveOccurred())
				got, err := db.GetReceipt(ctx, receipt.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.OCRData).To(BeNil())
			})

			It("should have no items", func() {
				got, err := db.ListItems(ctx, receipt.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(BeEmpty())
			})
		})

		When("the user does not exist", func() {
			BeforeEach(func() {
				receipt.UserID = 999
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
			})

			It("should not insert the items", func() {
				var count int64
				Expect(db.db.Model(&itemRow{}).Count(&count).Error).To(Succeed())
				Expect(count).To(BeZero())
			})
		})
	})

	Describe("ListReceiptsByUser", func() {
		It("returns the user's receipts newest first", func() {
			user := createUser("owner@example.com")
			other := createUser("other@example.com")

			older := &Receipt{UserID: user.ID, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ReceiptDate: time.Now()}
			newer := &Receipt{UserID: user.ID, CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), ReceiptDate: time.Now()}
			foreign := &Receipt{UserID: other.ID, CreatedAt: time.Now(), ReceiptDate: time.Now()}
			for _, r := range []*Receipt{older, newer, foreign} {
				Expect(db.SaveReceipt(ctx, r, nil)).To(Succeed())
			}

			got, err := db.ListReceiptsByUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(2))
			Expect(got[0].ID).To(Equal(newer.ID))
			Expect(got[1].ID).To(Equal(older.ID))
		})

		It("returns an empty list for a user without receipts", func() {
			user := createUser("owner@example.com")
			got, err := db.ListReceiptsByUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})

	Describe("GetReceipt", func() {
		It("returns ErrNotFound for a missing receipt", func() {
			_, err := db.GetReceipt(ctx, 12345)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})

var _ = Describe("OpenDB", func() {
	It("rejects an empty URL", func() {
		_, err := OpenDB("", false)
		Expect(err).To(MatchError(ContainSubstring("database url is empty")))
	})

	It("enables foreign keys for SQLite", func() {
		Expect(sqliteDSN("test.db")).To(Equal("test.db?_foreign_keys=on"))
		Expect(sqliteDSN("test.db?cache=shared")).To(Equal("test.db?cache=shared&_foreign_keys=on"))
		Expect(sqliteDSN("test.db?_foreign_keys=off")).To(Equal("test.db?_foreign_keys=off"))
	})
})
