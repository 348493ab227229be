package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/rs/zerolog"

	"github.com/smartflow/smartflow/internal/receipt"
	"github.com/smartflow/smartflow/internal/scanning"
)

// stubDetector returns fixed text for every image
type stubDetector struct {
	text string
	err  error
}

func (s *stubDetector) DetectText(ctx context.Context, data []byte, contentType string) (*scanning.Detection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scanning.Detection{FullText: s.text}, nil
}

func (s *stubDetector) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		db       *receipt.GormDB
		store    *receipt.BoltStorage
		detector *stubDetector
		server   *receipt.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = receipt.OpenDB("sqlite://"+filepath.Join(tempDir, "smartflow.db"), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(db.Migrate(context.Background())).To(Succeed())

		store, err = receipt.NewBoltStorage(filepath.Join(tempDir, "blobs.db"))
		Expect(err).NotTo(HaveOccurred())

		detector = &stubDetector{
			text: strings.Join([]string{
				"GREEN GROCER",
				"03/20/2024",
				"Apples 3 x 1.20 3.60",
				"Milk 2.49",
				"TOTAL 6.09",
			}, "\n"),
		}

		service := receipt.NewService(db, detector, store, "demo@smartflow.local", zerolog.Nop())
		server = receipt.NewServer(service, zerolog.Nop())

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if store != nil {
			store.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	postReceipt := func(email string) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "grocer receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("fake png content"))
		Expect(err).NotTo(HaveOccurred())
		if email != "" {
			Expect(writer.WriteField("email", email)).To(Succeed())
		}
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/upload-receipt/", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should store, read and persist an uploaded receipt", func() {
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)

		// --- Step 1: upload ---
		resp := postReceipt("shopper@example.com")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var uploaded struct {
			ReceiptID   uint    `json:"receipt_id"`
			ImageURL    string  `json:"image_url"`
			TotalAmount float64 `json:"total_amount"`
			ItemCount   int     `json:"item_count"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&uploaded)).To(Succeed())
		resp.Body.Close()

		Expect(uploaded.TotalAmount).To(Equal(6.09))
		Expect(uploaded.ItemCount).To(Equal(2))
		Expect(uploaded.ImageURL).To(MatchRegexp(`^bolt://receipt-images/receipts/\d{8}_\d{6}_grocer_receipt\.png$`))

		// The image is in the blob store
		key := strings.TrimPrefix(uploaded.ImageURL, "bolt://receipt-images/")
		data, err := store.Get(key)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("fake png content")))

		// --- Step 2: read the receipt back ---
		resp, err = http.Get(ghServer.URL() + "/receipts/" + strconv.FormatUint(uint64(uploaded.ReceiptID), 10))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var detail receipt.ReceiptDetail
		Expect(json.NewDecoder(resp.Body).Decode(&detail)).To(Succeed())
		resp.Body.Close()

		Expect(detail.Receipt.ReceiptDate.Format("2006-01-02")).To(Equal("2024-03-20"))
		Expect(detail.Receipt.OCRData.ParsedData.Merchant).To(Equal("GREEN GROCER"))
		Expect(detail.Items).To(HaveLen(2))
		Expect(detail.Items[0].Name).To(Equal("Apples"))
		Expect(detail.Items[0].Quantity).To(Equal(3))
		Expect(detail.Items[0].UnitPrice).To(Equal(1.20))
		Expect(detail.Items[1].Name).To(Equal("Milk"))

		// --- Step 3: the receipt belongs to the uploader ---
		user, err := db.GetUserByEmail(context.Background(), "shopper@example.com")
		Expect(err).NotTo(HaveOccurred())

		resp, err = http.Get(ghServer.URL() + "/users/" + strconv.FormatUint(uint64(user.ID), 10) + "/receipts")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var receipts []receipt.Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
		resp.Body.Close()
		Expect(receipts).To(HaveLen(1))
		Expect(receipts[0].ID).To(Equal(uploaded.ReceiptID))
	})

	It("should leave nothing behind when text detection fails", func() {
		ghServer.AppendHandlers(server.ServeHTTP)
		detector.err = context.DeadlineExceeded

		resp := postReceipt("")
		Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		resp.Body.Close()

		_, err := db.GetUserByEmail(context.Background(), "demo@smartflow.local")
		Expect(err).To(MatchError(receipt.ErrNotFound))
	})

	It("should save a receipt without items when the image has no text", func() {
		ghServer.AppendHandlers(server.ServeHTTP)
		detector.err = scanning.ErrNoTextFound

		resp := postReceipt("")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var uploaded struct {
			ReceiptID uint `json:"receipt_id"`
			ItemCount int  `json:"item_count"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&uploaded)).To(Succeed())
		resp.Body.Close()
		Expect(uploaded.ItemCount).To(BeZero())

		saved, err := db.GetReceipt(context.Background(), uploaded.ReceiptID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.OCRData).To(Equal(&receipt.OCRData{Error: "No text found in image"}))
	})
})
