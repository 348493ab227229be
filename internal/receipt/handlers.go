package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/smartflow/smartflow/internal/logger"
	"github.com/smartflow/smartflow/internal/middleware"
)

// Multipart parts above this size are spooled to temporary files by
// net/http. It is not an upload limit.
const multipartMemory = 32 << 20

const (
	demoMessage      = "Receipt processed successfully (demo mode)"
	processedMessage = "Receipt processed successfully"
)

type uploadResponse struct {
	Message     string   `json:"message"`
	Filename    string   `json:"filename"`
	FileSize    int      `json:"file_size"`
	ReceiptID   *uint    `json:"receipt_id,omitempty"`
	ImageURL    *string  `json:"image_url,omitempty"`
	TotalAmount *float64 `json:"total_amount,omitempty"`
	ItemCount   *int     `json:"item_count,omitempty"`
}

type createUserRequest struct {
	Email        string  `json:"email"`
	BusinessName *string `json:"business_name"`
}

// handleRoot greets clients on the exact root path
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to Smart Flow API",
	})
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleUploadReceipt reads the "file" part of a multipart form. In demo mode
// it only reports the file name and size.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		log.Warn().Err(err).Msg("Error parsing multipart form")
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, "field required: file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		log.Warn().Err(err).Msg("Error getting file from form")
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, "field required: file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("Error reading file data")
		middleware.WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := uploadResponse{
		Message:  demoMessage,
		Filename: header.Filename,
		FileSize: len(data),
	}

	if !s.service.Processing() {
		middleware.WriteJSON(w, http.StatusOK, resp)
		return
	}

	processed, err := s.service.ProcessReceipt(r.Context(), Upload{
		Filename:    header.Filename,
		ContentType: uploadContentType(header.Header.Get("Content-Type"), header.Filename),
		Data:        data,
		Email:       r.FormValue("email"),
	})
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("Error processing receipt")
		middleware.WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	itemCount := len(processed.Items)
	resp.Message = processedMessage
	resp.ReceiptID = &processed.Receipt.ID
	resp.ImageURL = &processed.Receipt.ImageURL
	resp.TotalAmount = &processed.Receipt.TotalAmount
	resp.ItemCount = &itemCount

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// uploadContentType falls back to the file extension when the part has no
// usable Content-Type.
func uploadContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return "application/octet-stream"
}

// handleCreateUser registers a user
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, "field required: email")
		return
	}

	user, err := s.service.CreateUser(r.Context(), req.Email, req.BusinessName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	user, err := s.service.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, user)
}

// handleListUserReceipts returns a user's receipts, newest first
func (s *Server) handleListUserReceipts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	receipts, err := s.service.ListUserReceipts(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Ensure we always return an array, not null
	if receipts == nil {
		receipts = []*Receipt{}
	}

	middleware.WriteJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a receipt with its items
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	detail, err := s.service.GetReceiptDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if detail.Items == nil {
		detail.Items = []*Item{}
	}

	middleware.WriteJSON(w, http.StatusOK, detail)
}

// pathID parses the {id} path value, writing a 422 when it is not a
// positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// writeError maps service errors to status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		middleware.WriteDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateEmail):
		middleware.WriteDetail(w, http.StatusConflict, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		middleware.WriteDetail(w, http.StatusInternalServerError, err.Error())
	}
}
