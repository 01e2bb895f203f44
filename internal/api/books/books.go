package books

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"bookstore/internal/api/auth"
	"bookstore/internal/model"
	"bookstore/internal/pkg/apperr"
	"bookstore/internal/pkg/metrics"
	"bookstore/internal/pkg/storage"
	"bookstore/internal/pkg/validation"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	invalidIDMessage = "Please enter correct id."
	notFoundMessage  = "Book not found."
	badImageMessage  = "Only jpg, jpeg and png images are allowed."
)

var bookMessages = validation.Messages{
	"category.oneof": "Please enter correct category.",
	"user":           "You cannot pass user id",
}

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ImageUploader 上传图片并按输入顺序返回结果。
type ImageUploader interface {
	UploadImages(ctx context.Context, files []storage.File) ([]model.Image, error)
}

// Handler 提供图书 CRUD 与图片上传接口。
type Handler struct {
	store          BookStore
	uploader       ImageUploader
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler 创建图书 Handler。maxUploadBytes 为 0 时不限制上传大小。
func NewHandler(store BookStore, uploader ImageUploader, maxUploadBytes int64, logger *slog.Logger) *Handler {
	validation.Setup()
	return &Handler{
		store:          store,
		uploader:       uploader,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

type createBookRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description" binding:"required"`
	Author      string          `json:"author" binding:"required"`
	Price       *float64        `json:"price" binding:"required,gte=0"`
	Category    model.Category  `json:"category" binding:"required,oneof=Adventure Classics Crime Fantasy"`
	User        json.RawMessage `json:"user" binding:"isdefault"`
}

type updateBookRequest struct {
	Title       *string         `json:"title" binding:"omitempty,min=1"`
	Description *string         `json:"description" binding:"omitempty,min=1"`
	Author      *string         `json:"author" binding:"omitempty,min=1"`
	Price       *float64        `json:"price" binding:"omitempty,gte=0"`
	Category    *model.Category `json:"category" binding:"omitempty,oneof=Adventure Classics Crime Fantasy"`
	User        json.RawMessage `json:"user" binding:"isdefault"`
}

type listBooksQuery struct {
	Search    string `form:"search"`
	Page      int    `form:"page,default=1" binding:"min=1,max=100000"`
	Limit     int    `form:"limit,default=10" binding:"min=1,max=100"`
	SortBy    string `form:"sortBy" binding:"omitempty,oneof=title author price category createdAt"`
	SortOrder string `form:"sortOrder,default=asc" binding:"oneof=asc desc"`
}

// Create 创建图书，创建者取自访问令牌。
func (h *Handler) Create(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, validation.FromBindError(err, bookMessages))
		return
	}

	id, ok := auth.IdentityFrom(c.Request.Context())
	if !ok {
		apperr.Respond(c, h.logger, apperr.Unauthenticated("missing authorization"))
		return
	}

	book := &model.Book{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Author:      strings.TrimSpace(req.Author),
		Price:       *req.Price,
		Category:    req.Category,
		UserID:      id.UserID,
	}
	if err := h.store.Create(c.Request.Context(), book); err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}

	h.logger.Info("book created", slog.String("book_id", book.ID), slog.String("user_id", id.UserID))
	c.JSON(http.StatusCreated, book)
}

// List 按条件分页查询图书。
func (h *Handler) List(c *gin.Context) {
	var q listBooksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apperr.Respond(c, h.logger, validation.FromBindError(err, bookMessages))
		return
	}

	books, err := h.store.List(c.Request.Context(), ListQuery{
		Search:    q.Search,
		Page:      q.Page,
		Limit:     q.Limit,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

// Get 按 id 查询图书。
func (h *Handler) Get(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	book, err := h.store.FindByID(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, h.logger, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, book)
}

// Update 部分更新图书字段。
func (h *Handler) Update(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	var req updateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, validation.FromBindError(err, bookMessages))
		return
	}

	book, err := h.store.Update(c.Request.Context(), id, func(b *model.Book) {
		if req.Title != nil {
			b.Title = strings.TrimSpace(*req.Title)
		}
		if req.Description != nil {
			b.Description = *req.Description
		}
		if req.Author != nil {
			b.Author = strings.TrimSpace(*req.Author)
		}
		if req.Price != nil {
			b.Price = *req.Price
		}
		if req.Category != nil {
			b.Category = *req.Category
		}
	})
	if err != nil {
		apperr.Respond(c, h.logger, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, book)
}

// Delete 删除图书。
func (h *Handler) Delete(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		apperr.Respond(c, h.logger, mapStoreError(err))
		return
	}
	h.logger.Info("book deleted", slog.String("book_id", id))
	c.Status(http.StatusNoContent)
}

// UploadImages 上传图书图片并替换原有图片列表。
//
// 所有文件先校验扩展名与内容类型，再并发上传；任一上传失败时图书保持不变。
func (h *Handler) UploadImages(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.FindByID(ctx, id); err != nil {
		apperr.Respond(c, h.logger, mapStoreError(err))
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperr.Respond(c, h.logger, apperr.New(apperr.KindUnprocessable,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		apperr.Respond(c, h.logger, apperr.Validation("request must be multipart/form-data", nil))
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		apperr.Respond(c, h.logger, apperr.Validation("validation failed", map[string]string{"files": "is required"}))
		return
	}

	files := make([]storage.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readImage(fh)
		if err != nil {
			apperr.Respond(c, h.logger, err)
			return
		}
		files = append(files, f)
	}

	images, err := h.uploader.UploadImages(ctx, files)
	if err != nil {
		metrics.ImageUploadsTotal.WithLabelValues("failed").Add(float64(len(files)))
		apperr.Respond(c, h.logger, apperr.Upstream("Failed to upload images.", err))
		return
	}
	metrics.ImageUploadsTotal.WithLabelValues("succeeded").Add(float64(len(files)))

	book, err := h.store.Update(ctx, id, func(b *model.Book) {
		b.Images = images
	})
	if err != nil {
		apperr.Respond(c, h.logger, mapStoreError(err))
		return
	}

	h.logger.Info("book images uploaded", slog.String("book_id", id), slog.Int("count", len(images)))
	c.JSON(http.StatusOK, book)
}

// bookID 读取并校验路径参数 id，失败时已写出 400。
func (h *Handler) bookID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(invalidIDMessage, nil))
		return "", false
	}
	return id.String(), true
}

// readImage 读取上传文件，扩展名与嗅探到的类型都必须是 jpg/png。
func readImage(fh *multipart.FileHeader) (storage.File, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedImageExt[ext] {
		return storage.File{}, apperr.New(apperr.KindUnprocessable, badImageMessage)
	}

	src, err := fh.Open()
	if err != nil {
		return storage.File{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return storage.File{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}

	mt := mimetype.Detect(data)
	if !mt.Is("image/jpeg") && !mt.Is("image/png") {
		return storage.File{}, apperr.New(apperr.KindUnprocessable, badImageMessage)
	}

	return storage.File{Name: fh.Filename, ContentType: mt.String(), Data: data}, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, ErrBookNotFound) {
		return apperr.NotFound(notFoundMessage)
	}
	return err
}
