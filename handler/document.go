package handler

import (
	"errors"
	"net/http"

	"github.com/chrischoy/MediaWhisperer/middleware"
	"github.com/chrischoy/MediaWhisperer/service"
	"github.com/gin-gonic/gin"
)

type DocumentHandler struct {
	pipeline      *service.Pipeline
	maxUploadSize int64
}

func NewDocumentHandler(pipeline *service.Pipeline, maxUploadSize int64) *DocumentHandler {
	return &DocumentHandler{pipeline: pipeline, maxUploadSize: maxUploadSize}
}

type FromURLRequest struct {
	URL         string `json:"url" binding:"required"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Upload stores an uploaded PDF and converts it before responding. A failed
// conversion still returns the document, with status failed.
func (h *DocumentHandler) Upload(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}
	defer file.Close()

	doc, err := h.pipeline.IngestUpload(c.Request.Context(), service.UploadRequest{
		UserID:      middleware.GetUserID(c),
		Filename:    header.Filename,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Body:        file,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// FromURL downloads a PDF and converts it before responding.
func (h *DocumentHandler) FromURL(c *gin.Context) {
	var req FromURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	doc, err := h.pipeline.IngestURL(c.Request.Context(), service.URLRequest{
		UserID:      middleware.GetUserID(c),
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// List returns all documents of the current user
func (h *DocumentHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.List(middleware.GetUserID(c)))
}

// Get returns a single document
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	doc, err := h.pipeline.Get(middleware.GetUserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// GetContent returns the markdown and image names of a completed document
func (h *DocumentHandler) GetContent(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	content, err := h.pipeline.Content(middleware.GetUserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"markdown": content.Markdown,
		"images":   content.Images,
	})
}

// GetSummary returns the extracted title, key points and summary
func (h *DocumentHandler) GetSummary(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	summary, err := h.pipeline.Summary(middleware.GetUserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetStatus returns the processing status of a document
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	doc, err := h.pipeline.Get(middleware.GetUserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        doc.ID,
		"status":    doc.Status,
		"error_msg": doc.ErrorMsg,
	})
}

// GetImage serves an image extracted from a document
func (h *DocumentHandler) GetImage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	path, err := h.pipeline.Image(middleware.GetUserID(c), id, c.Param("filename"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.File(path)
}

// Delete removes a document and its files
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.pipeline.Delete(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
