package handler

import (
	"net/http"
	"strconv"

	"github.com/chrischoy/MediaWhisperer/middleware"
	"github.com/chrischoy/MediaWhisperer/service"
	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	conversations *service.ConversationService
}

func NewConversationHandler(conversations *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

type CreateConversationRequest struct {
	PDFID int64  `json:"pdf_id" binding:"required"`
	Title string `json:"title"`
}

type AddMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// Create starts a conversation about one of the user's documents
func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	conv, err := h.conversations.Create(c.Request.Context(), middleware.GetUserID(c), req.PDFID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// List returns the user's conversations, optionally for one document
func (h *ConversationHandler) List(c *gin.Context) {
	pdfID, err1 := queryInt(c, "pdf_id")
	skip, err2 := queryInt(c, "skip")
	limit, err3 := queryInt(c, "limit")
	if err1 != nil || err2 != nil || err3 != nil || pdfID < 0 || skip < 0 || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	list, err := h.conversations.List(c.Request.Context(), middleware.GetUserID(c), int64(pdfID), skip, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// Get returns a conversation with its messages
func (h *ConversationHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	detail, err := h.conversations.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// AddMessage stores the user's question and the assistant's answer
func (h *ConversationHandler) AddMessage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := h.conversations.AddMessage(c.Request.Context(), middleware.GetUserID(c), id, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Delete removes a conversation and its messages
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.conversations.Delete(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
