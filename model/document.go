package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of a document
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrInvalidDocument is returned when a document is missing required fields.
var ErrInvalidDocument = errors.New("invalid document")

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a document may move from s to next.
// Documents only move forward and never skip processing.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Summary is the short description derived from a converted document.
type Summary struct {
	Title     string   `json:"title"`
	KeyPoints []string `json:"key_points"`
	Summary   string   `json:"summary"`
}

// Document is one ingested PDF and its derived artifacts.
type Document struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"file_path"`
	SourceURL    string    `json:"source_url,omitempty"`
	Status       Status    `json:"status"`
	PageCount    *int      `json:"page_count,omitempty"`
	MarkdownPath string    `json:"markdown_path,omitempty"`
	ImagePaths   []string  `json:"image_paths,omitempty"`
	Summary      *Summary  `json:"summary,omitempty"`
	ErrorMsg     string    `json:"error_msg,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewDocument builds a pending document and validates its required fields.
func NewDocument(id, userID int64, title, description, filename, filePath string) (*Document, error) {
	doc := &Document{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		Filename:    filename,
		FilePath:    filePath,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	doc.UpdatedAt = doc.CreatedAt
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks that the fields every document needs are present.
func (d *Document) Validate() error {
	switch {
	case d.ID <= 0:
		return fmt.Errorf("%w: id must be positive", ErrInvalidDocument)
	case d.UserID <= 0:
		return fmt.Errorf("%w: user_id must be positive", ErrInvalidDocument)
	case d.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidDocument)
	case d.Filename == "":
		return fmt.Errorf("%w: filename is required", ErrInvalidDocument)
	case d.FilePath == "":
		return fmt.Errorf("%w: file_path is required", ErrInvalidDocument)
	case !d.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDocument, d.Status)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.PageCount != nil {
		n := *d.PageCount
		c.PageCount = &n
	}
	c.ImagePaths = slices.Clone(d.ImagePaths)
	if d.Summary != nil {
		s := *d.Summary
		s.KeyPoints = slices.Clone(d.Summary.KeyPoints)
		c.Summary = &s
	}
	return &c
}

// OwnedBy reports whether userID owns the document.
func (d *Document) OwnedBy(userID int64) bool {
	return d.UserID == userID
}
