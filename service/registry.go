package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/chrischoy/MediaWhisperer/model"
)

// Artifacts is the set of derived files attached to a completed document.
type Artifacts struct {
	MarkdownPath string
	ImagePaths   []string
	Summary      *model.Summary
	PageCount    *int
}

// Registry is the metadata store for documents. It keeps every document in
// memory and rewrites the whole snapshot file after each mutation. A single
// mutex serializes read-modify-write-persist; a mutation becomes visible in
// memory only once its snapshot has been written.
type Registry struct {
	mu     sync.RWMutex
	path   string
	docs   map[int64]*model.Document
	nextID int64
}

const interruptedMsg = "processing interrupted before completion"

// OpenRegistry loads the snapshot at path, or starts empty when the file
// does not exist yet.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{
		path: path,
		docs: make(map[int64]*model.Document),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("registry initialized", "path", path, "documents", 0)
		r.nextID = 1
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var snapshot map[string]*model.Document
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	for key, doc := range snapshot {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || doc == nil {
			slog.Warn("skipping malformed registry entry", "key", key)
			continue
		}
		doc.ID = id
		r.docs[id] = doc
	}
	r.nextID = r.maxID() + 1

	if n := r.failInterrupted(); n > 0 {
		slog.Warn("marked interrupted documents failed", "path", path, "documents", n)
		if err := r.persist(r.docs); err != nil {
			slog.Error("failed to save registry", "path", path, "error", err)
		}
	}

	slog.Info("registry loaded", "path", path, "documents", len(r.docs))
	return r, nil
}

// failInterrupted fails documents that were still processing when the
// snapshot was written. Nothing can resume them in a new process.
func (r *Registry) failInterrupted() int {
	n := 0
	for _, doc := range r.docs {
		if doc.Status != model.StatusProcessing {
			continue
		}
		doc.Status = model.StatusFailed
		doc.ErrorMsg = interruptedMsg
		doc.MarkdownPath = ""
		doc.ImagePaths = nil
		doc.Summary = nil
		n++
	}
	return n
}

func (r *Registry) maxID() int64 {
	var m int64
	for id := range r.docs {
		m = max(m, id)
	}
	return m
}

// ReserveID hands out the next unused document ID. The ID is never handed
// out again in this process even if no document is created with it.
func (r *Registry) ReserveID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Create registers a pending document under a reserved ID.
func (r *Registry) Create(id, userID int64, title, description, filename, sourcePath string) (*model.Document, error) {
	doc, err := model.NewDocument(id, userID, title, description, filename, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[id]; exists {
		return nil, fmt.Errorf("document %d already exists: %w", id, ErrInvalidInput)
	}
	for _, existing := range r.docs {
		if existing.FilePath == sourcePath {
			return nil, fmt.Errorf("%s: %w", sourcePath, ErrDuplicatePath)
		}
	}

	next := maps.Clone(r.docs)
	next[id] = doc
	if err := r.commit(next); err != nil {
		return nil, err
	}
	r.nextID = max(r.nextID, id+1)
	return doc.Clone(), nil
}

// Get returns a copy of the document or ErrNotFound.
func (r *Registry) Get(id int64) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return doc.Clone(), nil
}

// ListForUser returns the user's documents in insertion order.
func (r *Registry) ListForUser(userID int64) []*model.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(r.docs))
	result := make([]*model.Document, 0)
	for _, id := range ids {
		if doc := r.docs[id]; doc.UserID == userID {
			result = append(result, doc.Clone())
		}
	}
	return result
}

// Count returns the number of registered documents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// SetStatus moves the document to status. Only forward transitions are
// accepted, and completed additionally requires attached artifacts.
func (r *Registry) SetStatus(id int64, status model.Status) (*model.Document, error) {
	return r.update(id, func(doc *model.Document) error {
		if !doc.Status.CanTransition(status) {
			return fmt.Errorf("%s -> %s: %w", doc.Status, status, ErrInvalidTransition)
		}
		if status == model.StatusCompleted && (doc.MarkdownPath == "" || doc.Summary == nil) {
			return fmt.Errorf("completed without artifacts: %w", ErrInvalidTransition)
		}
		doc.Status = status
		return nil
	})
}

// AttachArtifacts records the derived artifacts of a processing document.
func (r *Registry) AttachArtifacts(id int64, a Artifacts) (*model.Document, error) {
	return r.update(id, func(doc *model.Document) error {
		if doc.Status != model.StatusProcessing {
			return fmt.Errorf("attach artifacts in %s: %w", doc.Status, ErrInvalidTransition)
		}
		doc.MarkdownPath = a.MarkdownPath
		doc.ImagePaths = slices.Clone(a.ImagePaths)
		doc.Summary = a.Summary
		doc.PageCount = a.PageCount
		return nil
	})
}

// Complete attaches artifacts and marks the document completed in one
// persisted step.
func (r *Registry) Complete(id int64, a Artifacts) (*model.Document, error) {
	return r.update(id, func(doc *model.Document) error {
		if !doc.Status.CanTransition(model.StatusCompleted) {
			return fmt.Errorf("%s -> %s: %w", doc.Status, model.StatusCompleted, ErrInvalidTransition)
		}
		if a.MarkdownPath == "" || a.Summary == nil {
			return fmt.Errorf("completed without artifacts: %w", ErrInvalidTransition)
		}
		doc.MarkdownPath = a.MarkdownPath
		doc.ImagePaths = slices.Clone(a.ImagePaths)
		doc.Summary = a.Summary
		doc.PageCount = a.PageCount
		doc.Status = model.StatusCompleted
		return nil
	})
}

// Fail marks a processing document failed and records why. Any artifact
// pointers are cleared.
func (r *Registry) Fail(id int64, errMsg string) (*model.Document, error) {
	return r.update(id, func(doc *model.Document) error {
		if !doc.Status.CanTransition(model.StatusFailed) {
			return fmt.Errorf("%s -> %s: %w", doc.Status, model.StatusFailed, ErrInvalidTransition)
		}
		doc.Status = model.StatusFailed
		doc.ErrorMsg = errMsg
		doc.MarkdownPath = ""
		doc.ImagePaths = nil
		doc.Summary = nil
		return nil
	})
}

// SetTitle replaces the document title.
func (r *Registry) SetTitle(id int64, title string) (*model.Document, error) {
	return r.update(id, func(doc *model.Document) error {
		if title == "" {
			return fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		doc.Title = title
		return nil
	})
}

// SetSourceURL records where a downloaded document came from.
func (r *Registry) SetSourceURL(id int64, url string) (*model.Document, error) {
	return r.update(id, func(doc *model.Document) error {
		doc.SourceURL = url
		return nil
	})
}

// Delete removes the document from the registry.
func (r *Registry) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	next := maps.Clone(r.docs)
	delete(next, id)
	return r.commit(next)
}

func (r *Registry) update(id int64, mutate func(*model.Document) error) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}

	doc := current.Clone()
	if err := mutate(doc); err != nil {
		return nil, err
	}
	doc.UpdatedAt = time.Now().UTC()

	next := maps.Clone(r.docs)
	next[id] = doc
	if err := r.commit(next); err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// commit writes next to disk and swaps it in. Must be called with lock held.
func (r *Registry) commit(next map[int64]*model.Document) error {
	if err := r.persist(next); err != nil {
		slog.Error("failed to save registry", "path", r.path, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	r.docs = next
	return nil
}

// persist writes the snapshot atomically: temp file, fsync, rename.
func (r *Registry) persist(docs map[int64]*model.Document) error {
	snapshot := make(map[string]*model.Document, len(docs))
	for id, doc := range docs {
		snapshot[strconv.FormatInt(id, 10)] = doc
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, r.path)
}
