package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/chrischoy/MediaWhisperer/model"
	"github.com/chrischoy/MediaWhisperer/pkg/logger"
	"github.com/chrischoy/MediaWhisperer/pkg/metrics"
	"github.com/panjf2000/ants/v2"
)

// UploadRequest is a PDF submitted as a file.
type UploadRequest struct {
	UserID      int64
	Filename    string
	Title       string
	Description string
	Body        io.Reader
}

// URLRequest is a PDF submitted by reference.
type URLRequest struct {
	UserID      int64
	URL         string
	Title       string
	Description string
}

// Content is the converted text of a document and the names of its images.
type Content struct {
	Markdown string   `json:"markdown"`
	Images   []string `json:"images"`
}

// Pipeline moves a document from submission through conversion. Placement,
// registry updates and conversion happen on the calling goroutine's behalf;
// the conversion itself runs on a bounded worker pool and the caller waits
// for it.
type Pipeline struct {
	registry  *Registry
	store     *ArtifactStore
	converter *Converter
	fetcher   *Fetcher
	pool      *ants.Pool
	logger    *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline) error

// WithWorkers sets how many conversions may run at once.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

func NewPipeline(registry *Registry, store *ArtifactStore, converter *Converter, fetcher *Fetcher, opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		registry:  registry,
		store:     store,
		converter: converter,
		fetcher:   fetcher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	if p.pool == nil {
		if err := WithWorkers(max(runtime.NumCPU()/2, 1))(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Release stops the worker pool.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// IngestUpload stores an uploaded PDF and converts it. A conversion failure
// is not an error: the returned document is marked failed instead.
func (p *Pipeline) IngestUpload(ctx context.Context, req UploadRequest) (*model.Document, error) {
	if !strings.HasSuffix(strings.ToLower(req.Filename), ".pdf") {
		return nil, fmt.Errorf("%w: file must be a PDF", ErrInvalidInput)
	}

	id := p.registry.ReserveID()
	filename, path, err := p.store.PlaceSourceFile(req.Body, req.UserID, id, req.Filename)
	if err != nil {
		p.discard(req.UserID, id)
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	title := req.Title
	if title == "" {
		title = titleFromUpload(req.Filename, id)
	}

	doc, err := p.registry.Create(id, req.UserID, title, req.Description, filename, path)
	if err != nil {
		p.discard(req.UserID, id)
		return nil, err
	}
	p.log(ctx).Info("pdf uploaded", "pdf_id", id, "filename", filename)

	return p.process(ctx, doc, "upload", false)
}

// IngestURL downloads a PDF and then follows the upload flow. Download
// failures are returned before any document exists.
func (p *Pipeline) IngestURL(ctx context.Context, req URLRequest) (*model.Document, error) {
	fetched, err := p.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		metrics.ObserveIngest("url", "rejected")
		return nil, err
	}
	defer fetched.Cleanup()

	id := p.registry.ReserveID()
	preferred := fetched.Filename
	if preferred == "" {
		preferred = "url_pdf_" + strconv.FormatInt(id, 10) + ".pdf"
	}
	filename, path, err := p.store.PlaceSourcePath(fetched.TempPath, req.UserID, id, preferred)
	if err != nil {
		p.discard(req.UserID, id)
		return nil, fmt.Errorf("failed to store downloaded file: %w", err)
	}

	title := req.Title
	if title == "" {
		title = titleFromURL(fetched.URL, filename, id)
	}

	doc, err := p.registry.Create(id, req.UserID, title, req.Description, filename, path)
	if err != nil {
		p.discard(req.UserID, id)
		return nil, err
	}
	if withURL, err := p.registry.SetSourceURL(id, fetched.URL); err != nil {
		p.log(ctx).Warn("failed to record source url", "pdf_id", id, "error", err)
	} else {
		doc = withURL
	}
	p.log(ctx).Info("pdf downloaded", "pdf_id", id, "url", fetched.URL)

	return p.process(ctx, doc, "url", IsArxivURL(fetched.URL))
}

// process runs conversion for a pending document and records the outcome.
func (p *Pipeline) process(ctx context.Context, doc *model.Document, source string, useExtractedTitle bool) (*model.Document, error) {
	doc, err := p.registry.SetStatus(doc.ID, model.StatusProcessing)
	if err != nil {
		return nil, err
	}

	// Conversion runs to completion even if the caller goes away.
	result, convErr := p.convert(context.WithoutCancel(ctx), doc)
	if convErr != nil {
		p.log(ctx).Error("pdf conversion failed", "pdf_id", doc.ID, "error", convErr)
		metrics.ObserveIngest(source, string(model.StatusFailed))
		return p.registry.Fail(doc.ID, convErr.Error())
	}

	summary := result.Summary
	completed, err := p.registry.Complete(doc.ID, Artifacts{
		MarkdownPath: result.MarkdownPath,
		ImagePaths:   result.ImagePaths,
		Summary:      &summary,
		PageCount:    result.PageCount,
	})
	if err != nil {
		p.log(ctx).Error("failed to record conversion result", "pdf_id", doc.ID, "error", err)
		metrics.ObserveIngest(source, string(model.StatusFailed))
		if _, failErr := p.registry.Fail(doc.ID, "failed to save conversion result: "+err.Error()); failErr != nil {
			p.log(ctx).Error("document left in processing", "pdf_id", doc.ID, "error", failErr)
		}
		return nil, err
	}
	doc = completed
	metrics.ObserveIngest(source, string(model.StatusCompleted))

	if useExtractedTitle && summary.Title != "" && summary.Title != doc.Title {
		if titled, err := p.registry.SetTitle(doc.ID, summary.Title); err != nil {
			p.log(ctx).Warn("failed to update title", "pdf_id", doc.ID, "error", err)
		} else {
			doc = titled
		}
	}

	p.log(ctx).Info("pdf processed", "pdf_id", doc.ID, "images", len(doc.ImagePaths))
	return doc, nil
}

// convert runs the converter on the worker pool and waits for it.
func (p *Pipeline) convert(ctx context.Context, doc *model.Document) (*ConversionResult, error) {
	dir, err := p.store.DirectoryFor(doc.UserID, doc.ID)
	if err != nil {
		return nil, &ConversionError{Source: doc.FilePath, Message: err.Error(), Err: err}
	}

	var (
		result  *ConversionResult
		convErr error
	)
	done := make(chan struct{})
	task := func() {
		defer close(done)
		result, convErr = p.converter.Convert(ctx, doc.FilePath, dir, strconv.FormatInt(doc.ID, 10)+".md")
	}
	if err := p.pool.Submit(task); err != nil {
		return nil, &ConversionError{Source: doc.FilePath, Message: "conversion pool unavailable", Err: err}
	}
	<-done
	return result, convErr
}

// discard removes whatever was placed for a document that never made it
// into the registry.
func (p *Pipeline) discard(userID, id int64) {
	if err := p.store.RemoveDocumentDirectory(userID, id); err != nil {
		p.logger.Warn("failed to clean up document directory", "pdf_id", id, "error", err)
	}
}

// Get returns the document if userID owns it.
func (p *Pipeline) Get(userID, id int64) (*model.Document, error) {
	doc, err := p.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if !doc.OwnedBy(userID) {
		return nil, fmt.Errorf("document %d: %w", id, ErrForbidden)
	}
	return doc, nil
}

// List returns the user's documents in upload order.
func (p *Pipeline) List(userID int64) []*model.Document {
	return p.registry.ListForUser(userID)
}

// Status returns the processing state of a document.
func (p *Pipeline) Status(userID, id int64) (model.Status, error) {
	doc, err := p.Get(userID, id)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

// Content returns the markdown of a completed document.
func (p *Pipeline) Content(userID, id int64) (*Content, error) {
	doc, err := p.completed(userID, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(doc.MarkdownPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("markdown for document %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read markdown: %w", err)
	}

	images := make([]string, 0, len(doc.ImagePaths))
	for _, path := range doc.ImagePaths {
		images = append(images, filepath.Base(path))
	}
	return &Content{Markdown: string(data), Images: images}, nil
}

// Summary returns the summary of a completed document.
func (p *Pipeline) Summary(userID, id int64) (*model.Summary, error) {
	doc, err := p.completed(userID, id)
	if err != nil {
		return nil, err
	}
	return doc.Summary, nil
}

// Image resolves an extracted image of a document the user owns.
func (p *Pipeline) Image(userID, id int64, filename string) (string, error) {
	doc, err := p.Get(userID, id)
	if err != nil {
		return "", err
	}
	return p.store.ImagePath(doc.UserID, doc.ID, filename)
}

// Delete removes a document's registry entry and then its files. Files
// that cannot be removed are logged and left behind; the document is gone
// either way.
func (p *Pipeline) Delete(ctx context.Context, userID, id int64) error {
	doc, err := p.Get(userID, id)
	if err != nil {
		return err
	}
	if err := p.registry.Delete(doc.ID); err != nil {
		return err
	}
	if err := p.store.RemoveDocumentDirectory(doc.UserID, doc.ID); err != nil {
		p.log(ctx).Warn("orphaned document files", "pdf_id", id, "dir", p.store.documentDir(doc.UserID, doc.ID), "error", err)
	}
	p.log(ctx).Info("pdf deleted", "pdf_id", id)
	return nil
}

// Markdown returns the converted text of a completed document, or an
// empty string when the document has none yet.
func (p *Pipeline) Markdown(userID, id int64) (string, error) {
	content, err := p.Content(userID, id)
	if errors.Is(err, ErrNotReady) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return content.Markdown, nil
}

func (p *Pipeline) completed(userID, id int64) (*model.Document, error) {
	doc, err := p.Get(userID, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.StatusCompleted {
		return nil, fmt.Errorf("document %d is %s: %w", id, doc.Status, ErrNotReady)
	}
	return doc, nil
}

func (p *Pipeline) log(ctx context.Context) *slog.Logger {
	return logger.From(ctx, p.logger)
}

// titleFromUpload derives a title from the uploaded filename, falling back
// to a numbered default for names that make poor titles.
func titleFromUpload(filename string, id int64) string {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if len(stem) < 3 || strings.HasPrefix(stem, "file") || isDigits(stem) {
		return "PDF Document " + strconv.FormatInt(id, 10)
	}
	return stem
}
