package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dslipak/pdf"
)

const (
	defaultPageTimeout = 10 * time.Second
	defaultMaxStranded = 4
)

var (
	errPageTimeout     = errors.New("page extraction timed out")
	errParserSaturated = errors.New("too many page extractions still running")
)

// LocalEngine extracts the text layer of a PDF page by page. It needs no
// external services and produces no images.
//
// The parser cannot be interrupted, so a page that times out keeps its
// goroutine until the parser returns. A timeout fails the whole document,
// and once MaxStranded such goroutines are outstanding the engine refuses
// new work until they drain.
type LocalEngine struct {
	PageTimeout time.Duration
	MaxStranded int

	extract  func(pdf.Page) (string, error)
	stranded atomic.Int32
}

func NewLocalEngine() *LocalEngine {
	return &LocalEngine{PageTimeout: defaultPageTimeout, MaxStranded: defaultMaxStranded}
}

func (e *LocalEngine) Name() string { return "local" }

func (e *LocalEngine) Convert(ctx context.Context, sourcePath string, opts EngineOptions) (*EngineOutput, error) {
	if e.saturated() {
		return nil, errParserSaturated
	}
	r, err := pdf.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	numPages := r.NumPage()
	slog.Debug("extracting pdf text", "source", sourcePath, "pages", numPages)

	var b strings.Builder
	title := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	b.WriteString("# " + title + "\n")

	extracted := 0
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := e.pageText(ctx, page)
		if errors.Is(err, errPageTimeout) {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if err != nil {
			slog.Warn("skipping unreadable page", "source", sourcePath, "page", i, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		extracted++
		if opts.OutputFormat == "markdown" || opts.OutputFormat == "" {
			b.WriteString("\n## Page " + strconv.Itoa(i) + "\n\n")
		} else {
			b.WriteString("\n")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	if extracted == 0 {
		return nil, errors.New("no extractable text in pdf")
	}

	return &EngineOutput{
		Markdown: b.String(),
		Metadata: map[string]any{"page_count": numPages},
	}, nil
}

func (e *LocalEngine) saturated() bool {
	limit := e.MaxStranded
	if limit <= 0 {
		limit = defaultMaxStranded
	}
	return int(e.stranded.Load()) >= limit
}

// pageText bounds a single page extraction; malformed content streams can
// make the parser spin.
func (e *LocalEngine) pageText(ctx context.Context, page pdf.Page) (string, error) {
	type result struct {
		text string
		err  error
	}
	extract := e.extract
	if extract == nil {
		extract = func(p pdf.Page) (string, error) { return p.GetPlainText(nil) }
	}

	// abandoned is set by whichever side gives up first; the goroutine
	// releases its stranded slot only if the caller stopped waiting.
	var abandoned atomic.Bool
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("page parser panic: %v", r)}
			}
			if !abandoned.CompareAndSwap(false, true) {
				e.stranded.Add(-1)
			}
		}()
		text, err := extract(page)
		ch <- result{text, err}
	}()

	timeout := e.PageTimeout
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var giveUp error
	select {
	case r := <-ch:
		return r.text, r.err
	case <-timer.C:
		giveUp = errPageTimeout
	case <-ctx.Done():
		giveUp = ctx.Err()
	}
	if abandoned.CompareAndSwap(false, true) {
		n := e.stranded.Add(1)
		slog.Warn("page parser abandoned", "error", giveUp, "stranded", n)
		return "", giveUp
	}
	// The parser finished while we were giving up.
	r := <-ch
	return r.text, r.err
}
