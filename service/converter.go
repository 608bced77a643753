package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
	"github.com/chrischoy/MediaWhisperer/model"
	"github.com/chrischoy/MediaWhisperer/pkg/metrics"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// EngineOptions is passed through to the conversion engine.
type EngineOptions struct {
	OutputFormat string
	OutputDir    string
	UseLLM       bool
}

// EngineOutput is what an engine returns for one PDF: markdown text,
// free-form metadata and extracted images keyed by file name.
type EngineOutput struct {
	Markdown string
	Metadata map[string]any
	Images   map[string][]byte
}

// Engine turns a PDF into markdown. Implementations may fail or panic in
// any way; Converter contains both.
type Engine interface {
	Name() string
	Convert(ctx context.Context, sourcePath string, opts EngineOptions) (*EngineOutput, error)
}

// ConversionResult is the normalized output of a successful conversion.
type ConversionResult struct {
	Markdown     string
	MarkdownPath string
	ImagePaths   []string
	PageCount    *int
	Summary      model.Summary
}

// Converter wraps an Engine, writes its output into the document directory
// and turns every failure into a *ConversionError.
type Converter struct {
	engine       Engine
	outputFormat string
	useLLM       bool
}

func NewConverter(engine Engine, cfg *config.ConversionConfig) *Converter {
	return &Converter{
		engine:       engine,
		outputFormat: cfg.OutputFormat,
		useLLM:       cfg.UseLLM,
	}
}

// EngineName reports which engine backs the converter.
func (c *Converter) EngineName() string {
	return c.engine.Name()
}

// Convert runs the engine on sourcePath and stores the markdown as
// outputDir/markdownName plus every extracted image. It never panics and
// every returned error is a *ConversionError.
func (c *Converter) Convert(ctx context.Context, sourcePath, outputDir, markdownName string) (result *ConversionResult, err error) {
	start := time.Now()
	metrics.ConversionStarted()
	defer func() {
		metrics.ConversionFinished()
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.ObserveConversion(c.engine.Name(), outcome, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("conversion engine panicked",
				"engine", c.engine.Name(),
				"source", sourcePath,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result = nil
			err = &ConversionError{Source: sourcePath, Message: fmt.Sprintf("engine panic: %v", r)}
		}
	}()

	out, err := c.engine.Convert(ctx, sourcePath, EngineOptions{
		OutputFormat: c.outputFormat,
		OutputDir:    outputDir,
		UseLLM:       c.useLLM,
	})
	if err != nil {
		var convErr *ConversionError
		if errors.As(err, &convErr) {
			return nil, convErr
		}
		return nil, &ConversionError{Source: sourcePath, Message: err.Error(), Err: err}
	}
	if out == nil || strings.TrimSpace(out.Markdown) == "" {
		return nil, &ConversionError{Source: sourcePath, Message: "engine returned no text"}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, &ConversionError{Source: sourcePath, Message: "create output directory", Err: err}
	}

	markdownPath := filepath.Join(outputDir, markdownName)
	if err := os.WriteFile(markdownPath, []byte(out.Markdown), 0o644); err != nil {
		return nil, &ConversionError{Source: sourcePath, Message: "write markdown", Err: err}
	}

	imagePaths, err := writeImages(outputDir, out.Images)
	if err != nil {
		return nil, &ConversionError{Source: sourcePath, Message: "write images", Err: err}
	}

	return &ConversionResult{
		Markdown:     out.Markdown,
		MarkdownPath: markdownPath,
		ImagePaths:   imagePaths,
		PageCount:    pageCount(sourcePath, out.Metadata),
		Summary:      Summarize(out.Markdown, filepath.Base(sourcePath)),
	}, nil
}

// writeImages stores images in name order. Names are sanitized; a clash
// after sanitizing gets a numeric prefix.
func writeImages(dir string, images map[string][]byte) ([]string, error) {
	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	slices.Sort(names)

	paths := make([]string, 0, len(names))
	used := make(map[string]bool, len(names))
	for i, name := range names {
		filename := SanitizeFilename(name)
		if used[filename] {
			filename = strconv.Itoa(i) + "_" + filename
		}
		used[filename] = true

		path := filepath.Join(dir, filename)
		if err := os.WriteFile(path, images[name], 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// pageCount prefers the engine's own count and falls back to reading the
// PDF with pdfcpu. An unreadable PDF simply has no page count.
func pageCount(sourcePath string, meta map[string]any) (count *int) {
	switch v := meta["page_count"].(type) {
	case int:
		return &v
	case float64:
		n := int(v)
		return &n
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("pdfcpu panicked while counting pages", "source", sourcePath, "panic", r)
			count = nil
		}
	}()
	n, err := api.PageCountFile(sourcePath)
	if err != nil {
		slog.Debug("page count unavailable", "source", sourcePath, "error", err)
		return nil
	}
	return &n
}

var (
	titlePattern   = regexp.MustCompile(`(?m)^#[ \t]+(.+?)[ \t]*$`)
	headingPattern = regexp.MustCompile(`^#{2,3}\s+(.+?)\s*$`)
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

const (
	maxKeyPoints      = 5
	maxFallbackPoints = 3
	maxKeyPointRunes  = 160
	maxSummaryRunes   = 500
)

// ExtractTitle returns the text of the first "# " heading with inline tags
// removed, or the filename without its extension.
func ExtractTitle(markdown, filename string) string {
	if m := titlePattern.FindStringSubmatch(markdown); m != nil {
		if title := cleanInline(m[1]); title != "" {
			return title
		}
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// Summarize builds the summary record of a converted document: its title,
// up to five section headings (or leading lines when there are none) as key
// points, and the first paragraph of body text.
func Summarize(markdown, filename string) model.Summary {
	s := model.Summary{
		Title:     ExtractTitle(markdown, filename),
		KeyPoints: []string{},
	}

	var paragraphs []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = nil
		}
	}

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
			flush()
			if m := headingPattern.FindStringSubmatch(line); m != nil && len(s.KeyPoints) < maxKeyPoints {
				if point := cleanInline(m[1]); point != "" {
					s.KeyPoints = append(s.KeyPoints, point)
				}
			}
		case strings.HasPrefix(line, "!["):
			// image reference
		default:
			if text := cleanInline(line); text != "" {
				current = append(current, text)
			}
		}
	}
	flush()

	if len(s.KeyPoints) == 0 {
		for _, p := range paragraphs {
			if len(s.KeyPoints) == maxFallbackPoints {
				break
			}
			s.KeyPoints = append(s.KeyPoints, truncateRunes(p, maxKeyPointRunes))
		}
	}
	if len(paragraphs) > 0 {
		s.Summary = truncateRunes(paragraphs[0], maxSummaryRunes)
	}
	return s
}

func cleanInline(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
