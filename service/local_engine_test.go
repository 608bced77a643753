package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dslipak/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPDF renders a one-page PDF with a single line of text and a
// correct cross-reference table.
func minimalPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestLocalEngineConvert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello_world.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF("Hello PDF"), 0o644))

	out, err := NewLocalEngine().Convert(context.Background(), path, EngineOptions{OutputFormat: "markdown"})
	require.NoError(t, err)

	assert.Contains(t, out.Markdown, "# hello_world\n")
	assert.Contains(t, out.Markdown, "## Page 1")
	assert.Contains(t, out.Markdown, "Hello PDF")
	assert.Equal(t, 1, out.Metadata["page_count"])
	assert.Empty(t, out.Images)
}

func TestLocalEngineRejectsNonPDF(t *testing.T) {
	path, _ := writeSource(t)

	_, err := NewLocalEngine().Convert(context.Background(), path, EngineOptions{})
	assert.Error(t, err)
}

func TestLocalEngineThroughConverter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello_world.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF("Layered attention results"), 0o644))

	result, err := newTestConverter(NewLocalEngine()).Convert(context.Background(), path, dir, "1.md")
	require.NoError(t, err)

	require.NotNil(t, result.PageCount)
	assert.Equal(t, 1, *result.PageCount)
	assert.Equal(t, "hello_world", result.Summary.Title)
	assert.FileExists(t, result.MarkdownPath)
}

// hangingEngine returns a local engine whose page parser blocks until
// release is closed.
func hangingEngine(release <-chan struct{}, calls *atomic.Int32) *LocalEngine {
	e := NewLocalEngine()
	e.PageTimeout = 10 * time.Millisecond
	e.extract = func(pdf.Page) (string, error) {
		calls.Add(1)
		<-release
		return "recovered text", nil
	}
	return e
}

func TestLocalEnginePageTimeoutFailsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spin.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF("never read"), 0o644))

	release := make(chan struct{})
	var calls atomic.Int32
	e := hangingEngine(release, &calls)

	_, err := e.Convert(context.Background(), path, EngineOptions{})
	assert.ErrorIs(t, err, errPageTimeout)
	assert.Equal(t, int32(1), e.stranded.Load())

	close(release)
	assert.Eventually(t, func() bool { return e.stranded.Load() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLocalEngineRefusesWorkWhileParsersAreStuck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spin.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF("never read"), 0o644))

	release := make(chan struct{})
	var calls atomic.Int32
	e := hangingEngine(release, &calls)
	e.MaxStranded = 1

	_, err := e.Convert(context.Background(), path, EngineOptions{})
	require.ErrorIs(t, err, errPageTimeout)

	_, err = e.Convert(context.Background(), path, EngineOptions{})
	assert.ErrorIs(t, err, errParserSaturated)
	assert.Equal(t, int32(1), calls.Load(), "a saturated engine must not start another parser")

	close(release)
	require.Eventually(t, func() bool { return e.stranded.Load() == 0 }, time.Second, 5*time.Millisecond)

	out, err := e.Convert(context.Background(), path, EngineOptions{})
	require.NoError(t, err)
	assert.Contains(t, out.Markdown, "recovered text")
}
