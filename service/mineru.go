package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
)

const maxResultZipSize = 512 << 20

// MineruClient talks to the MinerU extraction API.
type MineruClient struct {
	config     *config.MineruConfig
	httpClient *http.Client
}

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	DataID       string `json:"data_id,omitempty"`
}

// MineruTaskResponse represents the response from task creation
type MineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// MineruTaskStatusResponse represents the task status query response
type MineruTaskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	TraceID string `json:"trace_id"`
	Data    struct {
		TaskID          string `json:"task_id"`
		DataID          string `json:"data_id"`
		State           string `json:"state"` // pending, running, done, failed, converting
		FullZipURL      string `json:"full_zip_url,omitempty"`
		ErrorMsg        string `json:"err_msg,omitempty"`
		ExtractProgress struct {
			ExtractedPages int `json:"extracted_pages"`
			TotalPages     int `json:"total_pages"`
		} `json:"extract_progress,omitempty"`
	} `json:"data"`
}

// MineruResult is the content of a finished task's result archive.
type MineruResult struct {
	Markdown string
	Images   map[string][]byte
}

func NewMineruClient(cfg *config.MineruConfig) *MineruClient {
	return &MineruClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// CreateTask creates a new extraction task
func (c *MineruClient) CreateTask(ctx context.Context, pdfURL, dataID string) (*MineruTaskResponse, error) {
	reqBody := MineruTaskRequest{
		URL:          pdfURL,
		ModelVersion: c.config.ModelVersion,
		DataID:       dataID,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+"/extract/task", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result MineruTaskResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

// GetTaskStatus queries the status of a task
func (c *MineruClient) GetTaskStatus(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", c.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result MineruTaskStatusResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}

	slog.Debug("mineru task status",
		"task_id", taskID,
		"state", result.Data.State,
		"extracted_pages", result.Data.ExtractProgress.ExtractedPages,
		"total_pages", result.Data.ExtractProgress.TotalPages,
	)
	return &result, nil
}

// WaitForResult polls the task until it is done or failed, or until the
// configured number of polls is used up.
func (c *MineruClient) WaitForResult(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.config.MaxPolls; attempt++ {
		status, err := c.GetTaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch status.Data.State {
		case "done":
			return status, nil
		case "failed":
			return nil, fmt.Errorf("MinerU task %s failed: %s", taskID, status.Data.ErrorMsg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, fmt.Errorf("MinerU task %s did not finish after %d polls", taskID, c.config.MaxPolls)
}

var imageLinkPattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// FetchResult downloads the result ZIP and extracts the markdown document
// and its images. Image links in the markdown are rewritten to the bare
// file names the images are stored under.
func (c *MineruClient) FetchResult(ctx context.Context, zipURL string) (*MineruResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download ZIP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download ZIP: status %d", resp.StatusCode)
	}

	zipData, err := io.ReadAll(io.LimitReader(resp.Body, maxResultZipSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read ZIP: %w", err)
	}
	slog.Debug("mineru result downloaded", "bytes", len(zipData))

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP: %w", err)
	}

	result := &MineruResult{Images: make(map[string][]byte)}
	var fallback string
	for _, file := range zipReader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		name := file.Name
		switch {
		case path.Base(name) == "full.md":
			content, err := readZipFile(file)
			if err != nil {
				return nil, err
			}
			result.Markdown = string(content)
		case strings.HasSuffix(name, ".md") && fallback == "":
			content, err := readZipFile(file)
			if err != nil {
				return nil, err
			}
			fallback = string(content)
		case isImageName(name):
			content, err := readZipFile(file)
			if err != nil {
				return nil, err
			}
			result.Images[path.Base(name)] = content
		}
	}

	if result.Markdown == "" {
		result.Markdown = fallback
	}
	if result.Markdown == "" {
		return nil, fmt.Errorf("no markdown file found in ZIP")
	}

	result.Markdown = imageLinkPattern.ReplaceAllStringFunc(result.Markdown, func(link string) string {
		m := imageLinkPattern.FindStringSubmatch(link)
		return "![" + m[1] + "](" + SanitizeFilename(path.Base(m[2])) + ")"
	})
	return result, nil
}

func (c *MineruClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	return nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isImageName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}
