package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
)

func buildResultZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func testMineruConfig(url string) *config.MineruConfig {
	return &config.MineruConfig{
		APIURL:       url,
		APIToken:     "test-token",
		ModelVersion: "vlm",
		PollInterval: time.Millisecond,
		MaxPolls:     5,
	}
}

func TestMineruClientCreateTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/extract/task" {
			t.Errorf("Expected /extract/task, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("Expected Authorization header")
		}

		var reqBody MineruTaskRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody.ModelVersion != "vlm" {
			t.Errorf("Expected model version 'vlm', got '%s'", reqBody.ModelVersion)
		}

		response := MineruTaskResponse{Code: 0, Message: "success"}
		response.Data.TaskID = "task-123"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	resp, err := client.CreateTask(context.Background(), "http://example.com/test.pdf", "data-123")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Data.TaskID != "task-123" {
		t.Errorf("Expected task ID 'task-123', got '%s'", resp.Data.TaskID)
	}
}

func TestMineruClientCreateTaskError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MineruTaskResponse{Code: 1, Message: "API error"})
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	if _, err := client.CreateTask(context.Background(), "http://example.com/test.pdf", "data-123"); err == nil {
		t.Error("Expected error for API error response")
	}
}

func TestMineruClientInvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	if _, err := client.CreateTask(context.Background(), "http://example.com/test.pdf", "d"); err == nil {
		t.Error("Expected error for invalid JSON response")
	}
	if _, err := client.GetTaskStatus(context.Background(), "task-123"); err == nil {
		t.Error("Expected error for invalid JSON response")
	}
}

func TestMineruClientNetworkError(t *testing.T) {
	client := NewMineruClient(testMineruConfig("http://invalid-host-that-does-not-exist:9999"))

	if _, err := client.CreateTask(context.Background(), "http://example.com/test.pdf", "d"); err == nil {
		t.Error("Expected error for network failure")
	}
	if _, err := client.GetTaskStatus(context.Background(), "task-123"); err == nil {
		t.Error("Expected error for network failure")
	}
}

func TestMineruClientWaitForResult(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract/task/task-123" {
			t.Errorf("Expected /extract/task/task-123, got %s", r.URL.Path)
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()

		response := MineruTaskStatusResponse{Code: 0}
		response.Data.TaskID = "task-123"
		response.Data.State = "running"
		if n >= 3 {
			response.Data.State = "done"
			response.Data.FullZipURL = "http://example.com/result.zip"
		}
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	status, err := client.WaitForResult(context.Background(), "task-123")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status.Data.FullZipURL != "http://example.com/result.zip" {
		t.Errorf("Expected zip URL, got '%s'", status.Data.FullZipURL)
	}
	if polls != 3 {
		t.Errorf("Expected 3 polls, got %d", polls)
	}
}

func TestMineruClientWaitForResultFailedTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := MineruTaskStatusResponse{Code: 0}
		response.Data.State = "failed"
		response.Data.ErrorMsg = "unsupported file"
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	_, err := client.WaitForResult(context.Background(), "task-123")
	if err == nil || !strings.Contains(err.Error(), "unsupported file") {
		t.Errorf("Expected task failure error, got %v", err)
	}
}

func TestMineruClientWaitForResultGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := MineruTaskStatusResponse{Code: 0}
		response.Data.State = "pending"
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	if _, err := client.WaitForResult(context.Background(), "task-123"); err == nil {
		t.Error("Expected error after max polls")
	}
}

func TestMineruClientFetchResult(t *testing.T) {
	archive := buildResultZip(t, map[string]string{
		"abc/full.md":             "# Title\n\n![](images/fig 1.jpg)\n\ntext",
		"abc/images/fig 1.jpg":    "jpeg-bytes",
		"abc/content_list.json":   "[]",
		"abc/layout/model.pdf.md": "# ignored",
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	result, err := client.FetchResult(context.Background(), server.URL+"/result.zip")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !strings.HasPrefix(result.Markdown, "# Title") {
		t.Errorf("Expected full.md content, got %q", result.Markdown)
	}
	if !strings.Contains(result.Markdown, "![](fig_1.jpg)") {
		t.Errorf("Expected rewritten image link, got %q", result.Markdown)
	}
	if string(result.Images["fig 1.jpg"]) != "jpeg-bytes" {
		t.Errorf("Expected image bytes, got %v", result.Images)
	}
	if len(result.Images) != 1 {
		t.Errorf("Expected 1 image, got %d", len(result.Images))
	}
}

func TestMineruClientFetchResultInvalidZip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a zip file"))
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	if _, err := client.FetchResult(context.Background(), server.URL); err == nil {
		t.Error("Expected error for invalid ZIP")
	}
}

func TestMineruClientFetchResultWithoutMarkdown(t *testing.T) {
	archive := buildResultZip(t, map[string]string{"abc/content_list.json": "[]"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	client := NewMineruClient(testMineruConfig(server.URL))
	if _, err := client.FetchResult(context.Background(), server.URL); err == nil {
		t.Error("Expected error for archive without markdown")
	}
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = data
	return nil
}

func (s *fakeObjectStore) GetPresignedURL(_ context.Context, objectName string) (string, error) {
	return "http://objects.test/" + objectName, nil
}

func (s *fakeObjectStore) DeleteFile(_ context.Context, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectName)
	s.deleted = append(s.deleted, objectName)
	return nil
}
