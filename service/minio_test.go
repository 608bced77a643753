package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
)

func TestNewMinioStore(t *testing.T) {
	cfg := &config.MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "test",
		SecretKey: "test",
		Bucket:    "pdfs",
		UseSSL:    false,
	}

	store, err := NewMinioStore(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.bucket != "pdfs" {
		t.Errorf("Expected bucket 'pdfs', got '%s'", store.bucket)
	}

	var _ ObjectStore = store
}

func TestNewMinioStoreInvalidEndpoint(t *testing.T) {
	cfg := &config.MinioConfig{Endpoint: "http://has-a-scheme:9000"}

	if _, err := NewMinioStore(cfg); err == nil {
		t.Error("Expected error for endpoint with scheme")
	}
}

func TestMinioStoreExpiry(t *testing.T) {
	tests := []struct {
		days     int
		expected time.Duration
	}{
		{7, 7 * 24 * time.Hour},
		{0, 24 * time.Hour},
		{-3, 24 * time.Hour},
	}

	for _, tt := range tests {
		store := &MinioStore{config: &config.MinioConfig{ExpireDays: tt.days}}
		if got := store.expiry(); got != tt.expected {
			t.Errorf("ExpireDays=%d: expected %v, got %v", tt.days, tt.expected, got)
		}
	}
}

func TestUploadPDF(t *testing.T) {
	src := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeObjectStore()
	if err := uploadPDF(context.Background(), store, "pdf/doc.pdf", src); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(store.objects["pdf/doc.pdf"]) != "%PDF-1.7" {
		t.Errorf("Expected uploaded content, got %q", store.objects["pdf/doc.pdf"])
	}

	if err := uploadPDF(context.Background(), store, "x", filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("Expected error for missing file")
	}
}
