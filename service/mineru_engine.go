package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
)

// MineruEngine converts PDFs with the hosted MinerU service. The source is
// staged in object storage, MinerU fetches it through a presigned URL, and
// the result archive is unpacked into markdown plus images.
type MineruEngine struct {
	client *MineruClient
	store  ObjectStore
}

func NewMineruEngine(client *MineruClient, store ObjectStore) *MineruEngine {
	return &MineruEngine{client: client, store: store}
}

func (e *MineruEngine) Name() string { return "mineru" }

func (e *MineruEngine) Convert(ctx context.Context, sourcePath string, opts EngineOptions) (*EngineOutput, error) {
	if e.client.config.APIToken == "" {
		return nil, errors.New("MinerU API token is not configured")
	}

	objectName := "pdf/" + uuid.NewString() + filepath.Ext(sourcePath)
	if err := uploadPDF(ctx, e.store, objectName, sourcePath); err != nil {
		return nil, err
	}
	defer func() {
		// the staged object is only needed while MinerU downloads it
		if err := e.store.DeleteFile(context.WithoutCancel(ctx), objectName); err != nil {
			slog.Warn("failed to delete staged pdf", "object", objectName, "error", err)
		}
	}()

	url, err := e.store.GetPresignedURL(ctx, objectName)
	if err != nil {
		return nil, err
	}

	task, err := e.client.CreateTask(ctx, url, filepath.Base(sourcePath))
	if err != nil {
		return nil, err
	}
	slog.Info("mineru task created", "task_id", task.Data.TaskID, "source", sourcePath)

	status, err := e.client.WaitForResult(ctx, task.Data.TaskID)
	if err != nil {
		return nil, err
	}
	if status.Data.FullZipURL == "" {
		return nil, fmt.Errorf("MinerU task %s finished without a result", task.Data.TaskID)
	}

	result, err := e.client.FetchResult(ctx, status.Data.FullZipURL)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"mineru_task_id": task.Data.TaskID}
	if total := status.Data.ExtractProgress.TotalPages; total > 0 {
		meta["page_count"] = total
	}
	return &EngineOutput{
		Markdown: result.Markdown,
		Metadata: meta,
		Images:   result.Images,
	}, nil
}
