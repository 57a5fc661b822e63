package attachments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

type fakeStorage struct {
	known       map[string]string // fileID -> content
	downloads   int
	signCalls   int
	failMissing bool
}

func (f *fakeStorage) GetFileMetadata(ctx context.Context, fileID string) (agent.FileMetadata, error) {
	if _, ok := f.known[fileID]; !ok {
		return agent.FileMetadata{}, errors.New("not found")
	}
	return agent.FileMetadata{FileID: fileID}, nil
}

func (f *fakeStorage) DownloadFile(ctx context.Context, fileID, localPath string) error {
	f.downloads++
	return os.WriteFile(localPath, []byte(f.known[fileID]), 0o644)
}

func (f *fakeStorage) GetSignedURL(ctx context.Context, fileID string, expiry time.Duration) (string, error) {
	f.signCalls++
	return "https://example.com/" + fileID, nil
}

func TestCacheMessageAttachmentsDownloadsOnce(t *testing.T) {
	dir := t.TempDir()
	storage := &fakeStorage{known: map[string]string{"f1": "content"}}
	cache, err := NewCache(dir, storage)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	msgs := []models.Message{
		models.NewUserMessage(models.TextBlock("hi"), models.FileAttachmentBlock("f1", "text/plain")),
		models.NewAssistantMessage(models.FileAttachmentBlock("f1", "text/plain")),
	}

	result, err := cache.CacheMessageAttachments(context.Background(), msgs)
	if err != nil {
		t.Fatalf("CacheMessageAttachments: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("len(result) = %d, want 1", len(result))
	}
	entry, ok := result["f1"]
	if !ok {
		t.Fatal("expected f1 in result")
	}
	if entry.SignedURL == "" || entry.LocalPath != filepath.Join(dir, "f1") {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if storage.downloads != 1 {
		t.Fatalf("downloads = %d, want 1 (cached across duplicate references)", storage.downloads)
	}

	// Re-running against an already-cached file must not re-download.
	if _, err := cache.CacheMessageAttachments(context.Background(), msgs); err != nil {
		t.Fatalf("second CacheMessageAttachments: %v", err)
	}
	if storage.downloads != 1 {
		t.Fatalf("downloads after second call = %d, want still 1", storage.downloads)
	}
}

func TestCacheMessageAttachmentsSkipsUnknownFile(t *testing.T) {
	dir := t.TempDir()
	storage := &fakeStorage{known: map[string]string{}}
	cache, err := NewCache(dir, storage)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	msgs := []models.Message{
		models.NewUserMessage(models.FileAttachmentBlock("missing", "text/plain")),
	}
	result, err := cache.CacheMessageAttachments(context.Background(), msgs)
	if err != nil {
		t.Fatalf("CacheMessageAttachments: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("len(result) = %d, want 0 for an unknown file id", len(result))
	}
}
