// Package attachments implements the File Attachment Cache (C7): it keeps a
// local on-disk copy of every file referenced by a task's messages and hands
// back a signed URL a model provider can embed directly (§4.7).
package attachments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ErrUnknownFile is what a StorageCollaborator is expected to report (via
// errors.Is) for a fileId it doesn't recognize; Cache treats it as "skip
// silently" per §4.7 rather than failing the whole cache pass.
var ErrUnknownFile = errors.New("attachments: unknown file id")

// DefaultSignedURLExpiry is how long a cached attachment's signed URL is
// valid for once minted.
const DefaultSignedURLExpiry = 15 * time.Minute

// Cache is the File Attachment Cache (§4.7). It downloads each
// file_attachment block's file once per process lifetime (keyed by fileID,
// not by message) and re-signs the URL on every call, since signed URLs
// expire but the underlying download doesn't need to be repeated.
type Cache struct {
	dir          string
	storage      agent.StorageCollaborator
	signedExpiry time.Duration
}

// NewCache builds a Cache rooted at dir, which is created if missing.
func NewCache(dir string, storage agent.StorageCollaborator) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: create cache dir: %w", err)
	}
	return &Cache{dir: dir, storage: storage, signedExpiry: DefaultSignedURLExpiry}, nil
}

// localPath returns where fileID is (or would be) cached on disk.
func (c *Cache) localPath(fileID string) string {
	return filepath.Join(c.dir, fileID)
}

// CacheMessageAttachments implements the §4.7 contract: for every
// file_attachment block across every message, download the file if it isn't
// already on disk, then mint a signed URL. A fileId the storage
// collaborator doesn't recognize is skipped silently rather than failing
// the whole call.
func (c *Cache) CacheMessageAttachments(ctx context.Context, messages []models.Message) (map[string]agent.CachedAttachment, error) {
	result := make(map[string]agent.CachedAttachment)

	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type != models.ContentFileAttachment {
				continue
			}
			if _, done := result[block.FileID]; done {
				continue
			}

			cached, err := c.cacheOne(ctx, block.FileID)
			if errors.Is(err, ErrUnknownFile) {
				continue
			}
			if err != nil {
				return nil, err
			}
			result[block.FileID] = cached
		}
	}

	return result, nil
}

func (c *Cache) cacheOne(ctx context.Context, fileID string) (agent.CachedAttachment, error) {
	if _, err := c.storage.GetFileMetadata(ctx, fileID); err != nil {
		return agent.CachedAttachment{}, fmt.Errorf("%w: %s: %v", ErrUnknownFile, fileID, err)
	}

	local := c.localPath(fileID)
	if _, err := os.Stat(local); errors.Is(err, os.ErrNotExist) {
		if err := c.storage.DownloadFile(ctx, fileID, local); err != nil {
			return agent.CachedAttachment{}, fmt.Errorf("attachments: download %s: %w", fileID, err)
		}
	} else if err != nil {
		return agent.CachedAttachment{}, fmt.Errorf("attachments: stat %s: %w", fileID, err)
	}

	signedURL, err := c.storage.GetSignedURL(ctx, fileID, c.signedExpiry)
	if err != nil {
		return agent.CachedAttachment{}, fmt.Errorf("attachments: sign %s: %w", fileID, err)
	}

	return agent.CachedAttachment{LocalPath: local, SignedURL: signedURL}, nil
}

var _ agent.AttachmentCacher = (*Cache)(nil)
