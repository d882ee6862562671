package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rawer886/fake-ios-screenshot/internal/domain"
	"github.com/rawer886/fake-ios-screenshot/internal/storage"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// ObjectStoreFetcher downloads the source object and stages a copy in the
// scratch directory so the metadata merge can read tags from a real file.
type ObjectStoreFetcher struct {
	Storage    *storage.Client
	ScratchDir string
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) (Source, error) {
	if f.Storage == nil {
		return Source{}, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	data, err := f.Storage.ReadObject(ctx, req.ObjectKey)
	if err != nil {
		return Source{}, err
	}
	modTime, err := f.Storage.ObjectModTime(ctx, req.ObjectKey)
	if err != nil {
		return Source{}, err
	}

	dir := scratchJobDir(f.ScratchDir, req.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Source{}, fmt.Errorf("create scratch dir: %w", err)
	}
	localPath := filepath.Join(dir, "source"+strings.ToLower(path.Ext(req.ObjectKey)))
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return Source{}, fmt.Errorf("stage source object: %w", err)
	}

	return Source{Data: data, LocalPath: localPath, ModTime: modTime}, nil
}

// ObjectStoreEmitter stages the converted PNG in the scratch directory and
// uploads it once the metadata merge and timestamp restore are done. The
// upload records the source modification time as object user metadata,
// since object stores have no filesystem mtime to restore.
type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
	ScratchDir   string
}

func (e ObjectStoreEmitter) Stage(_ context.Context, req Request, data []byte) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}

	dir := scratchJobDir(e.ScratchDir, req.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	stagedPath := filepath.Join(dir, "converted.png")
	if err := os.WriteFile(stagedPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write staged output: %w", err)
	}
	return stagedPath, nil
}

func (e ObjectStoreEmitter) Finalize(ctx context.Context, req Request, stagedPath string, modTime time.Time) (string, error) {
	data, err := os.ReadFile(stagedPath)
	if err != nil {
		return "", fmt.Errorf("read staged output: %w", err)
	}

	objectKey := strings.TrimSpace(req.OutputKey)
	if objectKey == "" {
		objectKey = path.Join(
			defaultOutputPrefix(e.OutputPrefix),
			sanitizePathToken(req.JobID),
			OutputFileName(req.ObjectKey),
		)
	}

	meta := map[string]string{storage.MetaSourceMTime: modTime.UTC().Format(time.RFC3339)}
	if err := e.Storage.WriteObject(ctx, objectKey, data, "image/png", meta); err != nil {
		return "", err
	}

	_ = os.RemoveAll(scratchJobDir(e.ScratchDir, req.JobID))

	return objectKey, nil
}

func scratchJobDir(scratchDir, jobID string) string {
	if strings.TrimSpace(scratchDir) == "" {
		scratchDir = filepath.Join(os.TempDir(), "screenshot-convert")
	}
	return filepath.Join(scratchDir, sanitizePathToken(jobID))
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
