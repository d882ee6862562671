package metadata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ExifTool shells out to the exiftool binary for every operation. It keeps
// no state beyond the resolved binary path and is safe for concurrent use.
type ExifTool struct {
	path string
}

// NewExifTool resolves the exiftool binary. An empty path means "exiftool"
// on PATH.
func NewExifTool(path string) (*ExifTool, error) {
	if strings.TrimSpace(path) == "" {
		path = "exiftool"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: exiftool binary not found: %v", ErrMetadataWrite, err)
	}
	return &ExifTool{path: resolved}, nil
}

func (t *ExifTool) CopyAllTags(ctx context.Context, src, dst string) error {
	return t.run(ctx, "-overwrite_original", "-tagsFromFile", src, "-all:all", "-unsafe", dst)
}

func (t *ExifTool) SetTags(ctx context.Context, path string, tags []Tag) error {
	args := make([]string, 0, len(tags)+3)
	args = append(args, "-overwrite_original", "-n")
	for _, tag := range tags {
		args = append(args, fmt.Sprintf("-%s=%s", tag.Name, tag.Value))
	}
	args = append(args, path)
	return t.run(ctx, args...)
}

func (t *ExifTool) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.path, args...)

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("%w: exiftool %s: %s", ErrMetadataWrite, args[0], detail)
	}
	return nil
}
