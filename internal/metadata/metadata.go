// Package metadata stamps converted screenshots with EXIF tags through an
// external exiftool process. Conversion first copies every tag from the
// source file, then applies the fixed override set, so source metadata
// survives except where the screenshot identity must win.
package metadata

import (
	"context"
	"errors"
)

var ErrMetadataWrite = errors.New("write metadata")

// Tag is a single tag assignment, expressed with exiftool's tag names and
// numeric values (Orientation=1, ResolutionUnit=2).
type Tag struct {
	Name  string
	Value string
}

// Tagger mutates tags on a finished file in place.
type Tagger interface {
	// CopyAllTags transfers every readable tag from src onto dst.
	CopyAllTags(ctx context.Context, src, dst string) error
	// SetTags applies the given assignments to path, after any copy.
	SetTags(ctx context.Context, path string, tags []Tag) error
}
