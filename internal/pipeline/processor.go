package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rawer886/fake-ios-screenshot/internal/metadata"
	"github.com/rawer886/fake-ios-screenshot/internal/screenshot"
)

const SourceTypeLocalFile = "local_file"

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrTimestamp             = errors.New("preserve timestamp")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	OutputKey  string
}

// Source is what the fetch stage hands to the rest of the pipeline. The
// modification time is captured before any processing so the timestamp
// restore cannot observe a mutated value.
type Source struct {
	Data      []byte
	LocalPath string
	ModTime   time.Time
}

type Output struct {
	Path          string
	Format        string
	Bytes         int
	Width         int
	Height        int
	CarriedChunks int
	ReusedChunks  int
}

type Result struct {
	Output      Output
	SourceBytes int
	Warnings    []string
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Source, error)
}

// Emitter places the converted screenshot. Stage must put the assembled
// bytes at a local path the metadata merge can rewrite in place; Finalize
// runs after the merge and timestamp restore and returns the destination
// path or object key.
type Emitter interface {
	Stage(ctx context.Context, req Request, data []byte) (string, error)
	Finalize(ctx context.Context, req Request, stagedPath string, modTime time.Time) (string, error)
}

type Processor struct {
	fetcher Fetcher
	emitter Emitter
	tagger  metadata.Tagger
}

func NewLocalProcessor(outputDir string, tagger metadata.Tagger) (*Processor, error) {
	if tagger == nil {
		return nil, errors.New("tagger is required")
	}
	return &Processor{
		fetcher: LocalFileFetcher{},
		emitter: LocalFileEmitter{OutputDir: outputDir},
		tagger:  tagger,
	}, nil
}

func NewObjectStoreProcessor(fetcher Fetcher, emitter Emitter, tagger metadata.Tagger) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	if tagger == nil {
		return nil, errors.New("tagger is required")
	}
	return &Processor{fetcher: fetcher, emitter: emitter, tagger: tagger}, nil
}

// Process runs one conversion end to end: fetch, normalize, assemble, emit,
// metadata merge, timestamp restore. The merge mutates the emitted file in
// place, so a metadata failure leaves a file with correct pixels and
// incomplete tags; the returned error names that path. A timestamp restore
// failure is a warning on the result, not a failure.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if strings.TrimSpace(req.ObjectKey) == "" {
		return Result{}, errors.New("object_key is required")
	}

	src, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	n, err := screenshot.Normalize(src.Data)
	if err != nil {
		return Result{}, fmt.Errorf("normalize stage: %w", err)
	}
	assembled, err := screenshot.Assemble(n)
	if err != nil {
		return Result{}, fmt.Errorf("assemble stage: %w", err)
	}

	staged, err := p.emitter.Stage(ctx, req, assembled)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	if err := p.tagger.CopyAllTags(ctx, src.LocalPath, staged); err != nil {
		return Result{}, fmt.Errorf("metadata stage (converted pixels already at %s): %w", staged, err)
	}
	if err := p.tagger.SetTags(ctx, staged, metadata.OverrideTags(src.LocalPath, src.ModTime)); err != nil {
		return Result{}, fmt.Errorf("metadata stage (converted pixels already at %s): %w", staged, err)
	}

	var warnings []string
	if err := os.Chtimes(staged, src.ModTime, src.ModTime); err != nil {
		warnings = append(warnings, fmt.Sprintf("%s: %v", ErrTimestamp, err))
	}

	// The merge may have grown the file; report the size that ships.
	outBytes := len(assembled)
	if info, err := os.Stat(staged); err == nil {
		outBytes = int(info.Size())
	}

	finalPath, err := p.emitter.Finalize(ctx, req, staged, src.ModTime)
	if err != nil {
		return Result{}, fmt.Errorf("finalize stage: %w", err)
	}

	bounds := n.Image.Bounds()
	return Result{
		Output: Output{
			Path:          finalPath,
			Format:        n.Format,
			Bytes:         outBytes,
			Width:         bounds.Dx(),
			Height:        bounds.Dy(),
			CarriedChunks: len(n.Carried),
			ReusedChunks:  n.ReusedChunks(),
		},
		SourceBytes: len(src.Data),
		Warnings:    warnings,
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) (Source, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return Source{}, ctx.Err()
	default:
	}

	info, err := os.Stat(req.ObjectKey)
	if err != nil {
		return Source{}, fmt.Errorf("stat input file %s: %w", req.ObjectKey, err)
	}
	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return Source{}, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return Source{Data: data, LocalPath: req.ObjectKey, ModTime: info.ModTime()}, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Stage(_ context.Context, req Request, data []byte) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	name := strings.TrimSpace(req.OutputKey)
	if name == "" {
		name = OutputFileName(req.ObjectKey)
	}
	fullPath := filepath.Join(e.OutputDir, name)
	if filepath.Clean(fullPath) == filepath.Clean(req.ObjectKey) {
		return "", fmt.Errorf("refusing to overwrite source file %s", req.ObjectKey)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

func (LocalFileEmitter) Finalize(_ context.Context, _ Request, stagedPath string, _ time.Time) (string, error) {
	return stagedPath, nil
}

// OutputFileName maps a source file name to its converted name: PNG sources
// keep their name, everything else switches the extension to .png.
func OutputFileName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	ext := filepath.Ext(base)
	if strings.EqualFold(ext, ".png") {
		return base
	}
	return strings.TrimSuffix(base, ext) + ".png"
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
