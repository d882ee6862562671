package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rawer886/fake-ios-screenshot/internal/metadata"
	"github.com/rawer886/fake-ios-screenshot/internal/pngchunk"
	"github.com/rawer886/fake-ios-screenshot/internal/screenshot"
)

type fakeTagger struct {
	calls   []string
	copySrc string
	copyDst string
	setPath string
	setTags []metadata.Tag
	copyErr error
	setErr  error
}

func (f *fakeTagger) CopyAllTags(_ context.Context, src, dst string) error {
	f.calls = append(f.calls, "copy")
	f.copySrc, f.copyDst = src, dst
	return f.copyErr
}

func (f *fakeTagger) SetTags(_ context.Context, path string, tags []metadata.Tag) error {
	f.calls = append(f.calls, "set")
	f.setPath, f.setTags = path, tags
	return f.setErr
}

func TestLocalProcessorConvertsFile(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}
	srcModTime := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(inputPath, srcModTime, srcModTime); err != nil {
		t.Fatalf("set input mtime: %v", err)
	}

	tagger := &fakeTagger{}
	processor, err := NewLocalProcessor(outputDir, tagger)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	wantPath := filepath.Join(outputDir, "input.png")
	if result.Output.Path != wantPath {
		t.Fatalf("output path = %s, want %s", result.Output.Path, wantPath)
	}
	if result.Output.Format != "png" {
		t.Fatalf("output format = %s, want png", result.Output.Format)
	}
	if result.Output.Width != 240 || result.Output.Height != 120 {
		t.Fatalf("output dims = %dx%d, want 240x120", result.Output.Width, result.Output.Height)
	}
	if result.SourceBytes != len(srcBytes) {
		t.Fatalf("source bytes = %d, want %d", result.SourceBytes, len(srcBytes))
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}

	srcInfo, err := os.Stat(inputPath)
	if err != nil {
		t.Fatalf("stat input: %v", err)
	}

	// Tag copy must happen before the overrides so the overrides win.
	if len(tagger.calls) != 2 || tagger.calls[0] != "copy" || tagger.calls[1] != "set" {
		t.Fatalf("tagger calls = %v, want [copy set]", tagger.calls)
	}
	if tagger.copySrc != inputPath || tagger.copyDst != wantPath {
		t.Fatalf("copy %s -> %s, want %s -> %s", tagger.copySrc, tagger.copyDst, inputPath, wantPath)
	}
	if tagger.setPath != wantPath {
		t.Fatalf("set path = %s, want %s", tagger.setPath, wantPath)
	}
	assertTag(t, tagger.setTags, "ImageDescription", "Screenshot")
	assertTag(t, tagger.setTags, "UserComment", "Screenshot")
	assertTag(t, tagger.setTags, "Orientation", "1")
	assertTag(t, tagger.setTags, "DateTimeOriginal", srcInfo.ModTime().Format(metadata.ExifTimeLayout))

	outData, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	chunks, err := pngchunk.Decode(outData)
	if err != nil {
		t.Fatalf("decode output chunks: %v", err)
	}
	if chunks[0].Type != pngchunk.TypeIHDR || chunks[1].Type != pngchunk.TypeSRGB {
		t.Fatalf("output does not open with IHDR,sRGB: %s,%s", chunks[0].Type, chunks[1].Type)
	}
	outInfo, err := os.Stat(wantPath)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if !outInfo.ModTime().Equal(srcInfo.ModTime()) {
		t.Fatalf("output mtime = %v, want source mtime %v", outInfo.ModTime(), srcInfo.ModTime())
	}
}

func TestLocalProcessorRenamesJPEGOutput(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "shot.jpg")
	outputDir := filepath.Join(tmp, "out")

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if err := os.WriteFile(inputPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(outputDir, &fakeTagger{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-jpeg-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if want := filepath.Join(outputDir, "shot.png"); result.Output.Path != want {
		t.Fatalf("output path = %s, want %s", result.Output.Path, want)
	}
	if result.Output.Format != "jpeg" {
		t.Fatalf("source format = %s, want jpeg", result.Output.Format)
	}
	if result.Output.CarriedChunks != 0 || result.Output.ReusedChunks != 0 {
		t.Fatal("jpeg source must not carry png chunks")
	}
	if _, err := png.Decode(bytes.NewReader(mustRead(t, result.Output.Path))); err != nil {
		t.Fatalf("output is not a decodable png: %v", err)
	}
}

func TestProcessorMetadataFailureLeavesPixelOutput(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	if err := os.WriteFile(inputPath, buildTestPNG(t, 20, 20), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	tagger := &fakeTagger{copyErr: metadata.ErrMetadataWrite}
	processor, err := NewLocalProcessor(outputDir, tagger)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-metafail",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	})
	if !errors.Is(err, metadata.ErrMetadataWrite) {
		t.Fatalf("err = %v, want ErrMetadataWrite", err)
	}

	// The pixel-correct file stays on disk even though tagging failed.
	outPath := filepath.Join(outputDir, "input.png")
	if _, err := png.Decode(bytes.NewReader(mustRead(t, outPath))); err != nil {
		t.Fatalf("partial output is not a decodable png: %v", err)
	}
}

func TestProcessorClassifiesDecodeFailure(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "broken.png")
	if err := os.WriteFile(inputPath, []byte("this is not a png"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	processor, err := NewLocalProcessor(filepath.Join(tmp, "out"), &fakeTagger{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-decode",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	})
	if !errors.Is(err, screenshot.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestLocalProcessorUnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), &fakeTagger{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job/source",
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("err = %v, want ErrUnsupportedSourceType", err)
	}
}

func TestLocalEmitterRefusesToOverwriteSource(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 10, 10), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	// Output dir equal to the source dir with the same file name must fail.
	processor, err := NewLocalProcessor(tmp, &fakeTagger{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-selfclobber",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	})
	if err == nil {
		t.Fatal("expected refusal to overwrite the source file")
	}
}

func TestOutputFileName(t *testing.T) {
	cases := map[string]string{
		"shot.png":        "shot.png",
		"SHOT.PNG":        "SHOT.PNG",
		"photo.jpg":       "photo.png",
		"photo.JPEG":      "photo.png",
		"dir/capture.jpg": "capture.png",
		"noext":           "noext.png",
	}
	for in, want := range cases {
		if got := OutputFileName(in); got != want {
			t.Fatalf("OutputFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func assertTag(t *testing.T, tags []metadata.Tag, name, want string) {
	t.Helper()
	for _, tag := range tags {
		if tag.Name == name {
			if tag.Value != want {
				t.Fatalf("%s = %q, want %q", name, tag.Value, want)
			}
			return
		}
	}
	t.Fatalf("missing %s tag", name)
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
