// Command convert turns Android screenshots into PNGs that iOS photo
// import recognizes as native screenshots. It accepts a single image or
// a directory tree and drives the conversion pipeline for each file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rawer886/fake-ios-screenshot/internal/metadata"
	"github.com/rawer886/fake-ios-screenshot/internal/pipeline"
	"github.com/rawer886/fake-ios-screenshot/internal/screenshot"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".gif":  true,
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <image-file-or-directory>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Convert Android screenshots into iOS-recognizable PNG screenshots.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	out := flag.String("out", "", "output file (single input) or output directory (directory input)")
	workers := flag.Int("workers", runtime.NumCPU(), "concurrent conversions for directory input")
	exiftoolPath := flag.String("exiftool", "", "path to the exiftool binary (default $EXIFTOOL_PATH, then PATH lookup)")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[convert] ", log.LstdFlags|log.Lmsgprefix)

	if err := screenshot.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer screenshot.Shutdown()

	toolPath := *exiftoolPath
	if toolPath == "" {
		toolPath = os.Getenv("EXIFTOOL_PATH")
	}
	tagger, err := metadata.NewExifTool(toolPath)
	if err != nil {
		logger.Fatalf("exiftool unavailable: %v (install exiftool and make sure it is on PATH)", err)
	}

	input := flag.Arg(0)
	info, err := os.Stat(input)
	if err != nil {
		logger.Fatalf("cannot read %s: %v", input, err)
	}

	ctx := context.Background()
	if info.IsDir() {
		failed := runBatch(ctx, logger, tagger, input, *out, *workers)
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	if err := runSingle(ctx, logger, tagger, input, *out); err != nil {
		logger.Fatalf("conversion failed: %v", err)
	}
}

func runSingle(ctx context.Context, logger *log.Logger, tagger metadata.Tagger, inputPath, outPath string) error {
	if outPath == "" {
		outPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "_ios.png"
	}

	proc, err := pipeline.NewLocalProcessor(filepath.Dir(outPath), tagger)
	if err != nil {
		return err
	}

	result, err := proc.Process(ctx, pipeline.Request{
		JobID:      "file-1",
		SourceType: pipeline.SourceTypeLocalFile,
		ObjectKey:  inputPath,
		OutputKey:  filepath.Base(outPath),
	})
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		logger.Printf("warning: %s", warning)
	}
	logger.Printf(
		"converted %s -> %s source_format=%s carried=%d reused=%d",
		inputPath,
		result.Output.Path,
		result.Output.Format,
		result.Output.CarriedChunks,
		result.Output.ReusedChunks,
	)
	return nil
}

func runBatch(ctx context.Context, logger *log.Logger, tagger metadata.Tagger, root, outDir string, workers int) int {
	if outDir == "" {
		outDir = filepath.Join(root, "ios_output")
	}
	if workers < 1 {
		workers = 1
	}

	files, err := collectImageFiles(root, outDir)
	if err != nil {
		logger.Fatalf("scan %s: %v", root, err)
	}
	if len(files) == 0 {
		logger.Printf("no image files found under %s", root)
		return 0
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logger.Fatalf("create output directory %s: %v", outDir, err)
	}

	outputNames := resolveOutputNames(files)

	proc, err := pipeline.NewLocalProcessor(outDir, tagger)
	if err != nil {
		logger.Fatalf("initialize pipeline: %v", err)
	}

	logger.Printf("converting %d files workers=%d output_dir=%s", len(files), workers, outDir)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64

	for i, file := range files {
		wg.Add(1)
		go func(jobNum int, file, outputName string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := proc.Process(ctx, pipeline.Request{
				JobID:      fmt.Sprintf("file-%d", jobNum),
				SourceType: pipeline.SourceTypeLocalFile,
				ObjectKey:  file,
				OutputKey:  outputName,
			})
			if err != nil {
				failed.Add(1)
				logger.Printf("failed file=%s err=%v", file, err)
				return
			}

			for _, warning := range result.Warnings {
				logger.Printf("warning file=%s msg=%s", file, warning)
			}
			succeeded.Add(1)
			logger.Printf("converted %s -> %s", file, result.Output.Path)
		}(i+1, file, outputNames[i])
	}
	wg.Wait()

	logger.Printf(
		"done processed=%d succeeded=%d failed=%d output_dir=%s",
		len(files),
		succeeded.Load(),
		failed.Load(),
		outDir,
	)
	return int(failed.Load())
}

// collectImageFiles walks root for supported images, skipping the output
// directory so reruns do not reconvert previous results.
func collectImageFiles(root, outDir string) ([]string, error) {
	var files []string
	cleanOut := filepath.Clean(outDir)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if filepath.Clean(path) == cleanOut {
				return filepath.SkipDir
			}
			return nil
		}
		if imageExts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// resolveOutputNames maps each input to its output file name up front so
// duplicate base names across subdirectories get a numeric suffix instead
// of overwriting each other during the parallel phase.
func resolveOutputNames(files []string) []string {
	used := make(map[string]bool)
	names := make([]string, len(files))

	for i, file := range files {
		name := pipeline.OutputFileName(filepath.Base(file))
		if used[name] {
			ext := filepath.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
				if !used[candidate] {
					name = candidate
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}

	return names
}
