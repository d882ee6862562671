package metadata

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/rawer886/fake-ios-screenshot/internal/screenshot"
)

// ExifTimeLayout is the timestamp format EXIF date tags use.
const ExifTimeLayout = "2006:01:02 15:04:05"

// OverrideTags returns the fixed tag set stamped on every converted file.
// The date tags are pinned to the source's DateTimeOriginal when it has
// one, otherwise to the source file's modification time, so the converted
// screenshot never looks newer than the capture it came from.
func OverrideTags(sourcePath string, sourceModTime time.Time) []Tag {
	stamp := sourceDateTime(sourcePath, sourceModTime)
	dpi := strconv.Itoa(screenshot.DefaultDPI)

	return []Tag{
		{Name: "ImageDescription", Value: "Screenshot"},
		{Name: "UserComment", Value: "Screenshot"},
		{Name: "DateTimeOriginal", Value: stamp},
		{Name: "CreateDate", Value: stamp},
		{Name: "ModifyDate", Value: stamp},
		{Name: "Orientation", Value: "1"},
		{Name: "XResolution", Value: dpi},
		{Name: "YResolution", Value: dpi},
		{Name: "ResolutionUnit", Value: "2"},
		{Name: "ColorSpace", Value: "1"},
	}
}

func sourceDateTime(path string, fallback time.Time) string {
	if stamp, ok := exifDateTimeOriginal(path); ok {
		return stamp
	}
	return fallback.Format(ExifTimeLayout)
}

func exifDateTimeOriginal(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return "", false
	}
	tag, err := x.Get(exif.DateTimeOriginal)
	if err != nil {
		return "", false
	}
	value, err := tag.StringVal()
	if err != nil {
		return "", false
	}

	value = strings.TrimSpace(value)
	if _, err := time.Parse(ExifTimeLayout, value); err != nil {
		return "", false
	}
	return value, true
}
