//go:build govips && cgo

package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// decodePixels goes through libvips for format coverage beyond the pure-Go
// decoders (HEIC, AVIF), then hands the pixels over as a stdlib image so
// the assembler path stays identical to the default build.
func decodePixels(data []byte) (image.Image, string, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("vips load: %w", err)
	}
	defer img.Close()

	format := "png"
	switch vips.DetermineImageType(data) {
	case vips.ImageTypeJPEG:
		format = "jpeg"
	case vips.ImageTypeWEBP:
		format = "webp"
	case vips.ImageTypeHEIF:
		format = "heif"
	}

	exported, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("vips export: %w", err)
	}

	decoded, err := png.Decode(bytes.NewReader(exported))
	if err != nil {
		return nil, "", err
	}
	return decoded, format, nil
}
