//go:build !govips || !cgo

package screenshot

import (
	"bytes"
	"image"
	"image/png"

	_ "image/gif"

	"github.com/gen2brain/jpegli"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rawer886/fake-ios-screenshot/internal/pngchunk"
)

func decodePixels(data []byte) (image.Image, string, error) {
	switch {
	case pngchunk.IsPNG(data):
		img, err := png.Decode(bytes.NewReader(data))
		return img, "png", err
	case isJPEG(data):
		img, err := jpegli.Decode(bytes.NewReader(data))
		return img, "jpeg", err
	default:
		return image.Decode(bytes.NewReader(data))
	}
}

func isJPEG(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xff && data[1] == 0xd8
}
