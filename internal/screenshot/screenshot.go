// Package screenshot rebuilds arbitrary raster images as PNG files shaped
// the way iOS writes its own screenshots: a fixed chunk order, sRGB color
// space, 144 DPI physical dimensions, and an EXIF block ready for tagging.
//
// Source metadata survives the rebuild. Ancillary PNG chunks are carried
// over in their original order, and for the chunk types this package
// injects (sRGB, eXIf, pHYs, sBIT) the source's raw bytes win over the
// synthesized defaults whenever the source already had them.
package screenshot

import (
	"errors"
	"fmt"
	"image"

	"github.com/rawer886/fake-ios-screenshot/internal/pngchunk"
)

// Resolution stamped on converted screenshots. 5669 pixels per meter is
// 144 DPI, the density iOS reports for native screenshots.
const (
	DefaultDPI            = 144
	DefaultPixelsPerMeter = 5669
)

var (
	ErrDecode   = errors.New("decode source image")
	ErrAssembly = errors.New("assemble png")
)

// Normalized is a decoded source image plus everything the assembler needs
// to rebuild it without losing source metadata.
type Normalized struct {
	Image  image.Image
	Format string

	// Carried holds the source PNG's chunks in original order, minus the
	// structural chunks (IHDR, IDAT, IEND) and the injected types below.
	// Empty for non-PNG sources.
	Carried []pngchunk.Chunk

	// Raw payloads captured from the source PNG for the injected chunk
	// types. Nil means the source did not have that chunk and the
	// assembler synthesizes a default.
	SRGB []byte
	EXIF []byte
	Phys []byte
	SBit []byte
}

// ReusedChunks counts the injected chunk types whose payload comes from the
// source rather than a synthesized default.
func (n Normalized) ReusedChunks() int {
	count := 0
	for _, payload := range [][]byte{n.SRGB, n.EXIF, n.Phys, n.SBit} {
		if payload != nil {
			count++
		}
	}
	return count
}

// Convert decodes a source image and reassembles it as an iOS-shaped PNG.
// The pixel content is re-encoded losslessly from the decoded buffer.
func Convert(data []byte) ([]byte, error) {
	n, err := Normalize(data)
	if err != nil {
		return nil, err
	}
	return Assemble(n)
}

func decodeErr(detail string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDecode, detail)
	}
	return fmt.Errorf("%w: %s: %v", ErrDecode, detail, err)
}

func assemblyErr(detail string) error {
	return fmt.Errorf("%w: %s", ErrAssembly, detail)
}
