package screenshot

import (
	"github.com/rawer886/fake-ios-screenshot/internal/pngchunk"
)

// Normalize decodes a source image into the canonical pixel buffer and, for
// PNG sources, extracts the chunks the assembler carries over or reuses.
// Chunk payloads of the injected types keep the source's exact bytes; when
// a type appears more than once the first occurrence wins.
func Normalize(data []byte) (Normalized, error) {
	if len(data) == 0 {
		return Normalized{}, decodeErr("empty input", nil)
	}

	img, format, err := decodePixels(data)
	if err != nil {
		return Normalized{}, decodeErr("unsupported or corrupt image", err)
	}

	n := Normalized{Image: img, Format: format}
	if !pngchunk.IsPNG(data) {
		return n, nil
	}

	chunks, err := pngchunk.Decode(data)
	if err != nil {
		return Normalized{}, decodeErr("parse png chunks", err)
	}

	for _, c := range chunks {
		switch c.Type {
		case pngchunk.TypeIHDR, pngchunk.TypeIDAT, pngchunk.TypeIEND:
			// Regenerated by the assembler.
		case pngchunk.TypeSRGB:
			if n.SRGB == nil {
				n.SRGB = c.Data
			}
		case pngchunk.TypeEXIF:
			if n.EXIF == nil {
				n.EXIF = c.Data
			}
		case pngchunk.TypePHYS:
			if n.Phys == nil {
				n.Phys = c.Data
			}
		case pngchunk.TypeSBIT:
			if n.SBit == nil {
				n.SBit = c.Data
			}
		default:
			n.Carried = append(n.Carried, c)
		}
	}

	return n, nil
}
