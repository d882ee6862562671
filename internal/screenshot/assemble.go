package screenshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/rawer886/fake-ios-screenshot/internal/pngchunk"
)

// srgbPerceptual is the sRGB chunk payload for rendering intent 0.
var srgbPerceptual = []byte{0}

// exifPlaceholder is a minimal big-endian TIFF block: header, offset to
// IFD0, an IFD with zero entries, no next IFD. PNG eXIf payloads start at
// the TIFF header directly, without the JPEG "Exif\0\0" preamble. The
// metadata merge rewrites this in place.
var exifPlaceholder = []byte{'M', 'M', 0x00, 0x2a, 0, 0, 0, 8, 0, 0, 0, 0, 0, 0}

// Assemble re-encodes the pixel buffer and emits the full chunk sequence:
//
//	IHDR, sRGB, <carried chunks>, eXIf, pHYs, sBIT, IDAT, IEND
//
// For the injected types the source payload captured during Normalize is
// written verbatim; absent ones get the iOS defaults.
func Assemble(n Normalized) ([]byte, error) {
	if n.Image == nil {
		return nil, assemblyErr("missing pixel buffer")
	}
	bounds := n.Image.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, assemblyErr("image has zero dimensions")
	}

	base, err := encodeCanonical(n.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssembly, err)
	}
	baseChunks, err := pngchunk.Decode(base)
	if err != nil {
		return nil, fmt.Errorf("%w: reparse encoded png: %v", ErrAssembly, err)
	}

	ihdr, ok := pngchunk.Find(baseChunks, pngchunk.TypeIHDR)
	if !ok || len(ihdr.Data) != 13 {
		return nil, assemblyErr("encoded png has no usable IHDR")
	}
	colorType := ihdr.Data[9]

	var idat []pngchunk.Chunk
	for _, c := range baseChunks {
		if c.Type == pngchunk.TypeIDAT {
			idat = append(idat, c)
		}
	}
	if len(idat) == 0 {
		return nil, assemblyErr("encoded png has no IDAT")
	}

	out := make([]pngchunk.Chunk, 0, len(n.Carried)+len(idat)+6)
	out = append(out, ihdr)
	out = append(out, pngchunk.Chunk{Type: pngchunk.TypeSRGB, Data: payloadOr(n.SRGB, srgbPerceptual)})
	out = append(out, n.Carried...)
	out = append(out,
		pngchunk.Chunk{Type: pngchunk.TypeEXIF, Data: payloadOr(n.EXIF, exifPlaceholder)},
		pngchunk.Chunk{Type: pngchunk.TypePHYS, Data: payloadOr(n.Phys, physPayload())},
		pngchunk.Chunk{Type: pngchunk.TypeSBIT, Data: payloadOr(n.SBit, sbitPayload(colorType))},
	)
	out = append(out, idat...)
	out = append(out, pngchunk.Chunk{Type: pngchunk.TypeIEND})

	return pngchunk.Encode(out), nil
}

// encodeCanonical flattens the buffer to 8-bit NRGBA and encodes it with
// the stdlib encoder, which picks truecolor (2) for opaque images and
// truecolor-with-alpha (6) otherwise.
func encodeCanonical(img image.Image) ([]byte, error) {
	canonical, ok := img.(*image.NRGBA)
	if !ok {
		canonical = image.NewNRGBA(img.Bounds())
		draw.Draw(canonical, canonical.Bounds(), img, img.Bounds().Min, draw.Src)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, canonical); err != nil {
		return nil, fmt.Errorf("encode pixel data: %w", err)
	}
	return buf.Bytes(), nil
}

func physPayload() []byte {
	p := make([]byte, 9)
	binary.BigEndian.PutUint32(p[0:4], DefaultPixelsPerMeter)
	binary.BigEndian.PutUint32(p[4:8], DefaultPixelsPerMeter)
	p[8] = 1 // unit: meter
	return p
}

// sbitPayload reports 8 significant bits for every channel the encoded
// color type retains.
func sbitPayload(colorType byte) []byte {
	if colorType == 6 {
		return []byte{8, 8, 8, 8}
	}
	return []byte{8, 8, 8}
}

func payloadOr(captured, fallback []byte) []byte {
	if captured != nil {
		return captured
	}
	return fallback
}
