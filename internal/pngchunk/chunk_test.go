package pngchunk

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: 190, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	original := encodeTestPNG(t, 12, 9)

	chunks, err := Decode(original)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected at least IHDR/IDAT/IEND, got %d chunks", len(chunks))
	}
	if chunks[0].Type != TypeIHDR {
		t.Fatalf("first chunk = %s, want IHDR", chunks[0].Type)
	}
	if chunks[len(chunks)-1].Type != TypeIEND {
		t.Fatalf("last chunk = %s, want IEND", chunks[len(chunks)-1].Type)
	}

	rebuilt := Encode(chunks)
	if !bytes.Equal(rebuilt, original) {
		t.Fatal("re-encoded stream differs from original bytes")
	}
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	if _, err := Decode([]byte("definitely not a png")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	data := encodeTestPNG(t, 8, 8)
	// Flip a byte inside the IHDR payload without fixing its CRC.
	data[len(Signature)+8] ^= 0xff

	if _, err := Decode(data); !errors.Is(err, ErrBadCRC) {
		t.Fatalf("err = %v, want ErrBadCRC", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	data := encodeTestPNG(t, 8, 8)

	if _, err := Decode(data[:len(data)-4]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestAppendMatchesKnownFraming(t *testing.T) {
	got := Append(nil, Chunk{Type: TypeIEND})
	want := []byte{0, 0, 0, 0, 'I', 'E', 'N', 'D', 0xae, 0x42, 0x60, 0x82}
	if !bytes.Equal(got, want) {
		t.Fatalf("IEND framing = %x, want %x", got, want)
	}
}

func TestCritical(t *testing.T) {
	if !(Chunk{Type: TypeIHDR}).Critical() {
		t.Fatal("IHDR should be critical")
	}
	if (Chunk{Type: "tEXt"}).Critical() {
		t.Fatal("tEXt should not be critical")
	}
}

func TestFind(t *testing.T) {
	chunks := []Chunk{
		{Type: TypeIHDR, Data: []byte{1}},
		{Type: "tEXt", Data: []byte("a")},
		{Type: "tEXt", Data: []byte("b")},
	}

	c, ok := Find(chunks, "tEXt")
	if !ok || string(c.Data) != "a" {
		t.Fatalf("Find returned %q ok=%v, want first tEXt", c.Data, ok)
	}
	if _, ok := Find(chunks, TypeIEND); ok {
		t.Fatal("Find reported a chunk that is not present")
	}
}
