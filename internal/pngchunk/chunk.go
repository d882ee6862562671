// Package pngchunk reads and writes PNG files at the chunk level, without
// touching the pixel data inside IDAT.
package pngchunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Signature is the 8-byte sequence every PNG file starts with.
var Signature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Chunk types this module treats specially.
const (
	TypeIHDR = "IHDR"
	TypePLTE = "PLTE"
	TypeIDAT = "IDAT"
	TypeIEND = "IEND"
	TypeSRGB = "sRGB"
	TypeEXIF = "eXIf"
	TypePHYS = "pHYs"
	TypeSBIT = "sBIT"
)

var (
	ErrBadSignature = errors.New("missing png signature")
	ErrTruncated    = errors.New("truncated chunk stream")
	ErrBadCRC       = errors.New("chunk crc mismatch")
)

// Chunk is a single PNG chunk: a 4-character type and its raw payload.
// Length and CRC are derived on encode.
type Chunk struct {
	Type string
	Data []byte
}

// Critical reports whether the chunk is required for decoding. Per the PNG
// spec this is encoded in the case of the first type letter.
func (c Chunk) Critical() bool {
	return len(c.Type) == 4 && c.Type[0] >= 'A' && c.Type[0] <= 'Z'
}

// CRC returns the checksum over the chunk type and payload.
func (c Chunk) CRC() uint32 {
	crc := crc32.ChecksumIEEE([]byte(c.Type))
	return crc32.Update(crc, crc32.IEEETable, c.Data)
}

// IsPNG reports whether data begins with the PNG signature.
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, Signature)
}

// Decode splits a complete PNG byte stream into its chunk sequence. Every
// chunk's CRC is verified. Payload slices alias data; callers that mutate
// them must copy first.
func Decode(data []byte) ([]Chunk, error) {
	if !IsPNG(data) {
		return nil, ErrBadSignature
	}
	rest := data[len(Signature):]

	var chunks []Chunk
	for len(rest) > 0 {
		if len(rest) < 8 {
			return nil, ErrTruncated
		}
		length := binary.BigEndian.Uint32(rest[0:4])
		if length > 0x7fffffff || uint64(len(rest)) < 12+uint64(length) {
			return nil, ErrTruncated
		}
		c := Chunk{
			Type: string(rest[4:8]),
			Data: rest[8 : 8+length],
		}
		want := binary.BigEndian.Uint32(rest[8+length : 12+length])
		if c.CRC() != want {
			return nil, fmt.Errorf("%w: %s", ErrBadCRC, c.Type)
		}
		chunks = append(chunks, c)
		rest = rest[12+length:]

		if c.Type == TypeIEND {
			break
		}
	}

	if len(chunks) == 0 || chunks[len(chunks)-1].Type != TypeIEND {
		return nil, ErrTruncated
	}
	return chunks, nil
}

// Append writes the wire form of one chunk (length, type, data, CRC) onto dst.
func Append(dst []byte, c Chunk) []byte {
	var u [4]byte
	binary.BigEndian.PutUint32(u[:], uint32(len(c.Data)))
	dst = append(dst, u[:]...)
	dst = append(dst, c.Type...)
	dst = append(dst, c.Data...)
	binary.BigEndian.PutUint32(u[:], c.CRC())
	return append(dst, u[:]...)
}

// Encode assembles the signature plus every chunk into a complete PNG byte
// stream. It writes the chunks exactly as given; ordering is the caller's
// responsibility.
func Encode(chunks []Chunk) []byte {
	size := len(Signature)
	for _, c := range chunks {
		size += 12 + len(c.Data)
	}

	out := make([]byte, 0, size)
	out = append(out, Signature...)
	for _, c := range chunks {
		out = Append(out, c)
	}
	return out
}

// Find returns the first chunk of the given type.
func Find(chunks []Chunk, typ string) (Chunk, bool) {
	for _, c := range chunks {
		if c.Type == typ {
			return c, true
		}
	}
	return Chunk{}, false
}
