package sniffer

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamakara/bakabooru/internal/models"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h), nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func encodeGIF(t *testing.T, frames int) []byte {
	t.Helper()
	palette := color.Palette{color.Black, color.White}
	anim := &gif.GIF{}
	for i := 0; i < frames; i++ {
		anim.Image = append(anim.Image, image.NewPaletted(image.Rect(0, 0, 8, 6), palette))
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	return buf.Bytes()
}

// toAPNG splices an acTL chunk right after IHDR.
func toAPNG(t *testing.T, data []byte) []byte {
	t.Helper()
	ihdrEnd := 8 + 8 + 13 + 4
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], 2)
	chunk := make([]byte, 0, 20)
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(body)))
	chunk = append(chunk, "acTL"...)
	chunk = append(chunk, body...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(append([]byte("acTL"), body...)))

	out := append([]byte{}, data[:ihdrEnd]...)
	out = append(out, chunk...)
	return append(out, data[ihdrEnd:]...)
}

func vp8x(w, h int, flags byte) []byte {
	payload := []byte{flags, 0, 0, 0,
		byte(w - 1), byte((w - 1) >> 8), byte((w - 1) >> 16),
		byte(h - 1), byte((h - 1) >> 8), byte((h - 1) >> 16),
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+len(payload)))
	buf.WriteString("WEBP")
	buf.WriteString("VP8X")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func TestDetectHead(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want MediaType
		ext  string
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, TypeJPEG, "jpg"},
		{"png", pngMagic, TypePNG, "png"},
		{"gif", []byte("GIF89a...."), TypeGIF, "gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), TypeWEBP, "webp"},
		{"avif", []byte("\x00\x00\x00\x1cftypavif\x00\x00"), TypeAVIF, "avif"},
		{"svg", []byte("  <svg xmlns=\"\"/>"), TypeSVG, "svg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DetectHead(tt.head)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Type)
			assert.Equal(t, tt.ext, res.Extension())
		})
	}

	_, err := DetectHead([]byte("plain text"))
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.ErrorIs(t, err, models.ErrUnsupportedContent)
}

func TestInspectStatic(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		typ  MediaType
		w, h int
	}{
		{"jpeg", encodeJPEG(t, 10, 10), TypeJPEG, 10, 10},
		{"png", encodePNG(t, 16, 9), TypePNG, 16, 9},
		{"single frame gif", encodeGIF(t, 1), TypeGIF, 8, 6},
		{"static webp", vp8x(30, 20, 0x10), TypeWEBP, 30, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Inspect(bytes.NewReader(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.typ, info.Type)
			assert.Equal(t, tt.w, info.Width)
			assert.Equal(t, tt.h, info.Height)
			assert.False(t, info.Animated)
		})
	}
}

func TestInspectRejectsAnimation(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"gif", encodeGIF(t, 3)},
		{"apng", toAPNG(t, encodePNG(t, 4, 4))},
		{"webp", vp8x(30, 20, 0x02)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Inspect(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, ErrAnimated)
			assert.ErrorIs(t, err, models.ErrUnsupportedContent)
			assert.True(t, info.Animated)
		})
	}
}

func TestInspectRejectsUnsupportedFormats(t *testing.T) {
	_, err := Inspect(bytes.NewReader([]byte("<svg></svg>")))
	assert.ErrorIs(t, err, models.ErrUnsupportedContent)

	truncated := encodePNG(t, 4, 4)[:12]
	_, err = Inspect(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, models.ErrUnsupportedContent)
}
