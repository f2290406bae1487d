package sniffer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/webp"

	"github.com/tamakara/bakabooru/internal/models"
)

var ErrAnimated = fmt.Errorf("%w: animated images are not supported", models.ErrUnsupportedContent)

// Info describes the decoded content of an image file.
type Info struct {
	Result
	Width    int
	Height   int
	Frames   int
	Animated bool
}

// Inspect reads the real format, pixel size and frame count from content.
// Only static jpeg, png, gif and webp pass; anything else is an error.
func Inspect(r io.ReadSeeker) (Info, error) {
	res, _, err := Detect(r)
	if err != nil {
		return Info{}, err
	}

	switch res.Type {
	case TypeJPEG, TypePNG, TypeGIF, TypeWEBP:
	default:
		return Info{}, fmt.Errorf("%w: %s", models.ErrUnsupportedContent, res.Type)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Info{}, fmt.Errorf("rewind: %w", err)
	}
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return Info{}, fmt.Errorf("%w: decode %s: %v", models.ErrUnsupportedContent, res.Type, err)
	}

	info := Info{Result: res, Width: cfg.Width, Height: cfg.Height, Frames: 1}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, fmt.Errorf("%w: invalid dimensions %dx%d", models.ErrUnsupportedContent, info.Width, info.Height)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Info{}, fmt.Errorf("rewind: %w", err)
	}
	switch res.Type {
	case TypeGIF:
		info.Frames, err = gifFrames(r)
	case TypePNG:
		info.Animated, err = pngAnimated(r)
	case TypeWEBP:
		info.Animated, err = webpAnimated(r)
	}
	if err != nil {
		return Info{}, err
	}
	if info.Frames > 1 {
		info.Animated = true
	}
	if info.Animated {
		return info, ErrAnimated
	}
	return info, nil
}

func gifFrames(r io.Reader) (int, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return 0, fmt.Errorf("%w: decode gif: %v", models.ErrUnsupportedContent, err)
	}
	return len(g.Image), nil
}

// pngAnimated walks chunks until image data; an acTL chunk before IDAT marks APNG.
func pngAnimated(r io.Reader) (bool, error) {
	br := bufio.NewReader(r)
	if _, err := br.Discard(len(pngMagic)); err != nil {
		return false, fmt.Errorf("read png: %w", err)
	}
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return false, nil
			}
			return false, fmt.Errorf("read png chunk: %w", err)
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		switch string(hdr[4:8]) {
		case "acTL":
			return true, nil
		case "IDAT", "IEND":
			return false, nil
		}
		// payload plus CRC
		if _, err := br.Discard(int(length) + 4); err != nil {
			return false, nil
		}
	}
}

// webpAnimated checks the animation flag of an extended (VP8X) header.
func webpAnimated(r io.Reader) (bool, error) {
	var head [21]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, fmt.Errorf("read webp: %w", err)
	}
	if n < len(head) || !bytes.Equal(head[12:16], []byte("VP8X")) {
		return false, nil
	}
	return head[20]&0x02 != 0, nil
}
