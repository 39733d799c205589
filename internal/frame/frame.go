package frame

import (
	"bytes"
	"encoding/base64"
	"image"
	"strings"
	"time"

	// Registered decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMinBytes  = 100
	DefaultMaxPixels = 4096 * 4096
	MinDimension     = 10
)

// Frame is one decoded image. Raw holds the encoded bytes it came from and
// must not be modified once the frame is handed to detectors.
type Frame struct {
	Image      image.Image
	Width      int
	Height     int
	Format     string
	Raw        []byte
	ReceivedAt time.Time
}

type Decoder struct {
	MinBytes int
	// MaxPixels caps the declared width*height; larger frames are rejected
	// from their header before any pixel buffer is allocated.
	MaxPixels int
	now       func() time.Time
}

func NewDecoder(minBytes int) *Decoder {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Decoder{MinBytes: minBytes, MaxPixels: DefaultMaxPixels, now: time.Now}
}

// DecodeBinary decodes a raw image buffer. The second return is false for
// anything that is not a usable frame.
func (d *Decoder) DecodeBinary(data []byte) (*Frame, bool) {
	if len(data) < d.MinBytes {
		return nil, false
	}
	if !d.acceptHeader(data) {
		return nil, false
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	b := img.Bounds()
	if b.Dx() < MinDimension || b.Dy() < MinDimension {
		return nil, false
	}
	return &Frame{
		Image:      img,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Format:     format,
		Raw:        data,
		ReceivedAt: d.now(),
	}, true
}

func (d *Decoder) acceptHeader(data []byte) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	if cfg.Width < MinDimension || cfg.Height < MinDimension {
		return false
	}
	maxPixels := d.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return int64(cfg.Width)*int64(cfg.Height) <= int64(maxPixels)
}

// DecodeText decodes a base64 envelope, optionally data-URL prefixed.
func (d *Decoder) DecodeText(text string) (*Frame, bool) {
	cleaned := CleanBase64(text)
	if cleaned == "" {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, false
	}
	return d.DecodeBinary(data)
}

// CleanBase64 strips whitespace and any data-URL prefix, drops characters
// outside the standard alphabet and restores padding.
func CleanBase64(text string) string {
	text = strings.Join(strings.Fields(text), "")
	if _, after, ok := strings.Cut(text, "base64,"); ok {
		text = after
	}

	var sb strings.Builder
	sb.Grow(len(text) + 3)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/':
			sb.WriteByte(c)
		}
	}
	// Padding is recomputed rather than trusted.
	out := sb.String()
	if out == "" {
		return ""
	}
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}
