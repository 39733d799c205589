// Package frametest builds encoded images for tests.
package frametest

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// Gray returns a w x h image filled with one luma value plus a faint
// pattern so encoders cannot collapse it to a few bytes.
func Gray(w, h int, luma uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int(luma) + ((x*7+y*13)%5 - 2)
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			img.Set(x, y, color.RGBA{R: uint8(v), G: uint8(v), B: uint8(v), A: 255})
		}
	}
	return img
}

func JPEG(w, h int, luma uint8) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gray(w, h, luma), &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func PNG(w, h int, luma uint8) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Gray(w, h, luma)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DataURL wraps data the way a browser canvas export does.
func DataURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

// WithPNGSize rewrites the IHDR of an encoded PNG so it declares w x h while
// the pixel data stays that of the original small image.
func WithPNGSize(data []byte, w, h uint32) []byte {
	out := append([]byte(nil), data...)
	// 8 byte signature, 4 byte length, "IHDR", then width and height.
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}
