package detect

import (
	"context"
	"image"

	"proctor-stream/internal/frame"
	"proctor-stream/internal/model"
)

const (
	DefaultLowLight   = 40
	overexposedLuma   = 245
	brightnessSamples = 64
)

// Brightness flags frames too dark or too bright for the face models to work
// with. It samples a grid rather than every pixel.
type Brightness struct {
	LowLight float64
}

func NewBrightness(lowLight float64) *Brightness {
	if lowLight <= 0 {
		lowLight = DefaultLowLight
	}
	return &Brightness{LowLight: lowLight}
}

func (b *Brightness) Name() string { return "brightness" }

func (b *Brightness) Detect(_ context.Context, f *frame.Frame) ([]model.Event, error) {
	luma := MeanLuma(f.Image)
	switch {
	case luma < b.LowLight:
		return []model.Event{model.NewEvent("Low light detected", f.ReceivedAt)}, nil
	case luma > overexposedLuma:
		return []model.Event{model.NewEvent("Overexposed frame detected", f.ReceivedAt)}, nil
	}
	return nil, nil
}

// MeanLuma returns the average Rec. 601 luma (0-255) over a sample grid.
func MeanLuma(img image.Image) float64 {
	bounds := img.Bounds()
	stepX := max(bounds.Dx()/brightnessSamples, 1)
	stepY := max(bounds.Dy()/brightnessSamples, 1)

	var sum float64
	var n int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
