package capture

import (
	"image"
	"time"

	"github.com/nfnt/resize"
)

const (
	PlaceholderWidth  = 640
	PlaceholderHeight = 480
)

// Frame is a packed 3-channel BGR image. Frames are never mutated once
// handed to a FrameSource.
type Frame struct {
	Width     int
	Height    int
	Pix       []byte
	Timestamp time.Time
}

func NewFrame(width int, height int) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		Pix:       make([]byte, width*height*3),
		Timestamp: time.Now(),
	}
}

// Placeholder is solid black at the default size.
func Placeholder() *Frame {
	frame := NewFrame(PlaceholderWidth, PlaceholderHeight)
	frame.Timestamp = time.Time{}
	return frame
}

func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*3
}

// RGB returns the pixels with the red and blue channels swapped.
func (f *Frame) RGB() []byte {
	out := make([]byte, len(f.Pix))
	for i := 0; i+2 < len(f.Pix); i += 3 {
		out[i] = f.Pix[i+2]
		out[i+1] = f.Pix[i+1]
		out[i+2] = f.Pix[i]
	}
	return out
}

func (f *Frame) toImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for p, q := 0, 0; p+2 < len(f.Pix); p, q = p+3, q+4 {
		img.Pix[q] = f.Pix[p+2]
		img.Pix[q+1] = f.Pix[p+1]
		img.Pix[q+2] = f.Pix[p]
		img.Pix[q+3] = 0xff
	}
	return img
}

func fromImage(img image.Image, ts time.Time) *Frame {
	bounds := img.Bounds()
	frame := &Frame{
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Pix:       make([]byte, bounds.Dx()*bounds.Dy()*3),
		Timestamp: ts,
	}
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < frame.Height; y++ {
			row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+frame.Width*4]
			out := frame.Pix[y*frame.Width*3 : (y+1)*frame.Width*3]
			for p, q := 0, 0; q < len(row); p, q = p+3, q+4 {
				out[p] = row[q+2]
				out[p+1] = row[q+1]
				out[p+2] = row[q]
			}
		}
		return frame
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			frame.Pix[i] = byte(b >> 8)
			frame.Pix[i+1] = byte(g >> 8)
			frame.Pix[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return frame
}

// Resize returns f unchanged when it already has the requested size.
func (f *Frame) Resize(width int, height int) *Frame {
	if f.Width == width && f.Height == height {
		return f
	}
	scaled := resize.Resize(uint(width), uint(height), f.toImage(), resize.Bilinear)
	return fromImage(scaled, f.Timestamp)
}
