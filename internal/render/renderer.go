// Package render turns frames into display images with the scan region marked.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// Renderer draws a frame with the region of interest outlined.
type Renderer interface {
	Render(frame *types.Frame, roi types.Rect) ([]byte, error)
}

const (
	roiLabel   = "SCAN AREA"
	lineWidth  = 3
	textMargin = 2
)

var (
	roiColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	textColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelBG   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// JPEGRenderer renders frames to JPEG. It reuses its canvas between calls,
// so it is meant for a single rendering goroutine.
type JPEGRenderer struct {
	Quality  int
	MaxWidth int  // downscale wider frames; 0 keeps native size
	Stats    bool // frame number and time in the top-left corner

	canvas *image.RGBA
}

// NewJPEGRenderer creates a renderer with the given JPEG quality (1-100).
func NewJPEGRenderer(quality int) *JPEGRenderer {
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	return &JPEGRenderer{Quality: quality, Stats: true}
}

// Render implements Renderer.
func (r *JPEGRenderer) Render(frame *types.Frame, roi types.Rect) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("render: nil frame")
	}
	if !frame.Valid() {
		return nil, fmt.Errorf("render: inconsistent frame %dx%d (%d bytes)", frame.Width, frame.Height, len(frame.Pixels))
	}

	img := r.canvasFor(frame.Width, frame.Height)
	bgraToRGBA(img.Pix, frame.Pixels)

	drawRect(img, roi.Image(), roiColor, lineWidth)
	labelY := roi.Y - textMargin - 3
	if labelY < basicfont.Face7x13.Ascent {
		labelY = roi.Y + lineWidth + basicfont.Face7x13.Ascent + textMargin
	}
	drawText(img, roi.X, labelY, roiLabel, roiColor, labelBG)

	if r.Stats {
		stats := fmt.Sprintf("Frame: %d  Time: %s", frame.Seq, frame.Timestamp.Format("15:04:05.000"))
		drawText(img, 10, 10+basicfont.Face7x13.Ascent, stats, textColor, labelBG)
	}

	var out image.Image = img
	if r.MaxWidth > 0 && frame.Width > r.MaxWidth {
		h := frame.Height * r.MaxWidth / frame.Width
		dst := image.NewRGBA(image.Rect(0, 0, r.MaxWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, fmt.Errorf("render: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *JPEGRenderer) canvasFor(width, height int) *image.RGBA {
	if r.canvas == nil || r.canvas.Rect.Dx() != width || r.canvas.Rect.Dy() != height {
		r.canvas = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	return r.canvas
}

// bgraToRGBA swaps the blue and red channels into an RGBA buffer of equal length.
func bgraToRGBA(dst, src []byte) {
	for i := 0; i+3 < len(src); i += types.BytesPerPixel {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
		dst[i+3] = 255
	}
}

// drawRect outlines rect with a border of the given thickness, drawn inward.
func drawRect(img *image.RGBA, rect image.Rectangle, c color.Color, thickness int) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	src := image.NewUniform(c)
	t := min(thickness, rect.Dx()/2, rect.Dy()/2)
	if t <= 0 {
		t = 1
	}
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+t), // top
		image.Rect(rect.Min.X, rect.Max.Y-t, rect.Max.X, rect.Max.Y), // bottom
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+t, rect.Max.Y), // left
		image.Rect(rect.Max.X-t, rect.Min.Y, rect.Max.X, rect.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

// drawText writes s with its baseline at (x, y) over a filled background box.
func drawText(img *image.RGBA, x, y int, s string, fg, bg color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	width := d.MeasureString(s).Ceil()
	box := image.Rect(x-textMargin, y-face.Ascent-textMargin, x+width+textMargin, y+face.Descent+textMargin)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)
	d.DrawString(s)
}

// BlankJPEG renders colour bars, shown while no frame is available.
func BlankJPEG(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := max(width/len(colors), 1)
	for i, c := range colors {
		bar := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		if i == len(colors)-1 {
			bar.Max.X = width
		}
		draw.Draw(img, bar, image.NewUniform(c), image.Point{}, draw.Src)
	}
	drawText(img, 10, height/2, "NO SIGNAL", textColor, labelBG)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
