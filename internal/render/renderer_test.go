package render

import (
	"bytes"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

func greyFrame(w, h int, v byte) *types.Frame {
	pix := bytes.Repeat([]byte{v, v, v, 255}, w*h)
	return &types.Frame{Width: w, Height: h, Pixels: pix, Seq: 7, Timestamp: time.Now()}
}

func TestRenderOutlinesROI(t *testing.T) {
	f := greyFrame(320, 240, 40)
	r := NewJPEGRenderer(95)
	r.Stats = false

	data, err := r.Render(f, f.ROI())
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())

	roi := f.ROI()
	// Left edge of the ROI, half way down: green.
	cr, cg, cb, _ := img.At(roi.X+1, roi.Y+roi.H/2).RGBA()
	assert.Greater(t, cg>>8, uint32(180))
	assert.Less(t, cr>>8, uint32(90))
	assert.Less(t, cb>>8, uint32(90))

	// Centre of the ROI keeps the source pixels.
	cr, cg, cb, _ = img.At(roi.X+roi.W/2, roi.Y+roi.H/2).RGBA()
	assert.InDelta(t, 40, int(cr>>8), 12)
	assert.InDelta(t, 40, int(cg>>8), 12)
	assert.InDelta(t, 40, int(cb>>8), 12)
}

func TestRenderSwapsChannels(t *testing.T) {
	// Pure blue in BGRA.
	pix := bytes.Repeat([]byte{255, 0, 0, 255}, 64*64)
	f := &types.Frame{Width: 64, Height: 64, Pixels: pix}
	r := NewJPEGRenderer(95)
	r.Stats = false

	data, err := r.Render(f, types.Rect{})
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	cr, _, cb, _ := img.At(32, 32).RGBA()
	assert.Greater(t, cb>>8, uint32(200))
	assert.Less(t, cr>>8, uint32(60))
}

func TestRenderDownscales(t *testing.T) {
	f := greyFrame(400, 200, 128)
	r := NewJPEGRenderer(80)
	r.MaxWidth = 200

	data, err := r.Render(f, f.ROI())
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)
}

func TestRenderFollowsResize(t *testing.T) {
	r := NewJPEGRenderer(80)
	for _, size := range [][2]int{{100, 100}, {50, 30}, {100, 100}} {
		f := greyFrame(size[0], size[1], 0)
		data, err := r.Render(f, f.ROI())
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, size[0], cfg.Width)
		assert.Equal(t, size[1], cfg.Height)
	}
}

func TestRenderRejectsInconsistentFrame(t *testing.T) {
	_, err := NewJPEGRenderer(80).Render(&types.Frame{Width: 4, Height: 4, Pixels: make([]byte, 8)}, types.Rect{})
	assert.Error(t, err)

	_, err = NewJPEGRenderer(80).Render(nil, types.Rect{})
	assert.Error(t, err)
}

func TestBlankJPEG(t *testing.T) {
	data, err := BlankJPEG(640, 480)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
}

func TestNewJPEGRendererClampsQuality(t *testing.T) {
	assert.Equal(t, 75, NewJPEGRenderer(0).Quality)
	assert.Equal(t, 75, NewJPEGRenderer(101).Quality)
	assert.Equal(t, 90, NewJPEGRenderer(90).Quality)
}
