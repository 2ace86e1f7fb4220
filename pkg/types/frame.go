package types

import (
	"image"
	"time"
)

// BytesPerPixel is fixed by the BGRA pixel format delivered by the video decoder.
const BytesPerPixel = 4

// PixelFormatBGRA names the only pixel layout the pipeline understands,
// spelled the way ffmpeg's -pix_fmt expects it.
const PixelFormatBGRA = "bgra"

// Frame is one decoded image. Once published it must not be modified.
type Frame struct {
	Width     int       // Frame width in pixels
	Height    int       // Frame height in pixels
	Pixels    []byte    // BGRA, row-major, Width*Height*4 bytes
	Seq       uint64    // Publish sequence number assigned by the slot
	Timestamp time.Time // Publish time
}

// Valid reports whether the pixel buffer agrees with the dimensions.
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	return len(f.Pixels) == f.Width*f.Height*BytesPerPixel
}

// ROI returns the scan region of interest for this frame.
func (f *Frame) ROI() Rect {
	return ROIFor(f.Width, f.Height)
}

// Rect is an axis-aligned rectangle in pixel coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ROIFor returns the central half-width/half-height rectangle.
func ROIFor(width, height int) Rect {
	return Rect{
		X: width / 4,
		Y: height / 4,
		W: width / 2,
		H: height / 2,
	}
}

// Image converts the rectangle to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// ScanResult is one symbol decoded from a snapshot.
type ScanResult struct {
	Text   string `json:"text"`
	Format string `json:"format"`
}

// ScanCycle describes one iteration of the scan worker.
// It is built and consumed within that iteration.
type ScanCycle struct {
	Start    time.Time     // Cycle start
	FrameSeq uint64        // Seq of the snapshot scanned (0 if none)
	Decode   time.Duration // Recognition time
	Elapsed  time.Duration // Whole-cycle time before throttling
	Results  []ScanResult  // Recognizer output in recognizer order
	New      []string      // Payloads reported for the first time
}
