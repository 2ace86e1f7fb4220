package scanner

import (
	"errors"
	"fmt"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"

	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// Recognizer finds every barcode in a frame.
// Zero symbols is a nil slice and a nil error, not a failure.
type Recognizer interface {
	DecodeMultiple(frame *types.Frame) ([]types.ScanResult, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(frame *types.Frame) ([]types.ScanResult, error)

// DecodeMultiple implements Recognizer.
func (f RecognizerFunc) DecodeMultiple(frame *types.Frame) ([]types.ScanResult, error) {
	return f(frame)
}

type multipleReader interface {
	DecodeMultiple(image *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error)
}

// QRRecognizer decodes multiple QR codes per frame with ZXing's hybrid binarizer.
// It keeps a luminance buffer between calls, so use one per goroutine.
type QRRecognizer struct {
	reader  multipleReader
	hints   map[gozxing.DecodeHintType]interface{}
	roiOnly bool
	luma    []byte
}

// QROption configures a QRRecognizer.
type QROption func(*QRRecognizer)

// WithTryHarder trades speed for accuracy.
func WithTryHarder() QROption {
	return func(r *QRRecognizer) {
		r.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
}

// WithROIOnly limits recognition to the central region of interest.
func WithROIOnly() QROption {
	return func(r *QRRecognizer) {
		r.roiOnly = true
	}
}

// NewQRRecognizer creates a multi-symbol QR recognizer.
func NewQRRecognizer(opts ...QROption) *QRRecognizer {
	r := &QRRecognizer{
		reader: multiqr.NewQRCodeMultiReader(),
		hints:  make(map[gozxing.DecodeHintType]interface{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DecodeMultiple implements Recognizer.
func (r *QRRecognizer) DecodeMultiple(frame *types.Frame) ([]types.ScanResult, error) {
	if frame == nil {
		return nil, fmt.Errorf("decode: nil frame")
	}
	if !frame.Valid() {
		return nil, fmt.Errorf("decode: inconsistent frame %dx%d (%d bytes)", frame.Width, frame.Height, len(frame.Pixels))
	}

	r.luma = bgraToLuma(r.luma, frame.Pixels)

	left, top, width, height := 0, 0, frame.Width, frame.Height
	if r.roiOnly {
		roi := frame.ROI()
		if !roi.Empty() {
			left, top, width, height = roi.X, roi.Y, roi.W, roi.H
		}
	}

	src, err := gozxing.NewPlanarYUVLuminanceSource(r.luma, frame.Width, frame.Height, left, top, width, height, false)
	if err != nil {
		return nil, fmt.Errorf("decode: luminance source: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return nil, fmt.Errorf("decode: binarize: %w", err)
	}

	found, err := r.reader.DecodeMultiple(bmp, r.hints)
	if err != nil {
		var notFound gozxing.NotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode: %w", err)
	}

	results := make([]types.ScanResult, 0, len(found))
	for _, res := range found {
		if res == nil {
			continue
		}
		results = append(results, types.ScanResult{
			Text:   res.GetText(),
			Format: res.GetBarcodeFormat().String(),
		})
	}
	return results, nil
}

// bgraToLuma writes one luminance byte per pixel into dst, growing it as needed.
// Uses ZXing's (R + 2G + B) / 4 approximation.
func bgraToLuma(dst, bgra []byte) []byte {
	n := len(bgra) / types.BytesPerPixel
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, p := 0, 0; i < n; i, p = i+1, p+types.BytesPerPixel {
		b := uint32(bgra[p])
		g := uint32(bgra[p+1])
		r := uint32(bgra[p+2])
		dst[i] = byte((r + 2*g + b) >> 2)
	}
	return dst
}
