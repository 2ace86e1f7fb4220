package source

import (
	"fmt"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// EncodeQR returns the module matrix for text, one cell per module, quiet zone included.
func EncodeQR(text string) (*gozxing.BitMatrix, error) {
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("encode qr %q: %w", text, err)
	}
	return m, nil
}

// PaintQR draws m into a BGRA canvas of the given width with its top-left
// corner at (x, y), each module scale pixels square. Pixels outside the
// canvas are clipped.
func PaintQR(dst []byte, width, height, x, y, scale int, m *gozxing.BitMatrix) {
	for my := 0; my < m.GetHeight(); my++ {
		for mx := 0; mx < m.GetWidth(); mx++ {
			var v byte = 255
			if m.Get(mx, my) {
				v = 0
			}
			for dy := 0; dy < scale; dy++ {
				py := y + my*scale + dy
				if py < 0 || py >= height {
					continue
				}
				for dx := 0; dx < scale; dx++ {
					px := x + mx*scale + dx
					if px < 0 || px >= width {
						continue
					}
					o := (py*width + px) * types.BytesPerPixel
					dst[o], dst[o+1], dst[o+2], dst[o+3] = v, v, v, 255
				}
			}
		}
	}
}

// FillBGRA sets every pixel of a BGRA buffer to the given grey level.
func FillBGRA(dst []byte, grey byte) {
	for i := 0; i+3 < len(dst); i += types.BytesPerPixel {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = grey, grey, grey, 255
	}
}
