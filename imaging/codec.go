// Package imaging decodes inbound frame payloads, encodes annotated
// frames back to data URIs, and handles the speed/quality downscale.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

const dataURIPrefix = "data:"

// Codec converts between wire payloads and decoded images.
type Codec struct{}

// DecodeFrame decodes one inbound frame payload. Browsers send either a
// base64 data URI ("data:image/jpeg;base64,...") as a text message or the
// raw compressed bytes as a binary message; both are accepted here.
func (Codec) DecodeFrame(data []byte) (image.Image, error) {
	raw := data
	if bytes.HasPrefix(data, []byte(dataURIPrefix)) {
		comma := bytes.IndexByte(data, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URI: no comma separator")
		}
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)-comma-1))
		n, err := base64.StdEncoding.Decode(decoded, data[comma+1:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
		}
		raw = decoded[:n]
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeDataURI encodes an image as a JPEG base64 data URI, the format
// the browser client renders directly into an <img> element.
func (Codec) EncodeDataURI(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Downscale resizes img so its larger dimension is at most maxDim,
// preserving aspect ratio. Images already within bounds are returned
// unchanged; this never upscales.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return resize.Resize(uint(maxDim), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(maxDim), img, resize.Lanczos3)
}
