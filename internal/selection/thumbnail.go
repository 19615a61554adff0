package selection

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

// MaxThumbnailWidth bounds the width callers may request.
const MaxThumbnailWidth = 1024

// ErrUndecodable is returned when preview bytes are not a decodable image.
var ErrUndecodable = errors.New("selection: preview is not a decodable image")

// Thumbnail scales the image down to fit within width x width and encodes it
// as PNG. Images already smaller are re-encoded at their own size.
func Thumbnail(data []byte, width uint) ([]byte, error) {
	if width == 0 || width > MaxThumbnailWidth {
		return nil, fmt.Errorf("selection: thumbnail width %d out of range", width)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	thumb := resize.Thumbnail(width, width, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("selection: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
