package client

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

// Thumbnailer derives a cover thumbnail from a page image.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, page []byte) ([]byte, error)
}

// ImagingThumbnailer fits the page into a box and encodes it as JPEG.
type ImagingThumbnailer struct {
	width   int
	height  int
	quality int
}

func NewThumbnailer(width, height int) *ImagingThumbnailer {
	if width <= 0 {
		width = 400
	}
	if height <= 0 {
		height = 400
	}
	return &ImagingThumbnailer{width: width, height: height, quality: 85}
}

func (t *ImagingThumbnailer) Thumbnail(ctx context.Context, page []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page: %v: %w", err, ErrPermanent)
	}

	thumb := imaging.Fit(img, t.width, t.height, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(t.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Thumbnailer = (*ImagingThumbnailer)(nil)
