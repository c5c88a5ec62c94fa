package client

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// SyntheticIllustrator composes pages locally: the reference photo framed on
// a background tinted from the prompt. It needs no external service, so it
// backs development and tests.
type SyntheticIllustrator struct {
	size int
}

// NewSyntheticIllustrator accepts sizes like "1024x1024"; the first
// dimension is used for a square page.
func NewSyntheticIllustrator(size string) *SyntheticIllustrator {
	side := 512
	if w, _, ok := strings.Cut(size, "x"); ok {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			side = min(n, 1024)
		}
	}
	return &SyntheticIllustrator{size: side}
}

func (s *SyntheticIllustrator) Name() string {
	return ProviderSynthetic
}

func (s *SyntheticIllustrator) Generate(ctx context.Context, prompt string, reference []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	photo, err := imaging.Decode(bytes.NewReader(reference), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference photo: %v: %w", err, ErrPermanent)
	}

	page := imaging.New(s.size, s.size, promptColor(prompt))
	portrait := imaging.Fit(photo, s.size*3/4, s.size*3/4, imaging.Lanczos)
	portrait = imaging.AdjustSaturation(portrait, 25)
	page = imaging.OverlayCenter(page, portrait, 0.9)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, page, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode illustration: %w", err)
	}
	return buf.Bytes(), nil
}

// promptColor derives a stable pastel background from the prompt.
func promptColor(prompt string) color.Color {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := h.Sum32()
	return color.NRGBA{
		R: uint8(160 + sum%96),
		G: uint8(160 + (sum>>8)%96),
		B: uint8(160 + (sum>>16)%96),
		A: 255,
	}
}

var _ IllustrationGenerator = (*SyntheticIllustrator)(nil)
