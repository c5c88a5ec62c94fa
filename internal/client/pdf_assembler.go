package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// PDFAssembler binds page images, in order, into a single PDF.
type PDFAssembler interface {
	Assemble(ctx context.Context, pages [][]byte) ([]byte, error)
}

var disablePDFConfigDir sync.Once

// PdfcpuAssembler lays each image out full-page with pdfcpu.
type PdfcpuAssembler struct{}

func NewPDFAssembler() *PdfcpuAssembler {
	// pdfcpu otherwise writes a config directory under the user's home.
	disablePDFConfigDir.Do(api.DisableConfigDir)
	return &PdfcpuAssembler{}
}

func (a *PdfcpuAssembler) Assemble(ctx context.Context, pages [][]byte) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to assemble: %w", ErrPermanent)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imgs := make([]io.Reader, len(pages))
	for i, p := range pages {
		imgs[i] = bytes.NewReader(p)
	}

	imp := pdfcpu.DefaultImportConfig()
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, imgs, imp, nil); err != nil {
		return nil, fmt.Errorf("failed to assemble pdf: %v: %w", err, ErrPermanent)
	}

	n, err := api.PageCount(bytes.NewReader(out.Bytes()), nil)
	if err != nil {
		return nil, fmt.Errorf("assembled pdf is unreadable: %w", err)
	}
	if n != len(pages) {
		return nil, fmt.Errorf("assembled pdf has %d pages, want %d", n, len(pages))
	}
	return out.Bytes(), nil
}

var _ PDFAssembler = (*PdfcpuAssembler)(nil)
