// Package ocr extracts text from PDF documents, page by page. Two
// providers: the local pdftotext binary for text-layer PDFs, and the
// Mistral OCR API for scanned documents.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-engine/internal/config"
)

// PageText is one extracted document page.
type PageText struct {
	Number int
	Text   string
}

// Extractor extracts per-page text content from PDF files.
type Extractor interface {
	ExtractPages(ctx context.Context, pdfPath string) ([]PageText, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
