package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/ocr"
)

// DocumentAdapter exposes a document as a lazy sequence of page text
// blocks. PDFs go through the configured OCR extractor; plain text files
// are split on form feeds or yielded whole.
type DocumentAdapter struct {
	extractor ocr.Extractor
}

// NewDocumentAdapter creates a document adapter.
func NewDocumentAdapter(extractor ocr.Extractor) *DocumentAdapter {
	return &DocumentAdapter{extractor: extractor}
}

func (a *DocumentAdapter) Pages(ctx context.Context, src model.SourceDescriptor, cfg model.JobConfig) (Iterator, error) {
	if src.FilePath == "" {
		return nil, eris.Errorf("adapter: document source %s has no file path", src.ID)
	}
	return &documentIterator{adapter: a, src: src, maxPage: cfg.MaxPages}, nil
}

type documentIterator struct {
	adapter *DocumentAdapter
	src     model.SourceDescriptor
	maxPage int
	pages   []ocr.PageText
	loaded  bool
	pos     int
}

func (it *documentIterator) Next(ctx context.Context) (*Page, error) {
	if !it.loaded {
		if err := it.load(ctx); err != nil {
			return nil, err
		}
		it.loaded = true
	}

	if it.pos >= len(it.pages) || (it.maxPage > 0 && it.pos >= it.maxPage) {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, nil
	}

	p := it.pages[it.pos]
	it.pos++
	return &Page{
		Number:  p.Number,
		Locator: "page " + strconv.Itoa(p.Number),
		Content: p.Text,
	}, nil
}

func (it *documentIterator) load(ctx context.Context) error {
	path := it.src.FilePath

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		pages, err := it.adapter.extractor.ExtractPages(ctx, path)
		if err != nil {
			return eris.Wrapf(err, "adapter: extract document %s", it.src.ID)
		}
		it.pages = pages
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "adapter: read document %s", it.src.ID)
	}
	for i, chunk := range strings.Split(string(data), "\f") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		it.pages = append(it.pages, ocr.PageText{Number: i + 1, Text: chunk})
	}
	return nil
}
