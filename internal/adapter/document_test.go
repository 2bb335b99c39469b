package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/ocr"
)

type stubExtractor struct {
	pages []ocr.PageText
	err   error
	calls int
}

func (s *stubExtractor) ExtractPages(ctx context.Context, pdfPath string) ([]ocr.PageText, error) {
	s.calls++
	return s.pages, s.err
}

func TestDocumentIteratorPDF(t *testing.T) {
	ex := &stubExtractor{pages: []ocr.PageText{
		{Number: 1, Text: "Widget A $10.00"},
		{Number: 2, Text: "Widget B $20.00"},
	}}
	a := NewDocumentAdapter(ex)

	src := model.SourceDescriptor{ID: "doc-1", Type: model.SourceTypeDocument, FilePath: "/tmp/catalog.pdf"}
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	p, err := it.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, "page 1", p.Locator)
	assert.Equal(t, "Widget A $10.00", p.Content)
	assert.Empty(t, p.Records)

	p, err = it.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "page 2", p.Locator)

	p, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)

	// Extraction runs once, on first Next.
	assert.Equal(t, 1, ex.calls)
}

func TestDocumentIteratorPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "price-list.txt")
	require.NoError(t, os.WriteFile(path, []byte("first page\fsecond page\f\f"), 0o644))

	a := NewDocumentAdapter(&stubExtractor{})
	src := model.SourceDescriptor{ID: "doc-2", Type: model.SourceTypeDocument, FilePath: path}
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	var texts []string
	for {
		p, err := it.Next(context.Background())
		require.NoError(t, err)
		if p == nil {
			break
		}
		texts = append(texts, p.Content)
	}
	assert.Equal(t, []string{"first page", "second page"}, texts)
}

func TestDocumentIteratorMaxPages(t *testing.T) {
	ex := &stubExtractor{pages: []ocr.PageText{
		{Number: 1, Text: "a"}, {Number: 2, Text: "b"}, {Number: 3, Text: "c"},
	}}
	a := NewDocumentAdapter(ex)

	src := model.SourceDescriptor{ID: "doc-3", Type: model.SourceTypeDocument, FilePath: "/tmp/x.pdf"}
	it, err := a.Pages(context.Background(), src, model.JobConfig{MaxPages: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		p, err := it.Next(context.Background())
		require.NoError(t, err)
		require.NotNil(t, p)
	}
	p, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDocumentAdapterRequiresFilePath(t *testing.T) {
	a := NewDocumentAdapter(&stubExtractor{})
	_, err := a.Pages(context.Background(), model.SourceDescriptor{ID: "doc-4", Type: model.SourceTypeDocument}, model.JobConfig{})
	assert.ErrorContains(t, err, "no file path")
}

func TestDocumentIteratorMissingFile(t *testing.T) {
	a := NewDocumentAdapter(&stubExtractor{})
	src := model.SourceDescriptor{ID: "doc-5", Type: model.SourceTypeDocument, FilePath: "/nonexistent/file.txt"}
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	_, err = it.Next(context.Background())
	assert.Error(t, err)
}
