package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/resilience"
)

func feedRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func writeFeed(t *testing.T, name, body string) model.SourceDescriptor {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return model.SourceDescriptor{ID: "feed-1", Type: model.SourceTypeFeed, FilePath: path}
}

func collectRecords(t *testing.T, it Iterator) []map[string]string {
	t.Helper()
	var all []map[string]string
	for {
		p, err := it.Next(context.Background())
		require.NoError(t, err)
		if p == nil {
			return all
		}
		assert.Empty(t, p.Content)
		all = append(all, p.Records...)
	}
}

func TestFeedJSONArray(t *testing.T) {
	src := writeFeed(t, "products.json", `[
		{"name": "Widget", "price": 9.99, "in_stock": true, "sku": "W-1"},
		{"name": "Gadget", "price": 25, "in_stock": false, "sku": null}
	]`)

	a := NewFeedAdapter(feedRetry())
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	records := collectRecords(t, it)
	require.Len(t, records, 2)
	assert.Equal(t, "Widget", records[0]["name"])
	assert.Equal(t, "9.99", records[0]["price"])
	assert.Equal(t, "true", records[0]["in_stock"])
	assert.Equal(t, "25", records[1]["price"])
	assert.Equal(t, "", records[1]["sku"])
}

func TestFeedJSONEnvelope(t *testing.T) {
	src := writeFeed(t, "products.json", `{"total": 2, "items": [{"name": "A"}, {"name": "B"}]}`)

	a := NewFeedAdapter(feedRetry())
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	records := collectRecords(t, it)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0]["name"])
}

func TestFeedCSV(t *testing.T) {
	src := writeFeed(t, "products.csv", "name, price ,sku\nWidget, 9.99 ,W-1\nGadget,25.00,\n")

	a := NewFeedAdapter(feedRetry())
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	records := collectRecords(t, it)
	require.Len(t, records, 2)
	assert.Equal(t, "Widget", records[0]["name"])
	assert.Equal(t, "9.99", records[0]["price"])
	assert.Equal(t, "W-1", records[0]["sku"])
	assert.Equal(t, "", records[1]["sku"])
}

func TestFeedChunksLargeFeeds(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 250; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"name": "item-%d"}`, i)
	}
	sb.WriteString("]")
	src := writeFeed(t, "big.json", sb.String())

	a := NewFeedAdapter(feedRetry())
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	p1, err := it.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p1)
	assert.Len(t, p1.Records, 200)
	assert.Equal(t, "rows 0-199", p1.Locator)
	assert.Equal(t, 1, p1.Number)

	p2, err := it.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p2)
	assert.Len(t, p2.Records, 50)
	assert.Equal(t, "rows 200-249", p2.Locator)

	p3, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p3)
}

func TestFeedFromURLRetriesTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"name": "Widget"}]`)
	}))
	defer srv.Close()

	a := NewFeedAdapter(feedRetry())
	src := model.SourceDescriptor{ID: "feed-url", Type: model.SourceTypeFeed, URL: srv.URL}
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	records := collectRecords(t, it)
	require.Len(t, records, 1)
	assert.Equal(t, "Widget", records[0]["name"])
	assert.Equal(t, int32(2), hits.Load())
}

func TestFeedFromURLTerminalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewFeedAdapter(feedRetry())
	src := model.SourceDescriptor{ID: "feed-url", Type: model.SourceTypeFeed, URL: srv.URL}
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	_, err = it.Next(context.Background())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestFeedSourceWithoutLocation(t *testing.T) {
	a := NewFeedAdapter(feedRetry())
	src := model.SourceDescriptor{ID: "feed-x", Type: model.SourceTypeFeed}
	it, err := a.Pages(context.Background(), src, model.JobConfig{})
	require.NoError(t, err)

	_, err = it.Next(context.Background())
	assert.ErrorContains(t, err, "neither url nor file path")
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "text", stringify("text"))
	assert.Equal(t, "3.5", stringify(3.5))
	assert.Equal(t, "42", stringify(float64(42)))
	assert.Equal(t, "false", stringify(false))
	assert.Equal(t, `["a","b"]`, stringify([]any{"a", "b"}))
}
