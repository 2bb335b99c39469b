package adapter

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/resilience"
)

// feedChunkSize bounds how many records one feed page carries.
const feedChunkSize = 200

// FeedAdapter ingests structured JSON or CSV feeds from a file or URL.
// Feed records arrive pre-structured, so pages carry Records and skip
// recognition entirely.
type FeedAdapter struct {
	http  *http.Client
	retry resilience.RetryConfig
}

// NewFeedAdapter creates a feed adapter.
func NewFeedAdapter(retry resilience.RetryConfig) *FeedAdapter {
	return &FeedAdapter{
		http:  &http.Client{},
		retry: retry,
	}
}

func (a *FeedAdapter) Pages(ctx context.Context, src model.SourceDescriptor, cfg model.JobConfig) (Iterator, error) {
	return &feedIterator{adapter: a, src: src}, nil
}

type feedIterator struct {
	adapter *FeedAdapter
	src     model.SourceDescriptor
	records []map[string]string
	loaded  bool
	pos     int
	page    int
}

func (it *feedIterator) Next(ctx context.Context) (*Page, error) {
	if !it.loaded {
		records, err := it.adapter.load(ctx, it.src)
		if err != nil {
			return nil, err
		}
		it.records = records
		it.loaded = true
	}

	if it.pos >= len(it.records) || ctx.Err() != nil {
		return nil, nil
	}

	end := it.pos + feedChunkSize
	if end > len(it.records) {
		end = len(it.records)
	}
	chunk := it.records[it.pos:end]
	locator := "rows " + strconv.Itoa(it.pos) + "-" + strconv.Itoa(end-1)
	it.pos = end
	it.page++

	return &Page{Number: it.page, Locator: locator, Records: chunk}, nil
}

func (a *FeedAdapter) load(ctx context.Context, src model.SourceDescriptor) ([]map[string]string, error) {
	raw, err := a.readRaw(ctx, src)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return parseJSONFeed(raw)
	}
	return parseCSVFeed(raw)
}

func (a *FeedAdapter) readRaw(ctx context.Context, src model.SourceDescriptor) ([]byte, error) {
	if src.FilePath != "" {
		data, err := os.ReadFile(src.FilePath)
		return data, eris.Wrapf(err, "adapter: read feed %s", src.ID)
	}
	if src.URL == "" {
		return nil, eris.Errorf("adapter: feed source %s has neither url nor file path", src.ID)
	}

	cfg := a.retry
	cfg.OnRetry = resilience.RetryLogger(src.ID, "fetch feed")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "adapter: create feed request")
		}
		resp, err := a.http.Do(req)
		if err != nil {
			return nil, &resilience.TransientError{Err: err}
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &resilience.TransientError{Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, &resilience.TransientError{Err: eris.Errorf("adapter: feed status %d", resp.StatusCode), StatusCode: resp.StatusCode}
			}
			return nil, eris.Errorf("adapter: feed %s returned %d", src.ID, resp.StatusCode)
		}
		return body, nil
	})
}

func parseJSONFeed(raw []byte) ([]map[string]string, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		// Some feeds wrap the array in an envelope object; take the first
		// array-valued key.
		var envelope map[string]json.RawMessage
		if envErr := json.Unmarshal(raw, &envelope); envErr != nil {
			return nil, eris.Wrap(err, "adapter: parse json feed")
		}
		for _, v := range envelope {
			if json.Unmarshal(v, &items) == nil && len(items) > 0 {
				break
			}
		}
		if len(items) == 0 {
			return nil, eris.Wrap(err, "adapter: parse json feed")
		}
	}

	records := make([]map[string]string, 0, len(items))
	for _, item := range items {
		rec := make(map[string]string, len(item))
		for k, v := range item {
			rec[k] = stringify(v)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseCSVFeed(raw []byte) ([]map[string]string, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "adapter: read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "adapter: read csv row")
		}
		rec := make(map[string]string, len(header))
		for i, v := range row {
			if i < len(header) {
				rec[header[i]] = strings.TrimSpace(v)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
