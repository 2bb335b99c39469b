package adapter

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/resilience"
	"github.com/sells-group/catalog-engine/internal/tenant"
	"github.com/sells-group/catalog-engine/pkg/reader"
)

// WebAdapter fetches listing pages through the reader service and follows
// pagination links until no further-page indicator is found or the page
// cap is reached.
type WebAdapter struct {
	reader   reader.Client
	limiters *Limiters
}

// NewWebAdapter creates a web adapter.
func NewWebAdapter(rc reader.Client, limiters *Limiters) *WebAdapter {
	return &WebAdapter{reader: rc, limiters: limiters}
}

func (a *WebAdapter) Pages(ctx context.Context, src model.SourceDescriptor, cfg model.JobConfig) (Iterator, error) {
	if src.URL == "" {
		return nil, eris.Errorf("adapter: web source %s has no url", src.ID)
	}
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return &webIterator{
		adapter: a,
		src:     src,
		maxPage: cfg.MaxPages,
		nextURL: src.URL,
		tenant:  tid,
		seen:    map[string]bool{},
	}, nil
}

type webIterator struct {
	adapter *WebAdapter
	src     model.SourceDescriptor
	maxPage int
	nextURL string
	tenant  string
	fetched int
	seen    map[string]bool
}

// nextLink matches pagination links in rendered markdown, in English and
// Spanish storefront variants.
var nextLink = regexp.MustCompile(`(?i)\[\s*(?:next|siguiente|more|ver m[aá]s|»|›|>)\s*\]\((https?://[^)\s]+)\)`)

func (it *webIterator) Next(ctx context.Context) (*Page, error) {
	if it.nextURL == "" || (it.maxPage > 0 && it.fetched >= it.maxPage) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		// Cancellation asks the iterator to stop fetching further pages;
		// pages already yielded are unaffected.
		return nil, nil
	}

	url := it.nextURL
	it.seen[url] = true

	if err := it.adapter.limiters.For(it.tenant).Wait(ctx); err != nil {
		return nil, nil
	}

	page, err := it.adapter.reader.Fetch(ctx, url, reader.WithScroll())
	if err != nil {
		return nil, classifyFetchErr(it.src.Origin(), err)
	}

	it.fetched++
	it.nextURL = ""
	if m := nextLink.FindStringSubmatch(page.Content); m != nil && !it.seen[m[1]] {
		it.nextURL = m[1]
	}

	zap.L().Debug("web page fetched",
		zap.String("source", it.src.ID),
		zap.String("url", url),
		zap.Int("page", it.fetched),
		zap.Bool("has_next", it.nextURL != ""),
	)

	return &Page{
		Number:  it.fetched,
		Locator: url,
		Content: page.Content,
	}, nil
}

// classifyFetchErr maps reader failures into the error taxonomy: blocked
// and auth responses surface immediately, everything else is transient
// (the reader has already exhausted its own retry budget by now).
func classifyFetchErr(origin string, err error) error {
	var se *reader.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusUnauthorized, http.StatusProxyAuthRequired:
			return &resilience.AuthError{Origin: origin, Err: err}
		case http.StatusForbidden, http.StatusUnavailableForLegalReasons:
			return &resilience.BlockedError{Origin: origin, Err: err}
		}
		return &resilience.TransientError{Err: err, StatusCode: se.Code}
	}
	return &resilience.TransientError{Err: err}
}
