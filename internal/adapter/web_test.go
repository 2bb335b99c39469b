package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/resilience"
	"github.com/sells-group/catalog-engine/internal/tenant"
	"github.com/sells-group/catalog-engine/pkg/reader"
)

type stubReader struct {
	pages map[string]*reader.Page
	errs  map[string]error
	calls []string
}

func (s *stubReader) Fetch(ctx context.Context, url string, opts ...reader.FetchOption) (*reader.Page, error) {
	s.calls = append(s.calls, url)
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	if p, ok := s.pages[url]; ok {
		return p, nil
	}
	return nil, errors.New("no stub page for " + url)
}

func webSource(url string) model.SourceDescriptor {
	return model.SourceDescriptor{ID: "src-1", Type: model.SourceTypeWeb, URL: url}
}

func newWebIterator(t *testing.T, rc reader.Client, src model.SourceDescriptor, cfg model.JobConfig) Iterator {
	t.Helper()
	a := NewWebAdapter(rc, NewLimiters(nil))
	ctx := tenant.WithID(context.Background(), "acme")
	it, err := a.Pages(ctx, src, cfg)
	require.NoError(t, err)
	return it
}

func TestWebIteratorFollowsPagination(t *testing.T) {
	rc := &stubReader{pages: map[string]*reader.Page{
		"https://shop.test/catalog": {
			Content: "Item A $10\n[Siguiente](https://shop.test/catalog?page=2)",
		},
		"https://shop.test/catalog?page=2": {
			Content: "Item B $20\n[Next](https://shop.test/catalog?page=3)",
		},
		"https://shop.test/catalog?page=3": {
			Content: "Item C $30",
		},
	}}

	it := newWebIterator(t, rc, webSource("https://shop.test/catalog"), model.JobConfig{})
	ctx := tenant.WithID(context.Background(), "acme")

	var locators []string
	for {
		p, err := it.Next(ctx)
		require.NoError(t, err)
		if p == nil {
			break
		}
		locators = append(locators, p.Locator)
		assert.Equal(t, len(locators), p.Number)
		assert.NotEmpty(t, p.Content)
	}

	assert.Equal(t, []string{
		"https://shop.test/catalog",
		"https://shop.test/catalog?page=2",
		"https://shop.test/catalog?page=3",
	}, locators)
}

func TestWebIteratorStopsAtMaxPages(t *testing.T) {
	rc := &stubReader{pages: map[string]*reader.Page{
		"https://shop.test/a": {Content: "[next](https://shop.test/b)"},
		"https://shop.test/b": {Content: "[next](https://shop.test/c)"},
		"https://shop.test/c": {Content: "done"},
	}}

	it := newWebIterator(t, rc, webSource("https://shop.test/a"), model.JobConfig{MaxPages: 2})
	ctx := tenant.WithID(context.Background(), "acme")

	p, err := it.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	p, err = it.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)

	p, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Len(t, rc.calls, 2)
}

func TestWebIteratorBreaksPaginationLoops(t *testing.T) {
	// Page B links back to A; the iterator must not refetch a seen URL.
	rc := &stubReader{pages: map[string]*reader.Page{
		"https://shop.test/a": {Content: "[next](https://shop.test/b)"},
		"https://shop.test/b": {Content: "[next](https://shop.test/a)"},
	}}

	it := newWebIterator(t, rc, webSource("https://shop.test/a"), model.JobConfig{})
	ctx := tenant.WithID(context.Background(), "acme")

	for i := 0; i < 2; i++ {
		p, err := it.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, p)
	}
	p, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Len(t, rc.calls, 2)
}

func TestWebIteratorClassifiesFetchErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		check  func(t *testing.T, err error)
	}{
		{
			name: "forbidden is blocked",
			err:  &reader.StatusError{Code: 403, Body: "bot wall"},
			check: func(t *testing.T, err error) {
				var be *resilience.BlockedError
				require.ErrorAs(t, err, &be)
				assert.Equal(t, "shop.test", be.Origin)
				assert.False(t, resilience.IsTransient(err))
			},
		},
		{
			name: "unauthorized is auth",
			err:  &reader.StatusError{Code: 401, Body: "login required"},
			check: func(t *testing.T, err error) {
				var ae *resilience.AuthError
				require.ErrorAs(t, err, &ae)
				assert.False(t, resilience.IsTransient(err))
			},
		},
		{
			name: "server error is transient",
			err:  &reader.StatusError{Code: 500, Body: "boom"},
			check: func(t *testing.T, err error) {
				var te *resilience.TransientError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, 500, te.StatusCode)
				assert.True(t, resilience.IsTransient(err))
			},
		},
		{
			name: "plain error is transient",
			err:  errors.New("connection reset by peer"),
			check: func(t *testing.T, err error) {
				assert.True(t, resilience.IsTransient(err))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := &stubReader{errs: map[string]error{"https://shop.test/catalog": tc.err}}
			it := newWebIterator(t, rc, webSource("https://shop.test/catalog"), model.JobConfig{})
			ctx := tenant.WithID(context.Background(), "acme")

			_, err := it.Next(ctx)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestWebIteratorStopsOnCancel(t *testing.T) {
	rc := &stubReader{pages: map[string]*reader.Page{
		"https://shop.test/a": {Content: "[next](https://shop.test/b)"},
	}}

	it := newWebIterator(t, rc, webSource("https://shop.test/a"), model.JobConfig{})
	ctx, cancel := context.WithCancel(tenant.WithID(context.Background(), "acme"))

	p, err := it.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)

	cancel()
	p, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Len(t, rc.calls, 1)
}

func TestWebAdapterRequiresTenantAndURL(t *testing.T) {
	a := NewWebAdapter(&stubReader{}, NewLimiters(nil))

	_, err := a.Pages(context.Background(), webSource("https://shop.test"), model.JobConfig{})
	assert.ErrorIs(t, err, tenant.ErrMissing)

	ctx := tenant.WithID(context.Background(), "acme")
	_, err = a.Pages(ctx, model.SourceDescriptor{ID: "src-1", Type: model.SourceTypeWeb}, model.JobConfig{})
	assert.ErrorContains(t, err, "no url")
}
