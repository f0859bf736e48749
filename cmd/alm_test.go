package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeALM is an httptest stand-in for the ALM articles API
type fakeALM struct {
	t       *testing.T
	hits    atomic.Int32
	mu      sync.Mutex
	batches [][]string
	omit    map[string]bool
	extra   []string
	status  int
	body    string
	delay   time.Duration
	lower   bool
}

func (f *fakeALM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	assert.Equal(f.t, "event", r.URL.Query().Get("info"))
	ids := strings.Split(r.URL.Query().Get("ids"), ",")
	f.mu.Lock()
	f.batches = append(f.batches, ids)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		fmt.Fprint(w, f.body)
		return
	}
	if f.body != "" {
		fmt.Fprint(w, f.body)
		return
	}

	articles := make([]map[string]any, 0, len(ids))
	for _, id := range append(ids, f.extra...) {
		if f.omit[id] {
			continue
		}
		doi := id
		if f.lower {
			doi = strings.ToLower(id)
		}
		articles = append(articles, map[string]any{
			"doi": doi,
			"sources": []map[string]any{
				{"name": "counter", "events": []map[string]any{{"html_views": "2", "pdf_views": "1"}}},
				{"name": "crossref", "metrics": map[string]any{"total": 4}},
			},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(f.t, json.NewEncoder(w).Encode(articles))
}

func (f *fakeALM) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, 0, len(f.batches))
	for _, b := range f.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func newTestALM(t *testing.T, fake *fakeALM, concurrency int) (*almClient, *serviceMetrics) {
	t.Helper()
	fake.t = t
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cache, err := newMetricsCache(1000, time.Hour, nil)
	require.NoError(t, err)
	m := newServiceMetrics(prometheus.NewRegistry())
	cfg := almConfig{URL: srv.URL + "/api/v3/articles", BatchSize: almMaxBatchSize, Concurrency: concurrency, Timeout: 5 * time.Second}
	return newALMClient(cfg, srv.Client(), cache, m, zerolog.Nop()), m
}

func makeDOIs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("10.1371/journal.pone.%07d", i)
	}
	return ids
}

func TestFetchBatches(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		workers int
		want    int
	}{
		{"one", 1, 1, 1},
		{"exactly one batch", 50, 1, 1},
		{"one over", 51, 1, 2},
		{"several sequential", 120, 1, 3},
		{"several parallel", 200, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeALM{}
			ac, m := newTestALM(t, fake, tt.workers)
			ids := makeDOIs(tt.count)

			got, err := ac.Fetch(context.Background(), ids)
			require.NoError(t, err)
			assert.Equal(t, tt.want, int(fake.hits.Load()))
			assert.Equal(t, float64(tt.want), testutil.ToFloat64(m.ALMBatches))
			for _, size := range fake.batchSizes() {
				assert.LessOrEqual(t, size, almMaxBatchSize)
			}

			require.Len(t, got, tt.count)
			for _, id := range ids {
				rec := got[id]
				assert.Equal(t, id, rec.DOI)
				assert.Equal(t, 2, rec.PLOSHTML)
				assert.Equal(t, 4, rec.CrossrefCitations)
				assert.True(t, rec.UsageDataPresent)
			}
		})
	}
}

func TestFetchUsesCache(t *testing.T) {
	fake := &fakeALM{}
	ac, m := newTestALM(t, fake, 2)
	ids := makeDOIs(3)

	first, err := ac.Fetch(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, int32(1), fake.hits.Load())

	second, err := ac.Fetch(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.hits.Load(), "cached ids must not be requested again")
	assert.Equal(t, first, second)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
}

func TestFetchOnlyRequestsUncached(t *testing.T) {
	fake := &fakeALM{}
	ac, _ := newTestALM(t, fake, 1)
	ac.cache.Put("10.1/cached", MetricsRecord{DOI: "10.1/cached", Wikipedia: 7, BlogsDataPresent: true})

	got, err := ac.Fetch(context.Background(), []string{"10.1/cached", "10.1/new"})
	require.NoError(t, err)
	require.Equal(t, int32(1), fake.hits.Load())
	assert.Equal(t, [][]string{{"10.1/new"}}, fake.batches)
	assert.Equal(t, 7, got["10.1/cached"].Wikipedia)
	assert.Equal(t, 2, got["10.1/new"].PLOSHTML)
}

func TestFetchSkipsDuplicatesAndBlanks(t *testing.T) {
	fake := &fakeALM{}
	ac, _ := newTestALM(t, fake, 1)

	got, err := ac.Fetch(context.Background(), []string{"10.1/a", " 10.1/a ", "", "  "})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"10.1/a"}}, fake.batches)
	assert.Len(t, got, 1)
}

func TestFetchNothing(t *testing.T) {
	fake := &fakeALM{}
	ac, _ := newTestALM(t, fake, 1)

	got, err := ac.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, fake.hits.Load())
}

func TestFetchHTTPError(t *testing.T) {
	fake := &fakeALM{status: http.StatusInternalServerError, body: "boom"}
	ac, _ := newTestALM(t, fake, 1)

	got, err := ac.Fetch(context.Background(), makeDOIs(3))
	require.Error(t, err)
	assert.Nil(t, got)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	assert.Equal(t, "boom", reqErr.Message)

	var parseErr *ParseError
	assert.False(t, errors.As(err, &parseErr))
	assert.Zero(t, ac.cache.Len())
}

func TestFetchFailsWholeCallOnOneBadBatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		articles := make([]almArticle, 0, len(ids))
		for _, id := range ids {
			articles = append(articles, almArticle{DOI: id})
		}
		_ = json.NewEncoder(w).Encode(articles)
	}))
	t.Cleanup(srv.Close)

	cache, err := newMetricsCache(1000, time.Hour, nil)
	require.NoError(t, err)
	ac := newALMClient(almConfig{URL: srv.URL, Concurrency: 1}, srv.Client(), cache, nil, zerolog.Nop())

	got, err := ac.Fetch(context.Background(), makeDOIs(150))
	require.Error(t, err)
	assert.Nil(t, got)
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadGateway, reqErr.StatusCode)
}

func TestFetchParseError(t *testing.T) {
	fake := &fakeALM{body: "<html>not json</html>"}
	ac, _ := newTestALM(t, fake, 1)

	_, err := ac.Fetch(context.Background(), makeDOIs(2))
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, parseErr.URL, "info=event")
	var reqErr *RequestError
	assert.False(t, errors.As(err, &reqErr))
}

func TestFetchMissingIdentifier(t *testing.T) {
	fake := &fakeALM{omit: map[string]bool{"10.1/gone": true}}
	ac, _ := newTestALM(t, fake, 1)

	got, err := ac.Fetch(context.Background(), []string{"10.1/here", "10.1/gone"})
	require.NoError(t, err)
	assert.Equal(t, MetricsRecord{DOI: "10.1/gone"}, got["10.1/gone"])
	assert.True(t, got["10.1/here"].UsageDataPresent)

	_, cached := ac.cache.Get("10.1/gone")
	assert.False(t, cached, "no data records are not cached")
	_, cached = ac.cache.Get("10.1/here")
	assert.True(t, cached)
}

func TestFetchUnrequestedIdentifier(t *testing.T) {
	fake := &fakeALM{extra: []string{"10.1/surprise"}}
	ac, _ := newTestALM(t, fake, 1)

	got, err := ac.Fetch(context.Background(), []string{"10.1/asked"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "10.1/surprise", got["10.1/surprise"].DOI)
}

func TestFetchIdentifierCase(t *testing.T) {
	fake := &fakeALM{lower: true}
	ac, _ := newTestALM(t, fake, 1)
	ids := []string{"10.1371/journal.PONE.0000001", "10.1371/journal.pone.0000002"}

	got, err := ac.Fetch(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, got, 2)
	rec := got["10.1371/journal.PONE.0000001"]
	assert.Equal(t, 2, rec.PLOSHTML)
	assert.True(t, rec.CitationDataPresent)

	// any spelling of a cached identifier is served without a request
	got, err = ac.Fetch(context.Background(), []string{"10.1371/JOURNAL.PONE.0000001", " 10.1371/journal.pone.0000002 "})
	require.NoError(t, err)
	assert.Equal(t, 2, got["10.1371/JOURNAL.PONE.0000001"].PLOSHTML)
	assert.Equal(t, 2, got["10.1371/journal.pone.0000002"].PLOSHTML)
	assert.Equal(t, int32(1), fake.hits.Load())
}

func TestFetchSkipsCaseDuplicates(t *testing.T) {
	fake := &fakeALM{}
	ac, _ := newTestALM(t, fake, 1)

	got, err := ac.Fetch(context.Background(), []string{"10.1/ABC", "10.1/abc"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []int{1}, fake.batchSizes())
}

func TestFetchCancelled(t *testing.T) {
	fake := &fakeALM{}
	ac, _ := newTestALM(t, fake, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ac.Fetch(ctx, makeDOIs(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchTimeout(t *testing.T) {
	fake := &fakeALM{delay: time.Second}
	ac, _ := newTestALM(t, fake, 1)
	ac.cfg.Timeout = 20 * time.Millisecond

	_, err := ac.Fetch(context.Background(), makeDOIs(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatchURL(t *testing.T) {
	ac := newALMClient(almConfig{URL: "http://alm.example.org/api/v3/articles"}, http.DefaultClient, nil, nil, zerolog.Nop())
	assert.Equal(t, "http://alm.example.org/api/v3/articles?ids=10.1%2Fa%2C10.1%2Fb&info=event",
		ac.batchURL([]string{"10.1/a", "10.1/b"}))

	ac = newALMClient(almConfig{URL: "http://alm.example.org/api?api_key=x"}, http.DefaultClient, nil, nil, zerolog.Nop())
	assert.Equal(t, "http://alm.example.org/api?api_key=x&ids=10.1%2Fa&info=event", ac.batchURL([]string{"10.1/a"}))
}

func TestNewALMClientDefaults(t *testing.T) {
	ac := newALMClient(almConfig{BatchSize: 500}, http.DefaultClient, nil, nil, zerolog.Nop())
	assert.Equal(t, almMaxBatchSize, ac.cfg.BatchSize)
	assert.Equal(t, 1, ac.cfg.Concurrency)
}

func TestPartition(t *testing.T) {
	tests := []struct {
		n    int
		size int
		want []int
	}{
		{0, 50, []int{}},
		{1, 50, []int{1}},
		{50, 50, []int{50}},
		{101, 50, []int{50, 50, 1}},
		{7, 3, []int{3, 3, 1}},
		{3, 0, []int{3}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_by_%d", tt.n, tt.size), func(t *testing.T) {
			ids := makeDOIs(tt.n)
			batches := partition(ids, tt.size)
			sizes := make([]int, 0, len(batches))
			var joined []string
			for _, b := range batches {
				sizes = append(sizes, len(b))
				joined = append(joined, b...)
			}
			assert.Equal(t, tt.want, sizes)
			if tt.n > 0 {
				assert.Equal(t, ids, joined)
			}
		})
	}
}
