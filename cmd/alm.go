package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// almMaxBatchSize is the most articles the ALM API accepts in one request
const almMaxBatchSize = 50

// almConfig holds the ALM API settings
type almConfig struct {
	URL         string
	BatchSize   int
	Concurrency int
	RateLimit   float64
	Timeout     time.Duration
}

// almClient gets article level metrics from the ALM API, going through
// the metrics cache first
type almClient struct {
	cfg     almConfig
	client  *http.Client
	cache   *metricsCache
	limiter *rate.Limiter
	metrics *serviceMetrics
	log     zerolog.Logger
}

func newALMClient(cfg almConfig, client *http.Client, cache *metricsCache, m *serviceMetrics, log zerolog.Logger) *almClient {
	if cfg.BatchSize <= 0 || cfg.BatchSize > almMaxBatchSize {
		cfg.BatchSize = almMaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &almClient{
		cfg:     cfg,
		client:  client,
		cache:   cache,
		limiter: rate.NewLimiter(limit, cfg.Concurrency),
		metrics: m,
		log:     log,
	}
}

// Fetch returns the metrics for every requested identifier, keyed by the
// identifier as the caller spelled it. Cached records are used as is; the
// rest are requested from ALM in batches. Any failed batch fails the whole
// call. Identifiers ALM knows nothing about come back as empty records.
func (ac *almClient) Fetch(ctx context.Context, ids []string) (map[string]MetricsRecord, error) {
	results := make(map[string]MetricsRecord, len(ids))
	pending := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		key := normalizeID(id)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if rec, ok := ac.cache.Get(id); ok {
			ac.metrics.recordCacheLookup(true)
			results[id] = rec
			continue
		}
		ac.metrics.recordCacheLookup(false)
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return results, nil
	}

	batches := partition(pending, ac.cfg.BatchSize)
	ac.log.Debug().Int("cached", len(results)).Int("pending", len(pending)).Int("batches", len(batches)).
		Msg("fetching alm data")

	fetched := make([][]MetricsRecord, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ac.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			recs, err := ac.fetchBatch(gctx, batch)
			if err != nil {
				return err
			}
			fetched[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, batch := range batches {
		ac.mergeBatch(results, batch, fetched[i])
	}
	return results, nil
}

// mergeBatch adds one batch's records to results under the requested
// spelling of each identifier. Requested identifiers that ALM left out get
// an empty record; records ALM sent for anything else keep ALM's spelling.
func (ac *almClient) mergeBatch(results map[string]MetricsRecord, requested []string, recs []MetricsRecord) {
	want := make(map[string]string, len(requested))
	for _, id := range requested {
		want[normalizeID(id)] = id
	}
	for _, rec := range recs {
		key := normalizeID(rec.DOI)
		id, ok := want[key]
		if !ok {
			ac.log.Warn().Str("doi", rec.DOI).Msg("alm returned data for an article that was not requested")
			results[rec.DOI] = rec
			continue
		}
		delete(want, key)
		results[id] = rec
	}
	for _, id := range requested {
		if _, missing := want[normalizeID(id)]; missing {
			ac.log.Warn().Str("doi", id).Msg("no alm data returned")
			results[id] = MetricsRecord{DOI: id}
		}
	}
}

// fetchBatch makes one ALM request and caches every normalized article
func (ac *almClient) fetchBatch(ctx context.Context, batch []string) ([]MetricsRecord, error) {
	if err := ac.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if ac.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ac.cfg.Timeout)
		defer cancel()
	}

	tgtURL := ac.batchURL(batch)
	ac.metrics.recordBatch()
	body, err := apiGet(ctx, ac.client, ac.log, ac.metrics, "alm", tgtURL)
	if err != nil {
		return nil, err
	}

	var articles []almArticle
	if err := json.Unmarshal(body, &articles); err != nil {
		return nil, &ParseError{URL: tgtURL, Err: err}
	}

	recs := make([]MetricsRecord, 0, len(articles))
	for _, art := range articles {
		if strings.TrimSpace(art.DOI) == "" {
			ac.log.Warn().Msg("skipping alm article without a doi")
			continue
		}
		rec := normalizeArticle(art)
		ac.cache.Put(rec.DOI, rec)
		recs = append(recs, rec)
	}
	return recs, nil
}

func (ac *almClient) batchURL(batch []string) string {
	params := url.Values{}
	params.Set("ids", strings.Join(batch, ","))
	params.Set("info", "event")
	sep := "?"
	if strings.Contains(ac.cfg.URL, "?") {
		sep = "&"
	}
	return ac.cfg.URL + sep + params.Encode()
}

// partition splits ids into consecutive slices of at most size elements
func partition(ids []string, size int) [][]string {
	if size <= 0 {
		size = almMaxBatchSize
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}
