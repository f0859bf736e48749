package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ProvidersHandler returns the list of metrics providers for this pool
func (svc *ServiceContext) providersHandler(c *gin.Context) {
	p := poolProviders{Providers: []providerDetails{
		{Provider: "plos", Label: "PLOS", HomepageURL: "https://plos.org"},
		{Provider: "pmc", Label: "PubMed Central", HomepageURL: "https://www.ncbi.nlm.nih.gov/pmc/"},
		{Provider: "crossref", Label: "CrossRef", HomepageURL: "https://www.crossref.org"},
		{Provider: "scopus", Label: "Scopus", HomepageURL: "https://www.scopus.com"},
	}}
	c.JSON(http.StatusOK, p)
}

// searchParams splits the request query into the single valued search form
// fields and the (possibly repeated) journal filter
func searchParams(c *gin.Context) (map[string]string, []string) {
	query := c.Request.URL.Query()
	params := make(map[string]string, len(query))
	var journals []string
	for k, vals := range query {
		switch k {
		case filterJournalsKey, filterJournalsKey + "[]":
			for _, v := range vals {
				journals = append(journals, strings.Split(v, ",")...)
			}
		case "fl":
			// field list, not a search field
		default:
			if len(vals) > 0 {
				params[k] = vals[0]
			}
		}
	}
	return params, journals
}

func (svc *ServiceContext) newQuery(c *gin.Context) *solrQuery {
	params, journals := searchParams(c)
	fl := c.Query("fl")
	if fl == "" {
		fl = svc.Solr.FL
	}
	return newSolrQuery(svc.Solr.URL, params, journals, fl, svc.Solr.PageSize)
}

// searchURL reports the solr request a search would make without making it
func (svc *ServiceContext) searchURL(c *gin.Context) {
	sq := svc.newQuery(c)
	tgtURL := sq.URL()
	resp := SearchURLResponse{
		Mode:    sq.Mode().String(),
		Query:   sq.query(),
		Filter:  sq.Filter(),
		Clauses: sq.Clauses(),
		Rows:    sq.Rows(),
		URL:     tgtURL,
	}
	c.JSON(http.StatusOK, resp)
}

// Search turns the search form parameters into a solr query, runs it and
// returns the solr response
func (svc *ServiceContext) search(c *gin.Context) {
	log := svc.logger(c)
	sq := svc.newQuery(c)
	tgtURL := sq.URL()
	log.Info().Str("mode", sq.Mode().String()).Msgf("Solr query: %s", sq.query())

	body, err := apiGet(c.Request.Context(), svc.HTTPClient, log, svc.Metrics, "solr", tgtURL)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			c.JSON(reqErr.StatusCode, ErrorResponse{Status: "search failed", StatusCode: reqErr.StatusCode, Message: reqErr.Message})
			return
		}
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Status: "search failed", Message: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// getMetrics handles GET /api/metrics?ids=a,b,c
func (svc *ServiceContext) getMetrics(c *gin.Context) {
	var ids []string
	for _, v := range c.QueryArray("ids") {
		for _, id := range strings.Split(v, ",") {
			if strings.TrimSpace(id) != "" {
				ids = append(ids, strings.TrimSpace(id))
			}
		}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "bad request", Message: "ids parameter is required"})
		return
	}
	svc.respondMetrics(c, ids)
}

// postMetrics handles a POST of a MetricsRequest
func (svc *ServiceContext) postMetrics(c *gin.Context) {
	var req MetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log := svc.logger(c)
		log.Warn().Err(err).Msg("invalid metrics request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "bad request", Message: err.Error()})
		return
	}
	svc.respondMetrics(c, req.IDs)
}

// respondMetrics fetches the metrics for ids. Metrics only supplement a
// search, so any failure is reported as metrics being unavailable.
func (svc *ServiceContext) respondMetrics(c *gin.Context, ids []string) {
	log := svc.logger(c)
	start := time.Now()
	metrics, err := svc.ALM.Fetch(c.Request.Context(), ids)
	if err != nil {
		resp := ErrorResponse{Status: "metrics unavailable", Message: err.Error()}
		var reqErr *RequestError
		var parseErr *ParseError
		switch {
		case errors.As(err, &reqErr):
			resp.StatusCode = reqErr.StatusCode
			log.Error().Int("status", reqErr.StatusCode).Msgf("ALM request failed: %s", reqErr.Message)
		case errors.As(err, &parseErr):
			log.Error().Err(parseErr.Err).Msgf("Unable to parse ALM response from %s", parseErr.URL)
		default:
			log.Error().Err(err).Msg("ALM request failed")
		}
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, MetricsResponse{ElapsedMS: time.Since(start).Milliseconds(), Metrics: metrics})
}
