package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/uvalib/virgo4-api/v4api"
	"github.com/uvalib/virgo4-jwt/v4jwt"
)

// SolrConfig contains the settings used to build solr search urls
type SolrConfig struct {
	URL      string
	FL       string
	PageSize int
}

// ServiceContext contains common data used by all handlers
type ServiceContext struct {
	Version    string
	Port       int
	JWTKey     string
	HTTPClient *http.Client
	Solr       SolrConfig
	ALM        *almClient
	Cache      *metricsCache
	Metrics    *serviceMetrics
	Registry   *prometheus.Registry
	Log        zerolog.Logger
}

// RequestError contains http status code and message for a failed upstream request
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// ParseError is returned when an upstream response body is not the JSON we expect
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse response from %s: %s", e.URL, e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// InitializeService will initialize the service context based on the config parameters.
func InitializeService(version string, cfg *ServiceConfig, log zerolog.Logger) (*ServiceContext, error) {
	log.Info().Msg("Initializing Service")
	svc := ServiceContext{Version: version, Port: cfg.Port, JWTKey: cfg.JWTKey, Log: log}
	svc.Solr = SolrConfig{URL: cfg.SolrURL, FL: cfg.SolrFL, PageSize: cfg.ResultsPerPage}

	svc.Registry = prometheus.NewRegistry()
	svc.Metrics = newServiceMetrics(svc.Registry)

	log.Info().Msg("Create HTTP Client")
	defaultTransport := &http.Transport{
		Dial: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 600 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 2 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
	}
	svc.HTTPClient = &http.Client{
		Transport: defaultTransport,
		Timeout:   30 * time.Second,
	}

	log.Info().Msg("Create ALM cache")
	cache, err := newMetricsCache(cfg.CacheSize, cfg.CacheTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create alm cache: %w", err)
	}
	svc.Cache = cache

	almCfg := almConfig{
		URL:         cfg.ALMURL,
		BatchSize:   cfg.ALMBatchSize,
		Concurrency: cfg.ALMConcurrency,
		RateLimit:   cfg.ALMRateLimit,
		Timeout:     cfg.ALMTimeout,
	}
	svc.ALM = newALMClient(almCfg, svc.HTTPClient, svc.Cache, svc.Metrics, log)

	return &svc, nil
}

// IgnoreFavicon is a dummy to handle browser favicon requests without warnings
func (svc *ServiceContext) ignoreFavicon(c *gin.Context) {
	// no-op; just here to prevent errors when request made from browser
}

// GetVersion reports the version of the serivce
func (svc *ServiceContext) getVersion(c *gin.Context) {
	build := "unknown"
	// working directory is the bin directory, and build tag is in the root
	files, _ := filepath.Glob("../buildtag.*")
	if len(files) == 1 {
		build = strings.Replace(files[0], "../buildtag.", "", 1)
	}

	vMap := make(map[string]string)
	vMap["version"] = svc.Version
	vMap["build"] = build
	c.JSON(http.StatusOK, vMap)
}

// HealthCheck reports the health of the serivce
func (svc *ServiceContext) healthCheck(c *gin.Context) {
	type hcResp struct {
		Healthy bool   `json:"healthy"`
		Message string `json:"message,omitempty"`
	}
	hcMap := make(map[string]hcResp)
	hcMap["solr"] = hcResp{Healthy: svc.Solr.URL != ""}
	hcMap["alm"] = hcResp{Healthy: svc.ALM != nil, Message: fmt.Sprintf("%d cached records", svc.Cache.Len())}

	c.JSON(http.StatusOK, hcMap)
}

// IdentifyHandler returns identity information for this pool
func (svc *ServiceContext) identifyHandler(c *gin.Context) {
	resp := v4api.PoolIdentity{Attributes: make([]v4api.PoolAttribute, 0)}
	resp.Name = "Article Level Metrics"
	resp.Description = "Scholarly articles with usage, citation and social media metrics "
	resp.Description += "gathered from the publisher, PubMed Central, CrossRef, Scopus and social networks."
	resp.Mode = "record"

	resp.Attributes = append(resp.Attributes, v4api.PoolAttribute{Name: "facets", Supported: false})
	resp.Attributes = append(resp.Attributes, v4api.PoolAttribute{Name: "sorting", Supported: true})
	resp.Attributes = append(resp.Attributes, v4api.PoolAttribute{Name: "metrics", Supported: true})

	resp.SortOptions = make([]v4api.SortOption, 0, len(sortOptions))
	for _, opt := range sortOptions {
		resp.SortOptions = append(resp.SortOptions, v4api.SortOption{ID: opt.Value, Label: opt.Label})
	}

	c.JSON(http.StatusOK, resp)
}

// getBearerToken is a helper to extract the user auth token from the Auth header
func getBearerToken(authorization string) (string, error) {
	components := strings.Split(strings.Join(strings.Fields(authorization), " "), " ")

	// must have two components, the first of which is "Bearer", and the second a non-empty token
	if len(components) != 2 || components[0] != "Bearer" || components[1] == "" {
		return "", fmt.Errorf("Invalid Authorization header: [%s]", authorization)
	}

	return components[1], nil
}

// AuthMiddleware is a middleware handler that verifies any user Bearer
// token sent in the Authorization header.
func (svc *ServiceContext) authMiddleware(c *gin.Context) {
	log := svc.logger(c)
	tokenStr, err := getBearerToken(c.Request.Header.Get("Authorization"))
	if err != nil {
		log.Debug().Msg("skipping auth")
		return
	}

	if tokenStr == "undefined" {
		log.Warn().Msg("Authentication failed; bearer token is undefined")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	v4Claims, jwtErr := v4jwt.Validate(tokenStr, svc.JWTKey)
	if jwtErr != nil {
		log.Warn().Err(jwtErr).Msg("JWT signature is invalid")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	// add the parsed claims and signed JWT string to the request context so other handlers can access it.
	c.Set("jwt", tokenStr)
	c.Set("claims", v4Claims)
}

// apiGet sends a GET to an upstream service and returns the response body.
// Failures come back as *RequestError, or as the context error when the
// request was cancelled or timed out.
func apiGet(ctx context.Context, client *http.Client, log zerolog.Logger, m *serviceMetrics, upstream string, tgtURL string) ([]byte, error) {
	log.Info().Str("upstream", upstream).Msgf("%s GET request: %s", upstream, tgtURL)
	startTime := time.Now()
	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tgtURL, nil)
	if err != nil {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	getReq.Header.Set("Accept", "application/json")
	rawResp, rawErr := client.Do(getReq)
	resp, reqErr := handleAPIResponse(tgtURL, rawResp, rawErr)
	elapsed := time.Since(startTime)
	elapsedMS := int64(elapsed / time.Millisecond)

	if reqErr != nil {
		status := reqErr.StatusCode
		if rawErr != nil {
			status = 0
		}
		m.recordUpstream(upstream, status, elapsed)
		log.Error().Str("upstream", upstream).Int("status", reqErr.StatusCode).Int64("elapsed_ms", elapsedMS).
			Msgf("Failed response from GET %s: %s", tgtURL, reqErr.Message)
		if ctxErr := ctx.Err(); ctxErr != nil && rawErr != nil {
			return nil, fmt.Errorf("GET %s: %w", tgtURL, ctxErr)
		}
		return nil, reqErr
	}

	m.recordUpstream(upstream, http.StatusOK, elapsed)
	log.Info().Str("upstream", upstream).Int64("elapsed_ms", elapsedMS).Msgf("Successful response from GET %s", tgtURL)
	return resp, nil
}

func handleAPIResponse(URL string, resp *http.Response, err error) ([]byte, *RequestError) {
	if err != nil {
		status := http.StatusBadRequest
		errMsg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Timeout") {
			status = http.StatusRequestTimeout
			errMsg = fmt.Sprintf("%s timed out", URL)
		} else if strings.Contains(err.Error(), "connection refused") {
			status = http.StatusServiceUnavailable
			errMsg = fmt.Sprintf("%s refused connection", URL)
		}
		return nil, &RequestError{StatusCode: status, Message: errMsg}
	}

	defer resp.Body.Close()
	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
	}
	if readErr != nil {
		return nil, &RequestError{StatusCode: http.StatusBadGateway, Message: readErr.Error()}
	}
	return bodyBytes, nil
}
