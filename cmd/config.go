package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServiceConfig defines all of the ALM pool configuration parameters
type ServiceConfig struct {
	Port           int
	SolrURL        string
	SolrFL         string
	ResultsPerPage int
	ALMURL         string
	ALMBatchSize   int
	ALMConcurrency int
	ALMRateLimit   float64
	ALMTimeout     time.Duration
	CacheTTL       time.Duration
	CacheSize      int
	JWTKey         string
	LogLevel       string
	LogFormat      string
}

// LoadConfiguration will load the service configuration from the command
// line, falling back to ALM_POOL_* environment variables (optionally read
// from an env file).
func LoadConfiguration(args []string) (*ServiceConfig, error) {
	fs := pflag.NewFlagSet("alm-pool", pflag.ContinueOnError)
	fs.Int("port", 8080, "ALM pool service port")
	fs.String("solr", "", "Solr select URL")
	fs.String("fl", defaultFieldList, "Solr field list")
	fs.Int("rows", 25, "Search results per page")
	fs.String("alm", "http://alm.plos.org/api/v3/articles", "ALM articles API URL")
	fs.Int("almbatch", almMaxBatchSize, "Articles per ALM request (max 50)")
	fs.Int("almworkers", 4, "ALM batches in flight at once")
	fs.Float64("almrate", 5, "ALM requests per second (0 for no limit)")
	fs.Duration("almtimeout", 15*time.Second, "Timeout for a single ALM request")
	fs.Duration("cachettl", defaultCacheTTL, "How long ALM data is cached")
	fs.Int("cachesize", 100000, "Maximum number of cached ALM records")
	fs.String("jwtkey", "", "JWT signature key")
	fs.String("loglevel", "info", "Log level (debug, info, warn, error)")
	fs.String("logformat", "json", "Log format (json, console)")
	envFile := fs.String("envfile", "", "Optional .env file of ALM_POOL_* settings")
	if err := fs.Parse(longFlags(args)); err != nil {
		return nil, err
	}

	// variables already in the environment are not overridden
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", *envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("ALM_POOL")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	cfg := ServiceConfig{
		Port:           v.GetInt("port"),
		SolrURL:        strings.TrimSpace(v.GetString("solr")),
		SolrFL:         v.GetString("fl"),
		ResultsPerPage: v.GetInt("rows"),
		ALMURL:         strings.TrimSpace(v.GetString("alm")),
		ALMBatchSize:   v.GetInt("almbatch"),
		ALMConcurrency: v.GetInt("almworkers"),
		ALMRateLimit:   v.GetFloat64("almrate"),
		ALMTimeout:     v.GetDuration("almtimeout"),
		CacheTTL:       v.GetDuration("cachettl"),
		CacheSize:      v.GetInt("cachesize"),
		JWTKey:         v.GetString("jwtkey"),
		LogLevel:       v.GetString("loglevel"),
		LogFormat:      v.GetString("logformat"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// longFlags rewrites single dash flags (-port 8080) as long ones so the
// Go flag style used by existing deployments keeps working. There are no
// shorthand flags to collide with.
func longFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			return append(out, args[i:]...)
		}
		if len(a) > 2 && a[0] == '-' && a[1] != '-' && (a[1] < '0' || a[1] > '9') {
			a = "-" + a
		}
		out = append(out, a)
	}
	return out
}

func (cfg *ServiceConfig) validate() error {
	var errs []error
	if cfg.SolrURL == "" {
		errs = append(errs, errors.New("parameter solr is required"))
	}
	if cfg.ALMURL == "" {
		errs = append(errs, errors.New("parameter alm is required"))
	}
	if cfg.JWTKey == "" {
		errs = append(errs, errors.New("parameter jwtkey is required"))
	}
	if cfg.ResultsPerPage <= 0 {
		errs = append(errs, fmt.Errorf("rows must be positive, got %d", cfg.ResultsPerPage))
	}
	if cfg.ALMBatchSize <= 0 || cfg.ALMBatchSize > almMaxBatchSize {
		errs = append(errs, fmt.Errorf("almbatch must be between 1 and %d, got %d", almMaxBatchSize, cfg.ALMBatchSize))
	}
	if cfg.ALMConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("almworkers must be positive, got %d", cfg.ALMConcurrency))
	}
	if cfg.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cachesize must be positive, got %d", cfg.CacheSize))
	}
	return errors.Join(errs...)
}

func (cfg *ServiceConfig) log(l zerolog.Logger) {
	l.Info().Msgf("[CONFIG] port          = [%d]", cfg.Port)
	l.Info().Msgf("[CONFIG] solr          = [%s]", cfg.SolrURL)
	l.Info().Msgf("[CONFIG] fl            = [%s]", cfg.SolrFL)
	l.Info().Msgf("[CONFIG] rows          = [%d]", cfg.ResultsPerPage)
	l.Info().Msgf("[CONFIG] alm           = [%s]", cfg.ALMURL)
	l.Info().Msgf("[CONFIG] almbatch      = [%d]", cfg.ALMBatchSize)
	l.Info().Msgf("[CONFIG] almworkers    = [%d]", cfg.ALMConcurrency)
	l.Info().Msgf("[CONFIG] almrate       = [%.2f]", cfg.ALMRateLimit)
	l.Info().Msgf("[CONFIG] almtimeout    = [%s]", cfg.ALMTimeout)
	l.Info().Msgf("[CONFIG] cachettl      = [%s]", cfg.CacheTTL)
	l.Info().Msgf("[CONFIG] cachesize     = [%d]", cfg.CacheSize)
}
