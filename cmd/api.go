package main

// MetricsRequest is the POST body of a metrics request
type MetricsRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,dive,required"`
}

// MetricsResponse maps each requested article identifier to its metrics
type MetricsResponse struct {
	ElapsedMS int64                    `json:"elapsed_ms"`
	Metrics   map[string]MetricsRecord `json:"metrics"`
}

// SearchURLResponse describes the solr request a search would make
type SearchURLResponse struct {
	Mode    string        `json:"mode"`
	Query   string        `json:"q"`
	Filter  string        `json:"fq,omitempty"`
	Clauses []queryClause `json:"clauses,omitempty"`
	Rows    int           `json:"rows"`
	URL     string        `json:"url"`
}

// ErrorResponse is returned for any failed request
type ErrorResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

type providerDetails struct {
	Provider    string `json:"provider"`
	Label       string `json:"label,omitempty"`
	HomepageURL string `json:"homepage_url,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
}

type poolProviders struct {
	Providers []providerDetails `json:"providers"`
}
