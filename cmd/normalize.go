package main

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// MetricsRecord is the flattened article level metrics for one article
type MetricsRecord struct {
	DOI string `json:"doi"`

	PLOSHTML         int  `json:"plos_html"`
	PLOSPDF          int  `json:"plos_pdf"`
	PLOSXML          int  `json:"plos_xml"`
	PMCViews         int  `json:"pmc_views"`
	PMCPDF           int  `json:"pmc_pdf"`
	TotalUsage       int  `json:"total_usage"`
	UsageDataPresent bool `json:"usage_data_present"`

	PMCCitations        int  `json:"pmc_citations"`
	CrossrefCitations   int  `json:"crossref_citations"`
	ScopusCitations     int  `json:"scopus_citations"`
	CitationDataPresent bool `json:"citation_data_present"`

	CiteULike                int  `json:"citeulike"`
	Connotea                 int  `json:"connotea"`
	Mendeley                 int  `json:"mendeley"`
	Twitter                  int  `json:"twitter"`
	Facebook                 int  `json:"facebook"`
	SocialNetworkDataPresent bool `json:"social_network_data_present"`

	Nature           int  `json:"nature"`
	ResearchBlogging int  `json:"research_blogging"`
	Wikipedia        int  `json:"wikipedia"`
	BlogsDataPresent bool `json:"blogs_data_present"`
}

// almArticle is one element of the ALM articles response
type almArticle struct {
	DOI     string      `json:"doi"`
	Sources []almSource `json:"sources"`
}

// almSource is a single data source of an ALM article. counter and pmc
// report per-month events; everything else just reports metrics.
type almSource struct {
	Name    string          `json:"name"`
	Metrics map[string]any  `json:"metrics"`
	Events  json.RawMessage `json:"events"`
}

// sourceData is a parsed source with zero defaults; a missing source is
// simply the zero value
type sourceData struct {
	metrics map[string]any
	events  []map[string]any
}

func (s sourceData) metric(name string) int {
	return parseCount(s.metrics[name])
}

func (s sourceData) sumEvents(field string) int {
	total := 0
	for _, ev := range s.events {
		total += parseCount(ev[field])
	}
	return total
}

// sourceIndex maps lower-cased source names to their data
type sourceIndex map[string]sourceData

func (idx sourceIndex) get(name string) sourceData {
	return idx[name]
}

func indexSources(sources []almSource) sourceIndex {
	idx := make(sourceIndex, len(sources))
	for _, src := range sources {
		sd := sourceData{metrics: src.Metrics}
		if len(src.Events) > 0 {
			// events are only meaningful as a list of objects; anything else counts as none
			var events []map[string]any
			if err := json.Unmarshal(src.Events, &events); err == nil {
				sd.events = events
			}
		}
		idx[strings.ToLower(strings.TrimSpace(src.Name))] = sd
	}
	return idx
}

// normalizeArticle flattens the per-source ALM data of an article. Missing
// sources and unparseable counts become zero; it never fails.
func normalizeArticle(art almArticle) MetricsRecord {
	src := indexSources(art.Sources)
	rec := MetricsRecord{DOI: art.DOI}

	counter := src.get("counter")
	rec.PLOSHTML = counter.sumEvents("html_views")
	rec.PLOSPDF = counter.sumEvents("pdf_views")
	rec.PLOSXML = counter.sumEvents("xml_views")

	pmc := src.get("pmc")
	if len(pmc.events) > 0 {
		rec.PMCViews = pmc.sumEvents("full-text")
		rec.PMCPDF = pmc.sumEvents("pdf")
	} else {
		rec.PMCViews = pmc.metric("html")
		rec.PMCPDF = pmc.metric("pdf")
	}

	rec.TotalUsage = rec.PLOSHTML + rec.PLOSPDF + rec.PLOSXML + rec.PMCViews + rec.PMCPDF
	rec.UsageDataPresent = rec.TotalUsage > 0

	rec.PMCCitations = src.get("pubmed").metric("total")
	rec.CrossrefCitations = src.get("crossref").metric("total")
	rec.ScopusCitations = src.get("scopus").metric("total")
	rec.CitationDataPresent = rec.PMCCitations+rec.CrossrefCitations+rec.ScopusCitations > 0

	rec.CiteULike = src.get("citeulike").metric("total")
	rec.Connotea = src.get("connotea").metric("total")
	rec.Mendeley = src.get("mendeley").metric("total")
	rec.Twitter = src.get("twitter").metric("total")
	rec.Facebook = src.get("facebook").metric("total")
	rec.SocialNetworkDataPresent = rec.CiteULike+rec.Connotea+rec.Mendeley+rec.Twitter+rec.Facebook > 0

	rec.Nature = src.get("nature").metric("total")
	rec.ResearchBlogging = src.get("researchblogging").metric("total")
	rec.Wikipedia = src.get("wikipedia").metric("total")
	rec.BlogsDataPresent = rec.Nature+rec.ResearchBlogging+rec.Wikipedia > 0

	return rec
}

// parseCount converts a loosely typed JSON count to an int. Anything that
// is not a number, or a string holding one, is 0.
func parseCount(v any) int {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		// NaN, Inf and anything too big for an int count as nothing
		if math.IsNaN(n) || n >= math.MaxInt64 || n <= math.MinInt64 {
			return 0
		}
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return parseCount(f)
		}
		return 0
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return parseCount(f)
		}
		return leadingInt(s)
	default:
		return 0
	}
}

// leadingInt parses the leading digits of s, the way "12abc" should count as 12
func leadingInt(s string) int {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	i, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return i
}
