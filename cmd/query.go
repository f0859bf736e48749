package main

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// queryMode tells if a search came from the home page form or from the
// advanced search page with a hand-written query
type queryMode int

const (
	basicQuery queryMode = iota
	advancedQuery
)

func (m queryMode) String() string {
	if m == advancedQuery {
		return "advanced"
	}
	return "basic"
}

// queryClause is a single field:value pair of the solr q parameter
type queryClause struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (qc queryClause) String() string {
	return fmt.Sprintf("%s:%s", qc.Field, qc.Value)
}

// solrQuery turns the loosely typed search form parameters into a solr
// request. The params map is a private copy; callers never see it change.
type solrQuery struct {
	baseURL   string
	fl        string
	params    map[string]string
	journals  []string
	sort      string
	mode      queryMode
	rows      int
	pageBlock string
	clauses   []queryClause
	q         string
	fq        string
}

// newSolrQuery copies params and extracts the paging and sort settings
// from them. pageSize is used when the request has no explicit row count.
func newSolrQuery(baseURL string, params map[string]string, journals []string, fl string, pageSize int) *solrQuery {
	sq := solrQuery{baseURL: baseURL, fl: fl, mode: basicQuery}
	if sq.fl == "" {
		sq.fl = defaultFieldList
	}
	sq.params = make(map[string]string, len(params))
	for k, v := range params {
		sq.params[k] = v
	}
	if _, ok := sq.params[rawQueryKey]; ok {
		sq.mode = advancedQuery
	}
	for _, j := range journals {
		if strings.TrimSpace(j) != "" {
			sq.journals = append(sq.journals, strings.TrimSpace(j))
		}
	}
	sq.sort = strings.TrimSpace(sq.params[sortKey])
	delete(sq.params, sortKey)
	sq.pageBlock = sq.buildPageBlock(pageSize)
	return &sq
}

// Mode reports which kind of query this is
func (sq *solrQuery) Mode() queryMode {
	return sq.mode
}

// Clauses returns the clauses produced by the last call to Build
func (sq *solrQuery) Clauses() []queryClause {
	return sq.clauses
}

// Filter returns the journal filter produced by BuildAdvanced, if any
func (sq *solrQuery) Filter() string {
	return sq.fq
}

// Rows is the page size that will be requested from solr
func (sq *solrQuery) Rows() int {
	return sq.rows
}

// Build returns the value of the solr q parameter for a home page search.
// The result is NOT url-escaped.
func (sq *solrQuery) Build() string {
	params := cleanParams(sq.params)
	buildAffiliateParam(params)

	fields := make([]string, 0, len(params))
	for k := range params {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	sq.clauses = make([]queryClause, 0, len(fields))
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		v := params[field]
		if !preformattedFields[field] {
			v = quoteIfSpaces(v)
		}
		clause := queryClause{Field: field, Value: v}
		sq.clauses = append(sq.clauses, clause)
		parts = append(parts, clause.String())
	}
	sq.q = strings.Join(parts, " AND ")
	return sq.query()
}

// BuildAdvanced takes the hand-written query from the advanced search page
// as is and turns the selected journals into an fq disjunction.
// It returns the q and fq values, NOT url-escaped.
func (sq *solrQuery) BuildAdvanced() (string, string) {
	sq.clauses = nil
	sq.q = strings.TrimSpace(sq.params[rawQueryKey])
	sq.fq = ""
	if len(sq.journals) > 0 {
		parts := make([]string, 0, len(sq.journals))
		for _, j := range sq.journals {
			parts = append(parts, queryClause{Field: journalKeyField, Value: j}.String())
		}
		sq.fq = strings.Join(parts, " OR ")
	}
	return sq.query(), sq.fq
}

// PageBlock returns the rows and start portion of the solr url
func (sq *solrQuery) PageBlock() string {
	return sq.pageBlock
}

// Sort returns the url-escaped sort parameter, or an empty string when the
// requested sort is not one we allow
func (sq *solrQuery) Sort() string {
	if sq.sort == "" || !isAllowedSort(sq.sort) {
		return ""
	}
	return "&sort=" + url.QueryEscape(sq.sort)
}

// URL returns the complete solr request url
func (sq *solrQuery) URL() string {
	var qs string
	if sq.mode == advancedQuery {
		q, fq := sq.BuildAdvanced()
		vals := url.Values{}
		vals.Set("q", q)
		if fq != "" {
			vals.Set("fq", fq)
		}
		qs = vals.Encode()
	} else {
		qs = "q=" + url.QueryEscape(sq.Build())
	}
	return fmt.Sprintf("%s?%s&%s&fl=%s&wt=json&facet=false&%s%s&hl=false",
		sq.baseURL, qs, solrFilter, url.QueryEscape(sq.fl), sq.pageBlock, sq.Sort())
}

func (sq *solrQuery) query() string {
	if strings.TrimSpace(sq.q) == "" {
		// nothing was entered; search for everything
		return matchAll
	}
	return sq.q
}

// buildPageBlock pulls rows, start and current_page out of the params.
// An explicit start wins; otherwise the 1-based page is converted to an
// offset and left out entirely for the first page.
func (sq *solrQuery) buildPageBlock(pageSize int) string {
	sq.rows = pageSize
	if rows, err := strconv.Atoi(strings.TrimSpace(sq.params[rowsKey])); err == nil && rows > 0 {
		sq.rows = rows
	}
	startStr := strings.TrimSpace(sq.params[startKey])
	pageStr := strings.TrimSpace(sq.params[currentPageKey])
	delete(sq.params, rowsKey)
	delete(sq.params, startKey)
	delete(sq.params, currentPageKey)

	block := fmt.Sprintf("rows=%d", sq.rows)
	if start, err := strconv.Atoi(startStr); err == nil && start >= 0 {
		return fmt.Sprintf("%s&start=%d", block, start)
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		page = 1
	}
	if page > 1 {
		block += fmt.Sprintf("&start=%d", (page-1)*sq.rows+1)
	}
	return block
}

// cleanParams returns the whitelisted, non-blank params. The journal name
// placeholder for "all journals" is dropped too.
func cleanParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if strings.TrimSpace(v) == "" || !searchWhitelist[k] {
			continue
		}
		if k == journalNameField && v == allJournals {
			continue
		}
		out[k] = v
	}
	return out
}

// buildAffiliateParam folds the two virtual form fields, author_country and
// institution, into the affiliate solr field. Both are removed from params.
func buildAffiliateParam(params map[string]string) {
	parts := make([]string, 0, 2)
	for _, key := range []string{authorCountryKey, institutionKey} {
		v, ok := params[key]
		delete(params, key)
		if ok && strings.TrimSpace(v) != "" {
			parts = append(parts, quoteIfSpaces(v))
		}
	}
	switch len(parts) {
	case 0:
		return
	case 1:
		params[affiliateField] = parts[0]
	default:
		params[affiliateField] = "(" + strings.Join(parts, " AND ") + ")"
	}
}

// quoteIfSpaces wraps s in double quotes if it contains whitespace
func quoteIfSpaces(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return `"` + s + `"`
	}
	return s
}
