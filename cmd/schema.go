package main

// allJournals is the placeholder value the search form sends for the
// journal drop-down when no journal is selected.
const allJournals = "All Journals"

const (
	journalNameField  = "cross_published_journal_name"
	journalKeyField   = "cross_published_journal_key"
	affiliateField    = "affiliate"
	authorCountryKey  = "author_country"
	institutionKey    = "institution"
	rawQueryKey       = "unformattedQueryId"
	filterJournalsKey = "filterJournals"
	rowsKey           = "rows"
	startKey          = "start"
	currentPageKey    = "current_page"
	sortKey           = "sort"
)

// matchAll is used whenever the user did not supply anything searchable
const matchAll = "*:*"

// defaultFieldList is the solr fl used when the caller does not ask for specific fields
const defaultFieldList = "id,cross_published_journal_name,cross_published_journal_key,journal_key,title_display," +
	"author_display,publication_date,article_type,subject,counter_total_all,alm_scopusCiteCount," +
	"alm_mendeleyCount,alm_twitterCount,alm_facebookCount"

// solrFilter is appended to every search; it limits results to full
// article documents and drops issue images.
const solrFilter = `fq=doc_type:full&fq=!article_type_facet:%22Issue%20Image%22`

// searchWhitelist lists the request parameters that map onto solr fields.
// author_country and institution are virtual and get folded into affiliate.
var searchWhitelist = map[string]bool{
	"everything":                   true,
	"author":                       true,
	"author_country":               true,
	"institution":                  true,
	"affiliate":                    true,
	"editor":                       true,
	"title":                        true,
	"subject":                      true,
	"id":                           true,
	"publication_date":             true,
	"cross_published_journal_name": true,
	"financial_disclosure":         true,
	"article_type":                 true,
	"figure_table_caption":         true,
	"reference":                    true,
	"body":                         true,
	"abstract":                     true,
}

// preformattedFields hold values that are already valid solr syntax
// (grouped affiliate clauses, date ranges) and must not be quoted.
var preformattedFields = map[string]bool{
	affiliateField:     true,
	"publication_date": true,
}

// sortOption is one entry of the sort drop-down
type sortOption struct {
	Label string
	Value string
}

// sortOptions are the only sort values ever passed on to solr
var sortOptions = []sortOption{
	{Label: "Relevance", Value: "score desc"},
	{Label: "Date, newest first", Value: "publication_date desc"},
	{Label: "Date, oldest first", Value: "publication_date asc"},
	{Label: "Most views, last 30 days", Value: "counter_total_month desc"},
	{Label: "Most views, all time", Value: "counter_total_all desc"},
	{Label: "Most cited, all time", Value: "alm_scopusCiteCount desc"},
	{Label: "Most bookmarked", Value: "sum(alm_citeulikeCount, alm_mendeleyCount) desc"},
	{Label: "Most shared in social media", Value: "sum(alm_twitterCount, alm_facebookCount) desc"},
}

func isAllowedSort(value string) bool {
	for _, opt := range sortOptions {
		if opt.Value == value {
			return true
		}
	}
	return false
}
