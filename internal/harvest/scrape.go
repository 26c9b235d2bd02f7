package harvest

import (
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// MissingLicense stands in for a license the article page does not state.
const MissingLicense = "Missing license information"

var licensePattern = regexp.MustCompile(`Creative\sCommons\sAttribution\sLicense`)

// PageMetadata collects Dublin Core <meta> tags of article pages per URL.
type PageMetadata struct {
	mu    sync.RWMutex
	byURL map[string]map[string][]string
}

// NewPageMetadata builds an empty store.
func NewPageMetadata() *PageMetadata {
	return &PageMetadata{byURL: make(map[string]map[string][]string)}
}

// Scrape records every dc.* meta tag of doc under url in document order.
// Scraping the same page again adds nothing already recorded.
func (p *PageMetadata) Scrape(url string, doc *goquery.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fields, ok := p.byURL[url]
	if !ok {
		fields = make(map[string][]string)
		p.byURL[url] = fields
	}
	seen := make(map[string]int)
	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		if !strings.HasPrefix(name, "dc.") {
			return
		}
		idx := seen[name]
		seen[name] = idx + 1
		if len(fields[name]) > idx {
			return
		}
		fields[name] = append(fields[name], s.AttrOr("content", ""))
	})
}

// Values returns the scraped values of field ("dc.title") for url.
func (p *PageMetadata) Values(url, field string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	vals := p.byURL[url][strings.ToLower(field)]
	return append([]string(nil), vals...)
}

// Title returns the first scraped dc.title of url.
func (p *PageMetadata) Title(url string) string {
	if vals := p.Values(url, "dc.title"); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// ExtractLicense returns the link target of the page's Creative Commons
// license statement, or MissingLicense.
func ExtractLicense(doc *goquery.Document, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	el := doc.Find("a, ext-link").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return licensePattern.MatchString(s.Text())
	}).First()
	if el.Length() == 0 {
		logger.Error("no license statement on article page")
		return MissingLicense
	}
	if href := strings.TrimSpace(el.AttrOr("href", "")); href != "" {
		return href
	}
	if href := strings.TrimSpace(el.AttrOr("xlink:href", "")); href != "" {
		return href
	}
	logger.Error("license statement carries no link")
	return MissingLicense
}

// ExtractISSN returns the content of the citation_issn meta tag.
func ExtractISSN(doc *goquery.Document) (string, bool) {
	issn := strings.TrimSpace(doc.Find(`meta[name="citation_issn"]`).First().AttrOr("content", ""))
	return issn, issn != ""
}
