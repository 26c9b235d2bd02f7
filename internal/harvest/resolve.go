package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/crawler"
	"github.com/JakeFAU/journal-harvester/internal/oaipmh"
)

// RecordSource fetches single OAI records.
type RecordSource interface {
	GetRecord(ctx context.Context, identifier string) (oaipmh.Record, error)
}

// URLTable maps DOIs to article URLs for DOIs that no longer resolve.
type URLTable map[string]string

// LoadURLTable reads a flat JSON object of DOI -> URL.
func LoadURLTable(path string) (URLTable, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied lookup table.
	if err != nil {
		return nil, fmt.Errorf("read url table: %w", err)
	}
	table := URLTable{}
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse url table %s: %w", path, err)
	}
	return table, nil
}

// Resolver turns a record identifier into its article page.
type Resolver struct {
	records RecordSource
	fetcher crawler.Fetcher
	table   URLTable
	domain  string
	logger  *zap.Logger
}

// NewResolver builds a Resolver. domain is the aggregator's registrable
// domain; article pages served from any other host are refused.
func NewResolver(records RecordSource, fetcher crawler.Fetcher, table URLTable, domain string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{records: records, fetcher: fetcher, table: table, domain: domain, logger: logger}
}

// Resolve fetches the record and returns it with the URL to scrape.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (oaipmh.Record, string, error) {
	rec, err := r.records.GetRecord(ctx, identifier)
	if err != nil {
		return oaipmh.Record{}, "", retryable("get record", err)
	}
	doi, ok := rec.First("identifier")
	if !ok || strings.TrimSpace(doi) == "" {
		return rec, "", fmt.Errorf("%s: %w", identifier, ErrMissingDOI)
	}
	r.logger.Debug("extracted DOI", zap.String("identifier", identifier), zap.String("doi", doi))
	articleURL := doi
	if mapped, ok := r.table[doi]; ok {
		r.logger.Info("using url from lookup table", zap.String("doi", doi), zap.String("url", mapped))
		articleURL = mapped
	}
	return rec, articleURL, nil
}

// FetchArticlePage retrieves the article page, following redirects.
func (r *Resolver) FetchArticlePage(ctx context.Context, articleURL string) (crawler.FetchResponse, error) {
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: articleURL})
	if err != nil {
		return crawler.FetchResponse{}, retryable("fetch article page", err)
	}
	if err := crawler.CheckStatus(resp); err != nil {
		return crawler.FetchResponse{}, retryable("fetch article page", err)
	}
	final := resp.FinalURL
	if final == "" {
		final = articleURL
	}
	if !OnDomain(final, r.domain) {
		return resp, fmt.Errorf("%s: %w", final, ErrThirdPartyRedirect)
	}
	return resp, nil
}

// OnDomain reports whether rawURL's host is domain or a subdomain of it.
func OnDomain(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
