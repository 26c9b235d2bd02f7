package oaipmh

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/crawler"
)

// Config points the client at a repository.
type Config struct {
	BaseURL        string
	MetadataPrefix string
	// PageDelay separates consecutive page requests of a list verb.
	PageDelay time.Duration
}

// Client issues OAI-PMH requests through a crawler.Fetcher.
type Client struct {
	cfg     Config
	base    *url.URL
	fetcher crawler.Fetcher
	pauser  crawler.Pauser
	logger  *zap.Logger
}

// New builds a Client.
func New(cfg Config, fetcher crawler.Fetcher, pauser crawler.Pauser, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("oaipmh: fetcher is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("oaipmh: invalid base url %q", cfg.BaseURL)
	}
	if cfg.MetadataPrefix == "" {
		cfg.MetadataPrefix = "oai_dc"
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, base: base, fetcher: fetcher, pauser: pauser, logger: logger}, nil
}

// BaseURL returns the repository endpoint.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// ListSets returns the full set catalogue, following resumption tokens.
func (c *Client) ListSets(ctx context.Context) ([]Set, error) {
	var sets []Set
	params := url.Values{"verb": {"ListSets"}}
	for page := 0; ; page++ {
		if page > 0 {
			c.pauser.Pause(ctx, c.cfg.PageDelay)
		}
		doc, err := c.do(ctx, "ListSets", params)
		if err != nil {
			return nil, err
		}
		sets = append(sets, parseSets(doc)...)
		token := resumptionToken(doc)
		if token == "" {
			return sets, nil
		}
		params = url.Values{"verb": {"ListSets"}, "resumptionToken": {token}}
	}
}

// ListIdentifiers lazily yields the identifiers of set in transport order.
// A noRecordsMatch answer yields nothing. Iteration stops at the first error,
// which is yielded with an empty identifier.
func (c *Client) ListIdentifiers(ctx context.Context, set string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := url.Values{
			"verb":           {"ListIdentifiers"},
			"metadataPrefix": {c.cfg.MetadataPrefix},
			"set":            {set},
		}
		for page := 0; ; page++ {
			if page > 0 {
				c.pauser.Pause(ctx, c.cfg.PageDelay)
				if err := ctx.Err(); err != nil {
					yield("", err)
					return
				}
			}
			doc, err := c.do(ctx, "ListIdentifiers", params)
			if IsCode(err, CodeNoRecordsMatch) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			for _, id := range parseIdentifiers(doc) {
				if !yield(id, nil) {
					return
				}
			}
			token := resumptionToken(doc)
			if token == "" {
				return
			}
			c.logger.Debug("following resumption token", zap.String("set", set), zap.Int("page", page+1))
			params = url.Values{"verb": {"ListIdentifiers"}, "resumptionToken": {token}}
		}
	}
}

// GetRecord fetches one record in the configured metadata format.
func (c *Client) GetRecord(ctx context.Context, identifier string) (Record, error) {
	params := url.Values{
		"verb":           {"GetRecord"},
		"identifier":     {identifier},
		"metadataPrefix": {c.cfg.MetadataPrefix},
	}
	body, err := c.get(ctx, "GetRecord", params)
	if err != nil {
		return Record{}, err
	}
	doc, err := parseDocument("GetRecord", body)
	if err != nil {
		return Record{}, err
	}
	return parseRecord(doc, body)
}

func (c *Client) do(ctx context.Context, verb string, params url.Values) (*xmlquery.Node, error) {
	body, err := c.get(ctx, verb, params)
	if err != nil {
		return nil, err
	}
	return parseDocument(verb, body)
}

func (c *Client) get(ctx context.Context, verb string, params url.Values) ([]byte, error) {
	u := *c.base
	u.RawQuery = params.Encode()
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: u.String()})
	if err != nil {
		return nil, fmt.Errorf("oai-pmh %s: %w", verb, err)
	}
	if err := crawler.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("oai-pmh %s: %w", verb, err)
	}
	return resp.Body, nil
}
