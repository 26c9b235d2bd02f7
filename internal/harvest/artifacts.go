package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/crawler"
	md5hash "github.com/JakeFAU/journal-harvester/internal/hash/md5"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
	"github.com/JakeFAU/journal-harvester/internal/storage/local"
)

// Record folder layout.
const (
	MasterDir      = "MASTER"
	SupplementsDir = "supplements"
)

var supplementPattern = regexp.MustCompile(`^\d*\.f\d*\..*`)

// LinkKind tells article files from supplemental material.
type LinkKind int

const (
	// LinkPrimary is an article file written to MASTER.
	LinkPrimary LinkKind = iota
	// LinkSupplemental is written to MASTER/supplements.
	LinkSupplemental
)

func (k LinkKind) String() string {
	if k == LinkSupplemental {
		return "supplemental"
	}
	return "primary"
}

// DownloadLink is one artifact to fetch.
type DownloadLink struct {
	URL  string
	Name string
	Kind LinkKind
}

// FileArtifact is a downloaded file with its checksum sidecar.
type FileArtifact struct {
	Link    DownloadLink
	Path    string
	Sidecar string
	Size    int64
	MD5     string
}

// ClassifyLink decides where a file named name belongs.
func ClassifyLink(name string) LinkKind {
	if supplementPattern.MatchString(name) {
		return LinkSupplemental
	}
	return LinkPrimary
}

// LinkName returns the last path segment of rawURL.
func LinkName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// DiscoverLinks returns the anchors of doc pointing at host. Links that differ
// only in scheme collapse into one, first occurrence wins, and every link is
// rewritten to scheme.
func DiscoverLinks(doc *goquery.Document, host, scheme string) []DownloadLink {
	if scheme == "" {
		scheme = "https"
	}
	seen := make(map[string]struct{})
	links := []DownloadLink{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !strings.Contains(href, host) {
			return
		}
		bare := href
		if _, rest, ok := strings.Cut(href, "//"); ok {
			bare = rest
		}
		if _, dup := seen[bare]; dup {
			return
		}
		seen[bare] = struct{}{}
		u := scheme + "://" + bare
		name := LinkName(u)
		links = append(links, DownloadLink{URL: u, Name: name, Kind: ClassifyLink(name)})
	})
	return links
}

// ArtifactFetcher downloads article files into a record's MASTER folder.
type ArtifactFetcher struct {
	fetcher crawler.Fetcher
	store   *local.Store
	hasher  crawler.Hasher
	retry   crawler.RetryPolicy
	pauser  crawler.Pauser
	logger  *zap.Logger
}

// NewArtifactFetcher builds an ArtifactFetcher writing into store.
func NewArtifactFetcher(
	fetcher crawler.Fetcher,
	store *local.Store,
	hasher crawler.Hasher,
	retry crawler.RetryPolicy,
	pauser crawler.Pauser,
	logger *zap.Logger,
) *ArtifactFetcher {
	if hasher == nil {
		hasher = md5hash.New()
	}
	if retry == nil {
		retry = crawler.NewLinearRetryPolicy(3, 0)
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactFetcher{fetcher: fetcher, store: store, hasher: hasher, retry: retry, pauser: pauser, logger: logger}
}

// Download fetches link into masterDir (relative to the store) and writes its
// checksum sidecar. A link whose attempts all fail yields ErrLinkExhausted.
func (a *ArtifactFetcher) Download(ctx context.Context, masterDir string, link DownloadLink) (FileArtifact, error) {
	body, err := a.fetchWithRetry(ctx, link)
	if err != nil {
		return FileArtifact{}, err
	}

	dir := masterDir
	if link.Kind == LinkSupplemental {
		dir = path.Join(masterDir, SupplementsDir)
		a.logger.Info("supplemental file detected", zap.String("url", link.URL))
	}
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return FileArtifact{}, fmt.Errorf("hash %s: %w", link.Name, err)
	}
	full, err := a.store.Put(ctx, path.Join(dir, link.Name), bytes.NewReader(body))
	if err != nil {
		return FileArtifact{}, fmt.Errorf("write %s: %w", link.Name, err)
	}
	sidecar, err := a.store.WriteFile(ctx, path.Join(dir, link.Name+md5hash.SidecarExt), []byte(md5hash.SidecarLine(digest, link.Name)))
	if err != nil {
		return FileArtifact{}, fmt.Errorf("write checksum of %s: %w", link.Name, err)
	}
	metrics.ObserveArtifact(link.Kind.String())
	a.logger.Info("wrote file", zap.String("kind", link.Kind.String()), zap.String("file", link.Name), zap.Int("bytes", len(body)))
	return FileArtifact{Link: link, Path: full, Sidecar: sidecar, Size: int64(len(body)), MD5: digest}, nil
}

func (a *ArtifactFetcher) fetchWithRetry(ctx context.Context, link DownloadLink) ([]byte, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := a.fetcher.Fetch(ctx, crawler.FetchRequest{URL: link.URL})
		if err == nil {
			err = crawler.CheckStatus(resp)
		}
		if err == nil {
			return resp.Body, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		a.logger.Warn("download failed", zap.String("url", link.URL), zap.Int("attempt", attempt), zap.Error(err))
		if !a.retry.ShouldRetry(attempt) {
			break
		}
		a.pauser.Pause(ctx, a.retry.Backoff(attempt))
	}
	metrics.ObserveAnomaly("link_exhausted")
	return nil, fmt.Errorf("%s: %w: %w", link.URL, ErrLinkExhausted, lastErr)
}
