package harvest

import (
	"bytes"
	"context"
	"errors"
	"path"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/metrics"
)

// Record output file names.
const (
	OAIRecordFile  = "oai-record.xml"
	DCFile         = "dc.xml"
	CollectionFile = "collection.xml"
	HarvestFile    = "harvest.xml"
)

// PackageArchived is published once a record's folder is complete.
type PackageArchived struct {
	RunID       string    `json:"run_id"`
	Target      string    `json:"target"`
	Identifier  string    `json:"identifier"`
	ArticleURL  string    `json:"article_url"`
	Folder      string    `json:"folder"`
	Files       int       `json:"files"`
	HarvestedAt time.Time `json:"harvested_at"`
}

// Attributes are attached to the published message.
func (e PackageArchived) Attributes() map[string]string {
	return map[string]string{
		"event":      "package_archived",
		"target":     e.Target,
		"identifier": e.Identifier,
	}
}

// processRecord writes one record's folder. Any error leaves no folder behind.
func (h *Harvester) processRecord(ctx context.Context, target, setFolder, id string) (int, error) {
	log := h.logger.With(zap.String("target", target), zap.String("record", id))
	dir := recordDir(setFolder, id)
	master := path.Join(dir, MasterDir)

	if _, err := h.deps.Output.MkdirAll(master); err != nil {
		return 0, retryable("create record folder", err)
	}
	files, articleURL, err := h.buildRecord(ctx, log, target, dir, master, id)
	if err != nil {
		if rmErr := h.deps.Output.RemoveAll(dir); rmErr != nil {
			log.Error("could not remove record folder", zap.String("folder", dir), zap.Error(rmErr))
		}
		return 0, err
	}

	if h.deps.Publisher != nil {
		event := PackageArchived{
			RunID:       h.runID,
			Target:      target,
			Identifier:  id,
			ArticleURL:  articleURL,
			Folder:      dir,
			Files:       files,
			HarvestedAt: h.deps.Clock.Now(),
		}
		if msgID, err := h.deps.Publisher.Publish(ctx, h.cfg.Topic, event); err != nil {
			log.Warn("could not publish archived package", zap.Error(err))
		} else {
			log.Debug("published archived package", zap.String("message_id", msgID))
		}
	}
	return files, nil
}

func (h *Harvester) buildRecord(ctx context.Context, log *zap.Logger, target, dir, master, id string) (int, string, error) {
	rec, articleURL, err := h.deps.Resolver.Resolve(ctx, id)
	if err != nil {
		return 0, "", err
	}
	if _, err := h.deps.Output.WriteFile(ctx, path.Join(dir, OAIRecordFile), rec.Raw); err != nil {
		return 0, "", retryable("write oai record", err)
	}
	log.Info("resolved article", zap.String("url", articleURL))

	page, err := h.deps.Resolver.FetchArticlePage(ctx, articleURL)
	if err != nil {
		if errors.Is(err, ErrThirdPartyRedirect) {
			metrics.ObserveAnomaly("third_party")
		}
		return 0, "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return 0, "", retryable("parse article page", err)
	}
	sourceURL := page.FinalURL
	if sourceURL == "" {
		sourceURL = articleURL
	}
	log.Info("retrieved article page", zap.String("url", sourceURL))

	h.pages.Scrape(articleURL, doc)
	license := ExtractLicense(doc, log)
	issn, ok := ExtractISSN(doc)
	if !ok {
		log.Error("no ISSN on article page", zap.String("url", sourceURL))
	}

	outputs, missing, err := BuildOutputs(ArticleInput{
		Identifier:       id,
		Datestamp:        rec.Header.Datestamp,
		Fields:           rec.Fields,
		Target:           target,
		ArticleURL:       sourceURL,
		License:          license,
		ISSN:             issn,
		BaseURL:          h.deps.BaseURL,
		ToolName:         h.cfg.ToolName,
		Version:          h.cfg.Version,
		Group:            h.cfg.Group,
		CollectionPrefix: h.cfg.CollectionPrefix,
		HarvestedAt:      h.deps.Clock.Now(),
		RunID:            h.runID,
	})
	if err != nil {
		return 0, "", err
	}
	for _, field := range missing {
		metrics.ObserveAnomaly("missing_metadata")
		log.Warn("mandatory Dublin Core element missing", zap.String("element", "dc:"+field))
		h.missing.Add(target, field, articleURL, h.pages.Title(articleURL))
		if suggestion := h.pages.Values(articleURL, "dc."+field); len(suggestion) > 0 {
			log.Info("article page suggests a value", zap.String("element", "dc:"+field), zap.Strings("values", suggestion))
		}
	}
	documents := []struct {
		name string
		body []byte
	}{
		{DCFile, outputs.DC},
		{CollectionFile, outputs.Collection},
		{HarvestFile, outputs.Harvest},
	}
	for _, d := range documents {
		if _, err := h.deps.Output.WriteFile(ctx, path.Join(dir, d.name), d.body); err != nil {
			return 0, "", retryable("write "+d.name, err)
		}
	}

	links := DiscoverLinks(doc, h.cfg.ArtifactHost, h.cfg.ArtifactScheme)
	if len(links) == 0 {
		metrics.ObserveAnomaly("no_links")
		log.Error("no download links on article page", zap.String("url", sourceURL))
	} else {
		log.Info("extracted download links", zap.Int("count", len(links)))
	}
	files := 0
	for _, link := range links {
		if _, err := h.deps.Artifacts.Download(ctx, master, link); err != nil {
			if errors.Is(err, ErrLinkExhausted) {
				log.Error("download failed repeatedly, giving up on file", zap.String("url", link.URL), zap.Error(err))
				continue
			}
			return 0, "", retryable("download "+link.Name, err)
		}
		files++
	}

	h.audit(log, id, master)
	return files, sourceURL, nil
}

func (h *Harvester) audit(log *zap.Logger, id, master string) {
	masterDir := filepath.Join(h.deps.Output.BaseDir(), filepath.FromSlash(master))
	report, err := SizeAudit(masterDir)
	if err != nil {
		log.Error("size audit failed", zap.Error(err))
	}
	for _, f := range report.Findings {
		metrics.ObserveAnomaly("size_" + f.Band.String())
		fields := []zap.Field{zap.String("file", filepath.Base(f.Path)), zap.Int64("bytes", f.Size), zap.String("band", f.Band.String())}
		switch f.Band {
		case BandEmpty, BandSmall:
			log.Error("suspicious file size", fields...)
		default:
			log.Warn("suspicious file size", fields...)
		}
	}
	for _, p := range report.NonFiles {
		log.Warn("supplements entry is not a file", zap.String("path", p))
	}

	present, err := PDFPresent(masterDir)
	if err != nil {
		log.Error("pdf check failed", zap.Error(err))
		return
	}
	if !present {
		metrics.ObserveAnomaly("missing_pdf")
		log.Error("article PDF seems missing", zap.String("record", id))
	}
}
