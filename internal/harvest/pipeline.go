package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/journal-harvester/internal/clock/system"
	"github.com/JakeFAU/journal-harvester/internal/crawler"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
	"github.com/JakeFAU/journal-harvester/internal/storage/local"
)

// MaxWorkers caps concurrent records per set.
const MaxWorkers = 4

// Report file names, prefixed with the run stamp.
const (
	StatisticsFile      = "counted_records.csv"
	MissingMetadataFile = "missing_metadata.txt"
	FailuresFile        = "failed_downloads.txt"
)

// Config controls Harvester behavior.
type Config struct {
	SetPrefix         string
	ArtifactHost      string
	ArtifactScheme    string
	CollectionPrefix  string
	Group             string
	ToolName          string
	Version           string
	Workers           int
	MaxRecordAttempts int
	RecordBackoff     time.Duration
	// Topic names the notification topic for archived packages.
	Topic string
}

// Deps are the collaborators of a Harvester.
type Deps struct {
	Sets       *SetResolver
	Enumerator *Enumerator
	Resolver   *Resolver
	Artifacts  *ArtifactFetcher
	// Output is rooted at the download root, State at the state directory.
	Output    *local.Store
	State     *local.Store
	Publisher crawler.Publisher
	Pauser    crawler.Pauser
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	BaseURL   string
	Logger    *zap.Logger
}

// SetResult summarizes one set pass.
type SetResult struct {
	Target    string
	Folder    string
	Total     int
	Completed int
	Requeues  int
	Failed    []string
	Skipped   []string
	Remaining []string
	Stopped   bool
}

// Summary summarizes a run.
type Summary struct {
	RunID   string
	Stamp   string
	Sets    []SetResult
	Invalid []string
}

// Harvester drives set passes.
type Harvester struct {
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	runID    string
	stamp    string
	stats    *Statistics
	pages    *PageMetadata
	missing  *MissingMetadata
	failures *Failures
	progress progressTracker
}

// New constructs a Harvester.
func New(cfg Config, deps Deps) (*Harvester, error) {
	if deps.Sets == nil || deps.Enumerator == nil {
		return nil, errors.New("harvester: set resolver and enumerator are required")
	}
	if deps.State == nil {
		return nil, errors.New("harvester: state store is required")
	}
	if cfg.SetPrefix == "" {
		cfg.SetPrefix = DefaultSetPrefix
	}
	if cfg.ArtifactScheme == "" {
		cfg.ArtifactScheme = "https"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}
	if cfg.MaxRecordAttempts <= 0 {
		cfg.MaxRecordAttempts = 3
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	runID := ""
	if deps.IDs != nil {
		id, err := deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("harvester: run id: %w", err)
		}
		runID = id
	}
	stamp := system.Stamp(deps.Clock.Now())
	h := &Harvester{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With(zap.String("run_id", runID)),
		runID:    runID,
		stamp:    stamp,
		stats:    NewStatistics(),
		pages:    NewPageMetadata(),
		missing:  NewMissingMetadata(),
		failures: NewFailures(),
	}
	h.progress.p = Progress{RunID: runID, Stamp: stamp}
	return h, nil
}

// Stamp returns the run timestamp used in folder and report names.
func (h *Harvester) Stamp() string { return h.stamp }

// RunID returns the run identifier.
func (h *Harvester) RunID() string { return h.runID }

// Statistics exposes the run's record counts.
func (h *Harvester) Statistics() *Statistics { return h.stats }

// Run harvests every target in order. ids, when non-empty, replaces the
// enumeration of every target. A canceled ctx stops the run between records;
// reports and record counts are still written for what was done.
func (h *Harvester) Run(ctx context.Context, targets []string, ids []string) (summary Summary, err error) {
	if h.deps.Resolver == nil || h.deps.Artifacts == nil || h.deps.Output == nil {
		return Summary{}, errors.New("harvester: resolver, artifact fetcher and output store are required to download")
	}
	summary = Summary{RunID: h.runID, Stamp: h.stamp}
	detached := context.WithoutCancel(ctx)
	defer func() {
		err = errors.Join(err, h.WriteStatistics(detached))
	}()

	for _, target := range targets {
		if ctx.Err() != nil {
			h.logger.Warn("stop requested, skipping remaining targets", zap.String("next", target))
			break
		}
		log := h.logger.With(zap.String("target", target))
		log.Info("working on target")
		if err := CheckTarget(target, h.cfg.SetPrefix); err != nil {
			log.Warn("skipping target", zap.Error(err))
			summary.Invalid = append(summary.Invalid, target)
			continue
		}
		h.lookupTitle(ctx, target)

		targetIDs := ids
		if len(targetIDs) == 0 {
			enumerated, err := h.deps.Enumerator.Enumerate(ctx, target)
			if err != nil {
				log.Error("could not enumerate records, skipping target", zap.Error(err))
				continue
			}
			targetIDs = enumerated
		} else {
			log.Info("targeting given records only", zap.Int("count", len(ids)))
		}
		h.stats.Record(target, len(targetIDs))

		result, setErr := h.ProcessSet(ctx, target, targetIDs)
		summary.Sets = append(summary.Sets, result)
		if err := errors.Join(setErr, h.writeReports(detached)); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// Count records the record count of every target without downloading. Sets
// are expanded so each of their subsets is counted as well.
func (h *Harvester) Count(ctx context.Context, targets []string) (Summary, error) {
	summary := Summary{RunID: h.runID, Stamp: h.stamp}
	queue := slices.Clone(targets)
	for i := 0; i < len(queue); i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		target := queue[i]
		log := h.logger.With(zap.String("target", target))
		if err := CheckTarget(target, h.cfg.SetPrefix); err != nil {
			log.Warn("skipping target", zap.Error(err))
			summary.Invalid = append(summary.Invalid, target)
			continue
		}
		kind := Classify(target, h.cfg.SetPrefix)
		if kind == KindSet {
			subsets, err := h.deps.Sets.ExpandSet(ctx, target)
			if err != nil {
				return summary, err
			}
			queue = append(queue, subsets...)
		}
		h.lookupTitle(ctx, target)
		ids, err := h.deps.Enumerator.Enumerate(ctx, target)
		if err != nil {
			log.Error("could not enumerate records, skipping target", zap.Error(err))
			continue
		}
		h.stats.Record(target, len(ids))
		summary.Sets = append(summary.Sets, SetResult{Target: target, Total: len(ids)})
	}
	return summary, h.WriteStatistics(ctx)
}

// WriteStatistics writes the record counts CSV into the state directory.
func (h *Harvester) WriteStatistics(ctx context.Context) error {
	if h.stats.Empty() {
		return nil
	}
	var buf bytes.Buffer
	if err := h.stats.WriteCSV(&buf); err != nil {
		return err
	}
	if _, err := h.deps.State.WriteFile(ctx, h.stamp+"_"+StatisticsFile, buf.Bytes()); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	h.logger.Info("wrote record counts", zap.String("file", h.stamp+"_"+StatisticsFile))
	return nil
}

func (h *Harvester) writeReports(ctx context.Context) error {
	if h.missing.Len() > 0 {
		var buf bytes.Buffer
		if _, err := h.missing.WriteTo(&buf); err != nil {
			return fmt.Errorf("render missing metadata report: %w", err)
		}
		if _, err := h.deps.State.WriteFile(ctx, h.stamp+"_"+MissingMetadataFile, buf.Bytes()); err != nil {
			return fmt.Errorf("write missing metadata report: %w", err)
		}
	}
	if h.failures.Len() > 0 {
		var buf bytes.Buffer
		if _, err := h.failures.WriteTo(&buf); err != nil {
			return fmt.Errorf("render failure report: %w", err)
		}
		if _, err := h.deps.State.WriteFile(ctx, h.stamp+"_"+FailuresFile, buf.Bytes()); err != nil {
			return fmt.Errorf("write failure report: %w", err)
		}
	}
	return nil
}

func (h *Harvester) lookupTitle(ctx context.Context, target string) {
	journal := JournalOf(target)
	if h.stats.HasTitle(journal) {
		return
	}
	title, err := h.deps.Sets.TitleOf(ctx, journal)
	if err != nil {
		h.logger.Error("could not look up journal title", zap.String("journal", journal), zap.Error(err))
		return
	}
	h.stats.SetTitle(journal, title)
}

type outcome struct {
	id      string
	state   RecordState
	attempt int
	files   int
}

// ProcessSet harvests ids into a fresh folder for target. Up to cfg.Workers
// records run at once; a single identifier never has two attempts in flight.
// Once ctx is canceled no further record is started, records already running
// finish on a detached context.
func (h *Harvester) ProcessSet(ctx context.Context, target string, ids []string) (SetResult, error) {
	folder := SetFolderName(target, h.stamp)
	result := SetResult{Target: target, Folder: folder, Total: len(ids)}
	log := h.logger.With(zap.String("target", target))

	if _, err := h.deps.Output.MkdirAll(folder); err != nil {
		return result, fmt.Errorf("create set folder: %w", err)
	}
	log.Info("created set folder", zap.String("folder", folder))

	// The manifest is written even when the run is already stopping.
	detached := context.WithoutCancel(ctx)
	ledger := NewLedger(h.deps.State, folder, h.cfg.MaxRecordAttempts)
	if err := ledger.Begin(detached, ids); err != nil {
		return result, err
	}

	work := make(chan string)
	results := make(chan outcome)

	var g errgroup.Group
	for i := 0; i < h.cfg.Workers; i++ {
		g.Go(func() error {
			for id := range work {
				results <- h.attempt(ctx, detached, target, folder, id, ledger)
			}
			return nil
		})
	}

	var persistErr error
	queue := slices.Clone(ids)
	inFlight := make(map[string]bool)
	busy := 0
	done := ctx.Done()
	stopping := false
	h.progress.update(func(p *Progress) {
		p.Target = target
		p.Queued = len(queue)
		p.InFlight = 0
	})
	defer h.progress.update(func(p *Progress) {
		p.Target = ""
		p.Queued = 0
		p.InFlight = 0
		p.SetsDone++
	})

	for {
		if !stopping && ctx.Err() != nil {
			stopping = true
			done = nil
			log.Warn("stop requested, finishing records in flight", zap.Int("in_flight", busy))
		}
		h.progress.update(func(p *Progress) {
			p.Queued = len(queue)
			p.InFlight = busy
			p.Stopping = stopping
		})
		next := -1
		if !stopping && busy < h.cfg.Workers {
			next = slices.IndexFunc(queue, func(id string) bool { return !inFlight[id] })
		}
		if next < 0 && busy == 0 {
			break
		}
		var send chan<- string
		var id string
		if next >= 0 {
			send, id = work, queue[next]
		}

		select {
		case send <- id:
			queue = slices.Delete(queue, next, next+1)
			inFlight[id] = true
			busy++
			ledger.Start(id)
		case out := <-results:
			busy--
			delete(inFlight, out.id)
			switch out.state {
			case StateCompleted:
				result.Completed++
				h.progress.update(func(p *Progress) { p.Completed++ })
				if err := ledger.Complete(detached, out.id); err != nil && persistErr == nil {
					persistErr = err
				}
			case StateRequeued:
				result.Requeues++
				queue = append(queue, out.id)
				h.progress.update(func(p *Progress) { p.Requeues++ })
			case StateFailed:
				h.failures.Add(target, out.id)
				h.progress.update(func(p *Progress) { p.Failed++ })
			case StateSkipped:
				h.progress.update(func(p *Progress) { p.Skipped++ })
			}
		case <-done:
			stopping = true
			done = nil
			log.Warn("stop requested, finishing records in flight", zap.Int("in_flight", busy))
		}
	}
	close(work)
	_ = g.Wait()

	result.Failed = ledger.Failed()
	result.Skipped = ledger.Skipped()
	result.Remaining = ledger.Remaining()
	result.Stopped = stopping
	log.Info("set pass finished",
		zap.Int("total", result.Total),
		zap.Int("completed", result.Completed),
		zap.Int("failed", len(result.Failed)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("remaining", len(result.Remaining)),
	)
	if persistErr != nil {
		return result, persistErr
	}
	return result, nil
}

// attempt runs one record and converts its error into a ledger decision.
// Backoff before a requeue happens here so the dispatcher stays responsive.
func (h *Harvester) attempt(ctx, detached context.Context, target, folder, id string, ledger *Ledger) outcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log := h.logger.With(zap.String("target", target), zap.String("record", id))
	log.Info("working on record")

	files, err := h.processRecord(detached, target, folder, id)
	if err == nil {
		metrics.ObserveRecord(metrics.OutcomeCompleted)
		log.Info("processed record", zap.Int("files", files))
		return outcome{id: id, state: StateCompleted, files: files}
	}

	if !IsRetryable(err) {
		ledger.Skip(id)
		metrics.ObserveRecord(metrics.OutcomeSkipped)
		log.Error("skipping record", zap.Error(err))
		return outcome{id: id, state: StateSkipped}
	}

	attemptNo, failed := ledger.Retry(id)
	if failed {
		metrics.ObserveRecord(metrics.OutcomeFailed)
		log.Error("giving up on record after repeated failures", zap.Int("attempts", attemptNo), zap.Error(err))
		return outcome{id: id, state: StateFailed, attempt: attemptNo}
	}
	metrics.ObserveRecord(metrics.OutcomeRequeued)
	backoff := h.cfg.RecordBackoff * time.Duration(attemptNo)
	log.Warn("record failed, will retry later", zap.Int("attempt", attemptNo), zap.Duration("backoff", backoff), zap.Error(err))
	h.deps.Pauser.Pause(ctx, backoff)
	return outcome{id: id, state: StateRequeued, attempt: attemptNo}
}

func recordDir(setFolder, id string) string {
	return path.Join(setFolder, RecordFolderName(id))
}
