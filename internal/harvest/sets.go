package harvest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/metrics"
	"github.com/JakeFAU/journal-harvester/internal/oaipmh"
)

// Catalogue lists the repository's sets.
type Catalogue interface {
	ListSets(ctx context.Context) ([]oaipmh.Set, error)
}

// SetResolver answers questions about the set catalogue. The catalogue is read
// once and reused for the rest of the run.
type SetResolver struct {
	source Catalogue
	logger *zap.Logger

	mu   sync.Mutex
	sets []oaipmh.Set
}

// NewSetResolver builds a SetResolver.
func NewSetResolver(source Catalogue, logger *zap.Logger) *SetResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SetResolver{source: source, logger: logger}
}

func (r *SetResolver) catalogue(ctx context.Context) ([]oaipmh.Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sets != nil {
		return r.sets, nil
	}
	sets, err := r.source.ListSets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	if sets == nil {
		sets = []oaipmh.Set{}
	}
	r.sets = sets
	return sets, nil
}

// ExpandSet returns the subsets of set in catalogue order.
func (r *SetResolver) ExpandSet(ctx context.Context, set string) ([]string, error) {
	sets, err := r.catalogue(ctx)
	if err != nil {
		return nil, err
	}
	subsets := []string{}
	for _, s := range sets {
		journal, _, isSubset := strings.Cut(s.Spec, ":")
		if isSubset && journal == set {
			subsets = append(subsets, s.Spec)
			r.logger.Debug("found subset", zap.String("set", set), zap.String("subset", s.Spec))
		}
	}
	if len(subsets) == 0 {
		metrics.ObserveAnomaly("no_subsets")
		r.logger.Error("set has no subsets", zap.String("set", set))
	}
	return subsets, nil
}

// TitleOf returns the catalogue name of set, or "" when none is listed.
func (r *SetResolver) TitleOf(ctx context.Context, set string) (string, error) {
	sets, err := r.catalogue(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range sets {
		if s.Spec == set {
			return s.Name, nil
		}
	}
	metrics.ObserveAnomaly("missing_title")
	r.logger.Error("no title for set in catalogue", zap.String("set", set))
	return "", nil
}
