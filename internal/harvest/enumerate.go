package harvest

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"
)

// IdentifierSource lists record identifiers of a set.
type IdentifierSource interface {
	ListIdentifiers(ctx context.Context, set string) iter.Seq2[string, error]
}

// Enumerator materializes a target's identifiers.
type Enumerator struct {
	source IdentifierSource
	logger *zap.Logger
}

// NewEnumerator builds an Enumerator.
func NewEnumerator(source IdentifierSource, logger *zap.Logger) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{source: source, logger: logger}
}

// Enumerate returns every identifier of target in transport order.
func (e *Enumerator) Enumerate(ctx context.Context, target string) ([]string, error) {
	ids := []string{}
	for id, err := range e.source.ListIdentifiers(ctx, target) {
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", target, err)
		}
		ids = append(ids, id)
	}
	e.logger.Info("enumerated records", zap.String("target", target), zap.Int("count", len(ids)))
	return ids, nil
}
