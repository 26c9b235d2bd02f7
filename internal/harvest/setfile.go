package harvest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// AppendSetFile appends the subsets of every set target to the file at path,
// one per line, and returns how many lines were written. Subsets and invalid
// targets are skipped with a warning.
func AppendSetFile(ctx context.Context, sets *SetResolver, targets []string, prefix, path string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lines []string
	for _, target := range targets {
		if err := CheckTarget(target, prefix); err != nil {
			logger.Warn("skipping target", zap.Error(err))
			continue
		}
		if Classify(target, prefix) == KindSubset {
			logger.Warn("cannot make a set file from a subset, skipping", zap.String("target", target))
			continue
		}
		subsets, err := sets.ExpandSet(ctx, target)
		if err != nil {
			return 0, err
		}
		lines = append(lines, subsets...)
	}
	if len(lines) == 0 {
		return 0, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) // #nosec G304 -- operator supplied output file.
	if err != nil {
		return 0, fmt.Errorf("open set file: %w", err)
	}
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("append set file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close set file: %w", err)
	}
	logger.Info("appended subsets to set file", zap.String("file", path), zap.Int("count", len(lines)))
	return len(lines), nil
}
