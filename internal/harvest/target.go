package harvest

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultSetPrefix is the namespace every valid target starts with.
const DefaultSetPrefix = "HINDAWI"

// TargetKind classifies a harvest target.
type TargetKind int

const (
	// KindInvalid is anything outside the configured namespace.
	KindInvalid TargetKind = iota
	// KindSet is a whole journal, e.g. HINDAWI.AA.
	KindSet
	// KindSubset is one volume of a journal, e.g. HINDAWI.AA:2019.
	KindSubset
)

func (k TargetKind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindSubset:
		return "subset"
	default:
		return "invalid"
	}
}

// Classify judges a target by its looks: it must start with prefix followed by
// a dot or nothing; a colon makes it a subset.
func Classify(target, prefix string) TargetKind {
	if target == "" {
		return KindInvalid
	}
	head, _, _ := strings.Cut(target, ".")
	if head != prefix {
		return KindInvalid
	}
	if strings.Contains(target, ":") {
		return KindSubset
	}
	return KindSet
}

// CheckTarget returns ErrInvalidTarget for a target outside the prefix
// namespace.
func CheckTarget(target, prefix string) error {
	if Classify(target, prefix) == KindInvalid {
		return fmt.Errorf("%q is not a %s set: %w", target, prefix, ErrInvalidTarget)
	}
	return nil
}

// JournalOf returns the set a target belongs to.
func JournalOf(target string) string {
	journal, _, _ := strings.Cut(target, ":")
	return journal
}

// SetFolderName names the per-run folder of a target.
func SetFolderName(target, stamp string) string {
	r := strings.NewReplacer(".", "_", ":", "_")
	return r.Replace(target) + "_" + stamp
}

// RecordFolderName names a record's folder after the third colon-separated
// part of its identifier (the DOI for this aggregator).
func RecordFolderName(identifier string) string {
	parts := strings.Split(identifier, ":")
	local := identifier
	if len(parts) >= 3 {
		local = parts[2]
	}
	return strings.NewReplacer("/", "_", ".", "_", ":", "_").Replace(local)
}

// LoadTargets expands arg into targets: an existing file yields one target per
// non-blank line, anything else is the target itself.
func LoadTargets(arg string) ([]string, error) {
	info, err := os.Stat(arg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return []string{arg}, nil
	case err != nil:
		return nil, fmt.Errorf("stat target %s: %w", arg, err)
	case info.IsDir():
		return []string{arg}, nil
	}
	return ReadLines(arg)
}

// ReadLines returns the trimmed, non-blank lines of path.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied input file.
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}
