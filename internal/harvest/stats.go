package harvest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
)

// Statistics counts records per target, grouped by journal.
type Statistics struct {
	mu      sync.Mutex
	titles  map[string]string
	targets map[string][]string
	counts  map[string]map[string]int
}

// NewStatistics builds an empty aggregator.
func NewStatistics() *Statistics {
	return &Statistics{
		titles:  make(map[string]string),
		targets: make(map[string][]string),
		counts:  make(map[string]map[string]int),
	}
}

// Record sets the record count of target.
func (s *Statistics) Record(target string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	journal := JournalOf(target)
	if s.counts[journal] == nil {
		s.counts[journal] = make(map[string]int)
	}
	if _, ok := s.counts[journal][target]; !ok {
		s.targets[journal] = append(s.targets[journal], target)
	}
	s.counts[journal][target] = count
}

// SetTitle stores the display title of journal.
func (s *Statistics) SetTitle(journal, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[journal] = title
}

// HasTitle reports whether journal's title was looked up already.
func (s *Statistics) HasTitle(journal string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.titles[journal]
	return ok
}

// Count returns the recorded count of target.
func (s *Statistics) Count(target string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[JournalOf(target)][target]
	return n, ok
}

// Empty reports whether nothing was recorded.
func (s *Statistics) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts) == 0
}

// WriteCSV writes one block per journal, sorted by journal: a blank line, the
// title, the targets and their counts.
func (s *Statistics) WriteCSV(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	journals := make([]string, 0, len(s.counts))
	for j := range s.counts {
		journals = append(journals, j)
	}
	sort.Strings(journals)

	cw := csv.NewWriter(w)
	for _, j := range journals {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return fmt.Errorf("write statistics: %w", err)
		}
		targets := s.targets[j]
		counts := make([]string, len(targets))
		for i, t := range targets {
			counts[i] = strconv.Itoa(s.counts[j][t])
		}
		if err := cw.WriteAll([][]string{{s.titles[j]}, targets, counts}); err != nil {
			return fmt.Errorf("write statistics: %w", err)
		}
	}
	return nil
}

type missingEntry struct {
	URL   string
	Title string
}

type setMissing struct {
	set    string
	fields []string
	byName map[string][]missingEntry
}

// MissingMetadata collects articles lacking mandatory Dublin Core fields.
type MissingMetadata struct {
	mu   sync.Mutex
	sets []*setMissing
}

// NewMissingMetadata builds an empty report.
func NewMissingMetadata() *MissingMetadata {
	return &MissingMetadata{}
}

// Add records that the article at url in set lacks field.
func (m *MissingMetadata) Add(set, field, url, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sm *setMissing
	for _, s := range m.sets {
		if s.set == set {
			sm = s
			break
		}
	}
	if sm == nil {
		sm = &setMissing{set: set, byName: make(map[string][]missingEntry)}
		m.sets = append(m.sets, sm)
	}
	if _, ok := sm.byName[field]; !ok {
		sm.fields = append(sm.fields, field)
	}
	sm.byName[field] = append(sm.byName[field], missingEntry{URL: url, Title: title})
}

// Len returns the number of recorded cases.
func (m *MissingMetadata) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sets {
		for _, entries := range s.byName {
			n += len(entries)
		}
	}
	return n
}

// WriteTo writes the report for every set with missing metadata.
func (m *MissingMetadata) WriteTo(w io.Writer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cw := &countingWriter{w: w}
	for _, s := range m.sets {
		fmt.Fprintf(cw, "=== %s\n\n", s.set)
		for _, field := range s.fields {
			fmt.Fprintf(cw, "Dublin Core element dc:%s is missing for the following articles:\n", field)
			for _, e := range s.byName[field] {
				fmt.Fprintf(cw, "---\n\n%s\nTitle: %s\n\n", e.URL, e.Title)
			}
		}
	}
	return cw.n, cw.err
}

// Failures collects identifiers given up on, per set.
type Failures struct {
	mu   sync.Mutex
	sets []string
	ids  map[string][]string
}

// NewFailures builds an empty report.
func NewFailures() *Failures {
	return &Failures{ids: make(map[string][]string)}
}

// Add records a failed identifier of set.
func (f *Failures) Add(set, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[set]; !ok {
		f.sets = append(f.sets, set)
	}
	f.ids[set] = append(f.ids[set], id)
}

// Len returns the number of failed identifiers.
func (f *Failures) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ids := range f.ids {
		n += len(ids)
	}
	return n
}

// WriteTo writes each set followed by its quoted identifiers.
func (f *Failures) WriteTo(w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cw := &countingWriter{w: w}
	for _, set := range f.sets {
		fmt.Fprintf(cw, "%s\n", set)
		for _, id := range f.ids[set] {
			fmt.Fprintf(cw, "%q ", id)
		}
		fmt.Fprint(cw, "\n\n")
	}
	return cw.n, cw.err
}

// countingWriter remembers the first error so report writers can use Fprintf
// without checking every call.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
