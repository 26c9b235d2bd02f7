package harvest

import "sync"

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID     string `json:"run_id"`
	Stamp     string `json:"stamp"`
	Target    string `json:"target,omitempty"`
	SetsDone  int    `json:"sets_done"`
	Queued    int    `json:"queued"`
	InFlight  int    `json:"in_flight"`
	Completed int    `json:"completed"`
	Requeues  int    `json:"requeues"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Stopping  bool   `json:"stopping"`
}

type progressTracker struct {
	mu sync.Mutex
	p  Progress
}

func (t *progressTracker) update(fn func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.p)
}

func (t *progressTracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

// Progress returns the current run progress. Counters accumulate across sets.
func (h *Harvester) Progress() Progress {
	return h.progress.snapshot()
}
