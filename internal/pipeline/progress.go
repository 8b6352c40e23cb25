package pipeline

import (
	"fmt"
	"math"
	"time"
)

// Progress is reported after every batch.
type Progress struct {
	List       string        `json:"list"`
	Batch      int           `json:"batch"`
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Generated  int           `json:"generated"`
	Failed     int           `json:"failed"`
	Percent    float64       `json:"percent"`
	Elapsed    time.Duration `json:"elapsed"`
	ETA        time.Duration `json:"eta"`
	ETAMinutes int           `json:"eta_minutes"`
}

// String renders a one-line progress report.
func (p Progress) String() string {
	return fmt.Sprintf("batch %d: %d/%d (%.0f%%) generated=%d failed=%d eta=%dm",
		p.Batch, p.Processed, p.Total, p.Percent, p.Generated, p.Failed, p.ETAMinutes)
}

// tracker holds the run-level counters behind Progress. Total is the pending
// count taken at run start unless requery mode replaces it per batch, so in
// snapshot mode Percent may pass 100 when leads are added mid-run.
type tracker struct {
	list  string
	total int
	start time.Time
	batch int
}

func newTracker(list string, total int, start time.Time) *tracker {
	return &tracker{list: list, total: total, start: start}
}

func (t *tracker) setTotal(n int) { t.total = n }

func (t *tracker) advance(s *RunSummary, now time.Time) Progress {
	t.batch++
	elapsed := now.Sub(t.start)
	eta := EstimateRemaining(elapsed, s.Processed, t.total)
	return Progress{
		List:       t.list,
		Batch:      t.batch,
		Processed:  s.Processed,
		Total:      t.total,
		Generated:  s.Generated,
		Failed:     s.Failed,
		Percent:    percent(s.Processed, t.total),
		Elapsed:    elapsed,
		ETA:        eta,
		ETAMinutes: int(math.Ceil(eta.Minutes())),
	}
}

// EstimateRemaining computes elapsed / processed * (total - processed),
// clamped at zero.
func EstimateRemaining(elapsed time.Duration, processed, total int) time.Duration {
	if processed <= 0 || total <= processed {
		return 0
	}
	return time.Duration(float64(elapsed) / float64(processed) * float64(total-processed))
}

func percent(processed, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(processed) / float64(total) * 100
}
