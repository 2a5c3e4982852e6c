package export

import (
	"fmt"
	"time"
)

// Status classifies the result of one exported item.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of a single item within a stage. Failures never
// abort the run; they are collected here so callers can detect partial
// backups without scraping console output.
type Outcome struct {
	Stage  string `json:"stage"`
	Item   string `json:"item"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// Report aggregates everything one export run produced.
type Report struct {
	BackupDir string        `json:"backup_dir"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Stopped and Restarted list container names in stop order. Restarted
	// is always a subset of Stopped.
	Stopped   []string `json:"stopped,omitempty"`
	Restarted []string `json:"restarted,omitempty"`

	Outcomes  []Outcome `json:"outcomes"`
	TotalSize int64     `json:"total_size"`

	// PrunedBackups are prior backup directories removed by retention.
	PrunedBackups []string `json:"pruned_backups,omitempty"`
}

func (r *Report) add(stage, item string, status Status, detail string, size int64) {
	r.Outcomes = append(r.Outcomes, Outcome{
		Stage:  stage,
		Item:   item,
		Status: status,
		Detail: detail,
		Size:   size,
	})
}

// Failed returns the outcomes that ended in failure.
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Skipped returns the outcomes that were skipped.
func (r *Report) Skipped() []Outcome {
	var skipped []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusSkipped {
			skipped = append(skipped, o)
		}
	}
	return skipped
}

// FormatSize renders a byte count the way the rest of the tool reports
// sizes.
func FormatSize(size int64) string {
	const mb = 1024 * 1024
	if size < mb {
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(size)/mb)
}
