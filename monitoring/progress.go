package monitoring

import (
	"sync"
	"time"

	"github.com/XinWenfei/netsim/sim"
)

// A ProgressBar tracks how much of a long-running task has finished.
type ProgressBar struct {
	mu sync.Mutex

	id         string
	name       string
	startTime  time.Time
	total      uint64
	finished   uint64
	inProgress uint64
}

// Progress is a snapshot of a progress bar.
type Progress struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
	Percent    float64   `json:"percent"`
	ElapsedSec float64   `json:"elapsed_sec"`
}

func newProgressBar(name string, total uint64) *ProgressBar {
	return &ProgressBar{
		id:        sim.GetIDGenerator().Generate(),
		name:      name,
		startTime: time.Now(),
		total:     total,
	}
}

// ID returns the unique ID of the bar.
func (b *ProgressBar) ID() string {
	return b.id
}

// IncrementInProgress adds to the number of started items.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inProgress += amount
}

// MoveInProgressToFinished marks started items as finished.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	amount = min(amount, b.inProgress)
	b.inProgress -= amount
	b.finished = min(b.finished+amount, b.total)
}

// SetFinished moves the bar forward to n finished items. The bar never moves
// back and never passes the total.
func (b *ProgressBar) SetFinished(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finished = max(b.finished, min(n, b.total))
}

// Progress returns a snapshot of the bar.
func (b *ProgressBar) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := Progress{
		ID:         b.id,
		Name:       b.name,
		StartTime:  b.startTime,
		Total:      b.total,
		Finished:   b.finished,
		InProgress: b.inProgress,
		ElapsedSec: time.Since(b.startTime).Seconds(),
	}

	if b.total > 0 {
		p.Percent = float64(b.finished) / float64(b.total) * 100
	}

	return p
}
