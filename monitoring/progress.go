package monitoring

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// A ProgressBar tracks how close the execution is to a limit.
type ProgressBar struct {
	sync.Mutex
	ID        string
	Name      string
	StartTime time.Time
	Total     uint64
	Finished  uint64

	// progress is polled from within the turn, when set.
	progress func() uint64
}

type progressBarRsp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
}

func newProgressBar(name string, total uint64) *ProgressBar {
	return &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}
}

// SetFinished sets the amount reached so far.
func (b *ProgressBar) SetFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished = min(amount, b.Total)
}

// IncrementFinished adds a certain amount to the amount reached so far.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished = min(b.Finished+amount, b.Total)
}

func (b *ProgressBar) snapshot() progressBarRsp {
	b.Lock()
	defer b.Unlock()

	return progressBarRsp{
		ID:        b.ID,
		Name:      b.Name,
		StartTime: b.StartTime,
		Total:     b.Total,
		Finished:  b.Finished,
	}
}

// TrackProgress creates a bar that follows progress. progress is called by
// the task holding the turn, at every capture.
func (m *Monitor) TrackProgress(
	name string,
	total uint64,
	progress func() uint64,
) *ProgressBar {
	bar := m.CreateProgressBar(name, total)
	bar.progress = progress

	return bar
}

func (m *Monitor) updateTracked() {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	for _, b := range m.progressBars {
		if b.progress != nil {
			b.SetFinished(b.progress())
		}
	}
}
