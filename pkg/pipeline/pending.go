package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pendingWork = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "clanwatch_pipeline_pending_work",
	Help: "Requests, follow-up pages and change events not yet fully processed",
})

// workCounter counts outstanding units of work and signals when the count
// drops to zero. It satisfies the producer, reconcile and notify trackers.
type workCounter struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (w *workCounter) Add(delta int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.n += delta
	if w.n < 0 {
		panic("pipeline: negative pending work counter")
	}
	pendingWork.Set(float64(w.n))
	if w.n == 0 && w.idle != nil {
		close(w.idle)
		w.idle = nil
	}
}

func (w *workCounter) Done() {
	w.Add(-1)
}

// Idle returns a channel that is closed once no work is outstanding.
func (w *workCounter) Idle() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan struct{})
	if w.n == 0 {
		close(ch)
		return ch
	}
	if w.idle == nil {
		w.idle = ch
	}
	return w.idle
}

func (w *workCounter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}
