package detector

import (
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// DefaultWindowSize bounds the performance history.
const DefaultWindowSize = 50

// History is the rolling window of recent samples feeding the detector.
type History struct {
	window *utils.Window[models.HealthSample]
}

// NewHistory creates a history holding at most size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &History{window: utils.NewWindow[models.HealthSample](size)}
}

// Append adds a sample, evicting the oldest when the window is full.
func (h *History) Append(sample models.HealthSample) {
	h.window.Push(sample)
}

// Samples returns the window contents, oldest first.
func (h *History) Samples() []models.HealthSample {
	return h.window.Snapshot()
}

// Len returns the number of samples held.
func (h *History) Len() int {
	return h.window.Len()
}

// Size returns the window capacity.
func (h *History) Size() int {
	return h.window.Cap()
}
