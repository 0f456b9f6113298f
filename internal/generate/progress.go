package generate

import "time"

// ProgressEstimator drives the synthetic progress shown while a task runs.
// The number reflects elapsed time only; a backend gives no completion signal.
type ProgressEstimator interface {
	// Interval between ticks. Zero or negative disables ticking.
	Interval() time.Duration
	// Next returns the progress after one more tick. It must not return
	// less than current.
	Next(current int) int
}

// StepEstimator adds Step every Every until Ceiling.
type StepEstimator struct {
	Every   time.Duration
	Step    int
	Ceiling int
}

// DefaultEstimator ticks +10 every 500ms and stalls at 90.
func DefaultEstimator() ProgressEstimator {
	return StepEstimator{Every: 500 * time.Millisecond, Step: 10, Ceiling: 90}
}

func (e StepEstimator) Interval() time.Duration { return e.Every }

func (e StepEstimator) Next(current int) int {
	if current >= e.Ceiling {
		return current
	}
	return min(current+e.Step, e.Ceiling)
}

// NoProgress keeps progress at 0 until the task finishes.
type NoProgress struct{}

func (NoProgress) Interval() time.Duration { return 0 }
func (NoProgress) Next(current int) int    { return current }
