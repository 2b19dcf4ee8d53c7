// internal/prefetch/types.go - Prefetch sweep types
package prefetch

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Sweep is a sequence of views whose tile images are loaded one after the
// other, typically zooming out from a view to the coarsest level
type Sweep struct {
	ID          string        `json:"id"`
	Steps       []Step        `json:"steps"`
	Status      Status        `json:"status"`
	Progress    *Progress     `json:"progress"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	StepTimeout time.Duration `json:"step_timeout"`
	Error       error         `json:"-"`
}

// Step is one view of a sweep, in target grid coordinates
type Step struct {
	Extent       orb.Bound `json:"extent"`
	CanvasWidth  int       `json:"canvas_width"`
	CanvasHeight int       `json:"canvas_height"`
}

// Status represents the current status of a sweep
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Progress tracks the progress of a sweep
type Progress struct {
	TotalSteps     int64     `json:"total_steps"`
	ProcessedSteps int64     `json:"processed_steps"`
	TilesRequested int64     `json:"tiles_requested"`
	StartTime      time.Time `json:"start_time"`
	Throughput     float64   `json:"throughput"`
}

// StepResult is the outcome of loading one step
type StepResult struct {
	Index    int           `json:"index"`
	Step     Step          `json:"step"`
	Level    int           `json:"level"`
	Tiles    int           `json:"tiles"`
	Cached   bool          `json:"cached"`
	Duration time.Duration `json:"duration"`
}

// ProgressReporter receives sweep progress updates
type ProgressReporter interface {
	ReportProgress(sweep *Sweep)
	ReportStepComplete(sweep *Sweep, result *StepResult)
	ReportSweepComplete(sweep *Sweep)
	ReportSweepFailed(sweep *Sweep, err error)
}

// NewSweep creates a pending sweep over steps
func NewSweep(id string, steps []Step) *Sweep {
	return &Sweep{
		ID:        id,
		Steps:     steps,
		Status:    StatusPending,
		Progress:  NewProgress(len(steps)),
		CreatedAt: time.Now(),
	}
}

// NewSweepID generates an identifier from the current time
func NewSweepID() string {
	return fmt.Sprintf("sweep_%d", time.Now().UnixNano())
}

// NewProgress creates a progress tracker for total steps
func NewProgress(total int) *Progress {
	return &Progress{
		TotalSteps: int64(total),
		StartTime:  time.Now(),
	}
}

// IsComplete returns true if the sweep has finished (successfully or with error)
func (s *Sweep) IsComplete() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusCanceled
}

// EstimateCompletion estimates when the sweep will complete based on current progress
func (p *Progress) EstimateCompletion() time.Time {
	if p.Throughput == 0 || p.ProcessedSteps == 0 {
		return time.Now().Add(time.Hour)
	}

	remaining := p.TotalSteps - p.ProcessedSteps
	if remaining <= 0 {
		return time.Now()
	}

	secondsRemaining := float64(remaining) / p.Throughput
	return time.Now().Add(time.Duration(secondsRemaining * float64(time.Second)))
}

// CalculateProgress calculates the completion percentage
func (p *Progress) CalculateProgress() float64 {
	if p.TotalSteps == 0 {
		return 0
	}
	return float64(p.ProcessedSteps) / float64(p.TotalSteps) * 100
}

// UpdateThroughput updates the step throughput based on elapsed time
func (p *Progress) UpdateThroughput() {
	elapsed := time.Since(p.StartTime)
	if elapsed.Seconds() > 0 && p.ProcessedSteps > 0 {
		p.Throughput = float64(p.ProcessedSteps) / elapsed.Seconds()
	}
}

// String returns a string representation of the sweep status
func (s Status) String() string {
	return string(s)
}
