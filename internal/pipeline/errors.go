package pipeline

import "fmt"

// NoSlidesError indicates a source yielded nothing to process.
type NoSlidesError struct {
	Source string
}

func (e *NoSlidesError) Error() string {
	return fmt.Sprintf("pipeline: no slides found in %s", e.Source)
}

// JobFailedError indicates a run completed zero units. Partial progress is
// tolerated; total failure is not.
type JobFailedError struct {
	JobID       string
	FailedUnits int
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("pipeline: job %s produced no cards (%d units failed)", e.JobID, e.FailedUnits)
}
