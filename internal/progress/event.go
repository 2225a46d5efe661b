package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobLeased  Stage = "JOB_LEASED"
	StageCheckStart Stage = "CHECK_START"
	StageCheckDone  Stage = "CHECK_DONE"
	StageCheckError Stage = "CHECK_ERROR"
	StageJobDone    Stage = "JOB_DONE"
	StageJobError   Stage = "JOB_ERROR"
)

// Event captures a single milestone of a scan job.
type Event struct {
	// JobID is the scan job's identifier.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or check milestone occurred.
	Stage Stage
	// Check names the audit check for CHECK_* stages.
	Check string
	// URL is the scanned page.
	URL string
	// Bytes carries the report size on JOB_DONE.
	Bytes int64
	// Dur captures check or job latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobLeased, StageJobDone, StageJobError:
	case StageCheckStart, StageCheckDone, StageCheckError:
		if e.Check == "" {
			return fmt.Errorf("%s requires check", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone || e.Stage == StageJobError
}
