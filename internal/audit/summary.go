package audit

import (
	"encoding/json"
	"fmt"
)

// Normalized returns a copy whose list fields are non-nil so they encode
// as [] instead of null.
func (s Summary) Normalized() Summary {
	if s.TechStack == nil {
		s.TechStack = []string{}
	}
	if s.Seo.H1Tags.Tags == nil {
		s.Seo.H1Tags.Tags = []string{}
	}
	if s.BrokenLinks.Links == nil {
		s.BrokenLinks.Links = []BrokenLink{}
	}
	return s
}

// EncodeResult serializes the persisted summary field for a terminal job.
// Done jobs store the Summary, failed jobs store the Failure record.
func EncodeResult(status JobStatus, summary *Summary, failure *Failure) ([]byte, error) {
	switch status {
	case JobStatusDone:
		if summary == nil {
			return nil, fmt.Errorf("done job requires a summary")
		}
		data, err := json.Marshal(summary.Normalized())
		if err != nil {
			return nil, fmt.Errorf("marshal summary: %w", err)
		}
		return data, nil
	case JobStatusFailed:
		if failure == nil {
			return nil, fmt.Errorf("failed job requires an error record")
		}
		data, err := json.Marshal(failure)
		if err != nil {
			return nil, fmt.Errorf("marshal failure: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("status %q has no persisted summary", status)
	}
}

// DecodeResult is the inverse of EncodeResult. Empty or null input yields
// no summary and no failure.
func DecodeResult(status JobStatus, raw []byte) (*Summary, *Failure, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}
	switch status {
	case JobStatusDone:
		var s Summary
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, nil, fmt.Errorf("decode summary: %w", err)
		}
		return &s, nil, nil
	case JobStatusFailed:
		var f Failure
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, nil, fmt.Errorf("decode failure: %w", err)
		}
		return nil, &f, nil
	default:
		return nil, nil, nil
	}
}
