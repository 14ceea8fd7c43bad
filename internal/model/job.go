package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ProcessingStatus is the lifecycle of an archive job.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusInProgress ProcessingStatus = "in_progress"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	switch st := ProcessingStatus(s); st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown processing status %q", s)
	}
}

func (s ProcessingStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *ProcessingStatus) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	st, err := ParseProcessingStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// JobKind selects the ingestion path for an archive.
type JobKind string

const (
	JobKindClinical JobKind = "clinical"
	JobKindTraining JobKind = "training"
)

func ParseJobKind(s string) (JobKind, error) {
	switch k := JobKind(s); k {
	case JobKindClinical, JobKindTraining:
		return k, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", s)
	}
}

// ArchiveJob tracks one archive through the pipeline.
type ArchiveJob struct {
	Base
	SourcePath  string           `db:"source_path" json:"source_path"`
	Kind        JobKind          `db:"kind" json:"kind"`
	Status      ProcessingStatus `db:"processing_status" json:"processing_status"`
	CompletedAt *time.Time       `db:"date_processing_completed" json:"date_processing_completed,omitempty"`
	LogData     JSONMap          `db:"processing_log_data" json:"processing_log_data,omitempty"`
}
