package worker

import (
	"context"

	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

// ProgressSink receives coarse progress checkpoints for one archive.
// Implementations must not block for long; the orchestrator calls them
// inline between files.
type ProgressSink interface {
	SetProgress(ctx context.Context, current, total int, description string)
}

// NopSink drops every update.
type NopSink struct{}

func (NopSink) SetProgress(context.Context, int, int, string) {}

// LogSink writes each checkpoint as a structured log line.
type LogSink struct {
	Log *logger.Logger
}

func (s LogSink) SetProgress(_ context.Context, current, total int, description string) {
	if s.Log == nil {
		return
	}
	s.Log.Info(description, "progress", current, "total", total)
}

// MultiSink fans updates out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) SetProgress(ctx context.Context, current, total int, description string) {
	for _, s := range m {
		if s != nil {
			s.SetProgress(ctx, current, total, description)
		}
	}
}

func sinkOrNop(s ProgressSink) ProgressSink {
	if s == nil {
		return NopSink{}
	}
	return s
}
