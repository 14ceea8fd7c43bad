package messaging

import (
	"context"
	"time"
)

// ProgressAdapter turns progress checkpoints into Progress messages on one
// channel. Publish errors are handed to OnError and never interrupt the job.
type ProgressAdapter struct {
	pub     Publisher
	jobID   string
	channel string
	OnError func(error)
}

func NewProgressAdapter(pub Publisher, channelPrefix, jobID string) *ProgressAdapter {
	return &ProgressAdapter{
		pub:     pub,
		jobID:   jobID,
		channel: ProgressChannel(channelPrefix, jobID),
	}
}

// ProgressChannel names the channel carrying one job's progress.
func ProgressChannel(prefix, jobID string) string {
	return prefix + jobID
}

func (a *ProgressAdapter) SetProgress(ctx context.Context, current, total int, description string) {
	msg := Progress{
		JobID:       a.jobID,
		Current:     current,
		Total:       total,
		Description: description,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := a.pub.Publish(ctx, a.channel, msg); err != nil && a.OnError != nil {
		a.OnError(err)
	}
}
