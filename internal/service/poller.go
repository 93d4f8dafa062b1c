package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/model"
)

// ErrPollTimeout reports a job that never reached a terminal status before
// the polling deadline. Callers treat it like a failed job and refund.
var ErrPollTimeout = errors.New("job polling deadline exceeded")

// Poller drives one submitted media job to a terminal status. The interval
// starts at the configured base and doubles up to the ceiling, so a slow
// render costs a handful of requests instead of a constant drumbeat.
type Poller struct {
	media    client.MediaGenerator
	base     time.Duration
	max      time.Duration
	deadline time.Duration
}

// NewPoller creates a poller with the configured backoff schedule
func NewPoller(media client.MediaGenerator, cfg *config.PipelineConfig) *Poller {
	return &Poller{
		media:    media,
		base:     time.Duration(cfg.PollBaseSec) * time.Second,
		max:      time.Duration(cfg.PollMaxSec) * time.Second,
		deadline: time.Duration(cfg.PollDeadlineSec) * time.Second,
	}
}

// Await polls the job until it is terminal, the context is cancelled, or the
// deadline passes. Transient status-check failures are logged and retried;
// only the deadline turns them into an error.
func (p *Poller) Await(ctx context.Context, jobID string) (*client.JobState, error) {
	deadline := time.Now().Add(p.deadline)
	delay := p.base

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrPollTimeout
		}
		sleep := delay
		if sleep > remaining {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}

		state, err := p.media.GetJobStatus(ctx, jobID)
		if err != nil {
			log.Printf("[Poller] job %s status check failed: %v", jobID, err)
		} else if state.IsTerminal() {
			return state, nil
		}

		delay = p.nextDelay(delay, err != nil)
	}
}

// settleStatus maps a poll failure to the job status recorded on the board.
func settleStatus(err error) model.JobStatus {
	if errors.Is(err, ErrPollTimeout) {
		return model.JobStatusTimeout
	}
	return model.JobStatusFailed
}

// nextDelay doubles the poll interval, with an extra doubling after a
// transport error, capped at the ceiling.
func (p *Poller) nextDelay(delay time.Duration, transportErr bool) time.Duration {
	delay *= 2
	if transportErr {
		delay *= 2
	}
	if delay > p.max {
		delay = p.max
	}
	return delay
}
