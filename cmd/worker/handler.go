package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-engagement-orderflow/internal/scheduler"
)

// Sweeper runs one reconciliation sweep.
type Sweeper interface {
	RunSweep(ctx context.Context) (scheduler.SweepReport, error)
}

// sweepHandler runs a sweep for each scheduled EventBridge invocation.
type sweepHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// Handle returns an error only when the sweep itself could not run, so the invocation is
// reported as failed. A sweep already running elsewhere is not a failure.
func (h *sweepHandler) Handle(ctx context.Context, ev events.CloudWatchEvent) error {
	report, err := h.sweeper.RunSweep(ctx)
	if errors.Is(err, scheduler.ErrSweepInProgress) {
		h.logger.Info("sweep skipped, already in progress", "event_id", ev.ID)
		return nil
	}
	if err != nil {
		h.logger.Error("sweep failed", "event_id", ev.ID, "error", err)
		return err
	}
	h.logger.Info("sweep finished",
		"event_id", ev.ID,
		"source", ev.Source,
		"scanned", report.Scanned,
		"selected", report.Selected,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration", report.Duration)
	return nil
}
