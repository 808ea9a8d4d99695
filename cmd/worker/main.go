package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-engagement-orderflow/internal/app"
	"github.com/imrishuroy/go-engagement-orderflow/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer a.Close()

	h := &sweepHandler{sweeper: a.Scheduler, logger: a.Logger.With("component", "worker")}

	// If RUN_LOCAL=true, run a single sweep and exit.
	if cfg.RunLocal {
		if err := h.Handle(context.Background(), events.CloudWatchEvent{Source: "local"}); err != nil {
			a.Logger.Error("local sweep failed", "error", err)
		}
		return
	}

	lambda.Start(h.Handle)
}
