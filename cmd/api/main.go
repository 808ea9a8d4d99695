package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-engagement-orderflow/internal/app"
	"github.com/imrishuroy/go-engagement-orderflow/internal/config"
	"github.com/imrishuroy/go-engagement-orderflow/internal/handlers"
)

func setupRouter(a *app.App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(a.Logger.With("component", "http")))

	handlers.Register(r, a.HandlerConfig())

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer a.Close()

	r := setupRouter(a)

	// if RUN_LOCAL is "true", serve HTTP directly and run the sweep loop in-process.
	if cfg.RunLocal {
		go a.Scheduler.Start(ctx)
		a.Logger.Info("running local server", "addr", cfg.HTTPAddr)
		if err := r.Run(cfg.HTTPAddr); err != nil {
			a.Logger.Error("local server stopped", "error", err)
		}
		return
	}

	// lambda adapter; sweeps run in the worker function
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
