package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"genforge/engine"
	"genforge/internal/models"
	"genforge/internal/payload"
	"genforge/types/config"
)

func main() {
	opts := []config.EngineOption{
		config.WithWorkerTypes(
			models.WorkerTypeConfig{
				Type:          payload.TypeImageGeneration,
				MinWorkers:    2,
				MaxConcurrent: 8,
				MemoryLimitMB: 2048,
				CPUThreshold:  85,
				Timeout:       2 * time.Minute,
			},
			models.WorkerTypeConfig{
				Type:          payload.TypeVideoGeneration,
				MinWorkers:    1,
				MaxConcurrent: 3,
				MemoryLimitMB: 8192,
				CPUThreshold:  90,
				GPURequired:   true,
				Timeout:       15 * time.Minute,
			},
			models.WorkerTypeConfig{
				Type:          payload.TypeTextGeneration,
				MinWorkers:    2,
				MaxConcurrent: 10,
				MemoryLimitMB: 1024,
				CPUThreshold:  80,
				Timeout:       time.Minute,
			},
		),
		config.WithUserTierLimits(map[string]int{"free": 1, "pro": 5, "enterprise": 10}, 1),
		config.WithTypeLimits(map[string]int{payload.TypeVideoGeneration: 3}),
		config.WithRetryPolicy(3, 2*time.Second, 2*time.Minute),
	}

	if url := os.Getenv("GENFORGE_POSTGRES_URL"); url != "" {
		opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: url}))
	}
	if addr := os.Getenv("GENFORGE_REDIS_ADDR"); addr != "" {
		opts = append(opts, config.WithRedisConfig(config.RedisConfig{Address: addr}))
	}
	if amqp := os.Getenv("GENFORGE_AMQP_URL"); amqp != "" {
		opts = append(opts, config.WithRabbitMQConfig(config.RabbitMQConfig{URL: amqp}))
	}

	cfg, err := config.NewEngineConfig("local-dev", opts...)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	e, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("engine setup failed: %v", err)
	}

	e.RegisterProcessor(payload.TypeImageGeneration, renderImage)
	e.RegisterProcessor(payload.TypeVideoGeneration, renderVideo)
	e.RegisterProcessor(payload.TypeTextGeneration, generateText)

	ctx := context.Background()
	go submitDemoJobs(ctx, e)

	if err := e.RunUntilSignal(ctx); err != nil {
		log.Fatalf("engine exited: %v", err)
	}
}

func submitDemoJobs(ctx context.Context, e *engine.Engine) {
	time.Sleep(time.Second)

	img := json.RawMessage(`{"prompt":"a lighthouse at dusk","width":1024,"height":768,"samples":2}`)
	if id, err := e.SubmitJob(ctx, payload.TypeImageGeneration, img, &engine.SubmitOptions{
		Priority:    models.TierHigh,
		SubmittedBy: "demo-user",
		UserTier:    "pro",
	}); err != nil {
		log.Printf("submit failed: %v", err)
	} else {
		log.Printf("submitted image job %s", id)
	}

	txt := json.RawMessage(`{"prompt":"write a haiku about queues","maxTokens":64}`)
	if id, err := e.SubmitJob(ctx, payload.TypeTextGeneration, txt, &engine.SubmitOptions{
		SubmittedBy: "demo-user",
		UserTier:    "pro",
		DelayMs:     5000,
	}); err != nil {
		log.Printf("submit failed: %v", err)
	} else {
		log.Printf("submitted delayed text job %s", id)
	}

	// nightly batch render
	if id, err := e.SubmitJob(ctx, payload.TypeImageGeneration, img, &engine.SubmitOptions{
		CronExpression: "0 2 * * *",
		SubmittedBy:    "demo-user",
		UserTier:       "pro",
	}); err != nil {
		log.Printf("recurring registration failed: %v", err)
	} else {
		log.Printf("registered recurring render %s", id)
	}
}

func renderImage(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
	var p payload.ImageGeneration
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return "", err
	}
	for pct := 10; pct <= 100; pct += 30 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(100+rand.Intn(200)) * time.Millisecond):
		}
		progress(pct)
	}
	return fmt.Sprintf("rendered %dx%d image for %q", p.Width, p.Height, p.Prompt), nil
}

func renderVideo(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
	var p payload.VideoGeneration
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return "", err
	}
	progress(50)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Duration(p.DurationSec) * 100 * time.Millisecond):
	}
	progress(100)
	return fmt.Sprintf("rendered %ds video at %s", p.DurationSec, p.Resolution), nil
}

func generateText(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
	var p payload.TextGeneration
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return "", err
	}
	progress(100)
	return fmt.Sprintf("generated %d tokens", p.MaxTokens), nil
}
