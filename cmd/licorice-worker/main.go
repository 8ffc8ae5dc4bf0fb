// Package main runs the rendition pipeline outside Lambda, fed by MinIO
// bucket notifications published to Kafka.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/licorice/internal/lambdaboot"
	"github.com/fpang/licorice/internal/trigger"
)

const processName = "licorice-worker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := lambdaboot.Bootstrap(ctx, processName)
	if err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}

	kc := rt.Config.Kafka
	reader := trigger.NewReader(trigger.ReaderConfig{
		Brokers: kc.Brokers,
		Topic:   kc.Topic,
		GroupID: kc.GroupID,
	})

	log.Info().
		Strs("brokers", kc.Brokers).
		Str("topic", kc.Topic).
		Str("groupId", kc.GroupID).
		Int("concurrency", kc.Concurrency).
		Msg("Worker started")

	runErr := trigger.NewConsumer(reader, rt.Pipeline, kc.Concurrency).Run(ctx)

	if err := reader.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Kafka reader")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Trace flush failed")
	}

	if runErr != nil {
		log.Fatal().Err(runErr).Msg("Worker stopped")
	}
	log.Info().Msg("Worker stopped")
}
