// Package main is the Lambda entry point for the rendition pipeline.
//
// The function is subscribed to ObjectCreated notifications on the upload
// bucket. For the first record of each notification it writes a resized
// rendition to the gallery bucket and a metadata record to DynamoDB.
package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/licorice/internal/lambdaboot"
	"github.com/fpang/licorice/internal/trigger"
)

const functionName = "licorice-lambda"

var coldStart = true

func main() {
	rt, err := lambdaboot.Bootstrap(context.Background(), functionName)
	if err != nil {
		log.Fatal().Err(err).Msg("Cold start failed")
	}
	h := &handler{runner: rt.Pipeline}
	lambda.StartWithOptions(h.handle, lambda.WithEnableSIGTERM(func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Trace flush failed")
		}
	}))
}

type handler struct {
	runner trigger.Runner
}

// handle returns the pipeline error so the platform records a failed
// invocation. Skipped objects are successes.
func (h *handler) handle(ctx context.Context, s3Event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", functionName).Msg("Cold start, first invocation")
	}
	log.Debug().Interface("event", s3Event).Msg("Reading options from event")

	ev, err := trigger.FromS3Event(s3Event)
	if err != nil {
		log.Error().Err(err).Msg("Cannot decode event")
		return fmt.Errorf("decode event: %w", err)
	}

	out, err := h.runner.Run(ctx, ev)
	if err != nil {
		return err
	}
	if out.Skipped {
		log.Debug().Str("reason", out.Reason).Str("key", ev.SourceKey).Msg("Nothing to do")
	}
	return nil
}
