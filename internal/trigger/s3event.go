// Package trigger converts platform notifications into pipeline events.
//
// Both entry points speak the S3 notification format: the Lambda receives
// it directly as events.S3Event, and the worker reads the same records
// from Kafka as published by MinIO bucket notifications.
package trigger

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/fpang/licorice/internal/pipeline"
)

var (
	// ErrNoRecords reports a notification without any record.
	ErrNoRecords = errors.New("notification has no records")
	// ErrMalformedEvent reports a record whose fields cannot be decoded.
	ErrMalformedEvent = errors.New("malformed event")
)

// DecodeComponent decodes an S3 notification field. Every '+' becomes a
// space first, then percent escapes are decoded; a '+' produced by
// "%2B" therefore survives. Malformed escapes and escapes that do not
// decode to UTF-8 are errors.
func DecodeComponent(s string) (string, error) {
	out, err := url.PathUnescape(strings.ReplaceAll(s, "+", " "))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !utf8.ValidString(out) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8 once decoded", ErrMalformedEvent, s)
	}
	return out, nil
}

// FromS3Event builds the IngestEvent for the first record of ev. Further
// records are logged and ignored.
func FromS3Event(ev events.S3Event) (pipeline.IngestEvent, error) {
	if len(ev.Records) == 0 {
		return pipeline.IngestEvent{}, ErrNoRecords
	}
	if n := len(ev.Records); n > 1 {
		log.Warn().Int("records", n).Msg("Notification carries several records, only the first is processed")
	}
	return FromS3Record(ev.Records[0])
}

// FromS3Record decodes a single notification record.
func FromS3Record(r events.S3EventRecord) (pipeline.IngestEvent, error) {
	key, err := DecodeComponent(r.S3.Object.Key)
	if err != nil {
		return pipeline.IngestEvent{}, fmt.Errorf("object key: %w", err)
	}
	actor, err := DecodeComponent(r.PrincipalID.PrincipalID)
	if err != nil {
		return pipeline.IngestEvent{}, fmt.Errorf("principal: %w", err)
	}
	if r.S3.Bucket.Name == "" || key == "" {
		return pipeline.IngestEvent{}, fmt.Errorf("%w: bucket and key are required", ErrMalformedEvent)
	}

	return pipeline.IngestEvent{
		SourceBucket: r.S3.Bucket.Name,
		SourceKey:    key,
		ActorID:      actor,
		EventTime:    r.EventTime,
	}, nil
}
