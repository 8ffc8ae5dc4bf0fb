// Package retry wraps store calls in bounded exponential backoff. Only
// errors classified as transient are retried; everything else returns on
// the first attempt.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog/log"
)

// Defaults used when a Policy field is zero.
const (
	DefaultMaxTries        = 3
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 2 * time.Second
)

// throttlingCodes are AWS and S3-compatible error codes worth retrying.
var throttlingCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottledException":              true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"RequestThrottled":                       true,
	"SlowDown":                               true,
	"InternalError":                          true,
	"ServiceUnavailable":                     true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
}

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxTries == 0 {
		p.MaxTries = DefaultMaxTries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	return p
}

// Do runs op until it succeeds, returns a permanent error, exhausts
// MaxTries or ctx is done. name labels the retry log lines.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Msg("Transient store error, retrying")
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxTries),
	)
	return err
}

// IsTransient reports whether err is worth another attempt: AWS server
// faults and throttling, S3-compatible 5xx/SlowDown responses and network
// timeouts. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if throttlingCodes[apiErr.ErrorCode()] {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		return throttlingCodes[minioErr.Code] || minioErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
