// Package lambdaboot builds the process runtime at cold start.
//
// Both entry points (the Lambda and the Kafka worker) need the same
// sequence: configuration, logging, AWS config, optional SSM overrides,
// tracing, the object store and catalog clients, and finally the
// pipeline. Bootstrap runs it once and logs a single startup event.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/licorice/internal/catalog"
	"github.com/fpang/licorice/internal/config"
	"github.com/fpang/licorice/internal/logging"
	"github.com/fpang/licorice/internal/objectstore"
	"github.com/fpang/licorice/internal/pipeline"
	"github.com/fpang/licorice/internal/retry"
	"github.com/fpang/licorice/internal/tracing"
)

// SSM parameter names read under LICORICE_SSM_PREFIX.
const (
	ParamTargetBucket = "target-bucket"
	ParamTable        = "table"
)

// SSMAPI is the subset of the SSM client used for overrides.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Runtime is everything an entry point needs after cold start.
type Runtime struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	// Shutdown flushes pending spans.
	Shutdown func(context.Context) error
}

// Bootstrap loads configuration and builds the pipeline for the named
// process.
func Bootstrap(ctx context.Context, name string) (*Runtime, error) {
	initStart := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.App.LogLevel, cfg.App.LogFormat)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", awsCfg.Region).Msg("AWS config loaded")

	startup := logging.NewStartupLogger(name).Environment(cfg.App.Environment)

	if prefix := cfg.App.SSMPrefix; prefix != "" {
		if err := ApplySSMOverrides(ctx, ssm.NewFromConfig(awsCfg), prefix, &cfg.Pipeline); err != nil {
			return nil, err
		}
		startup.SSMParam("targetBucket", paramPath(prefix, ParamTargetBucket)).
			SSMParam("table", paramPath(prefix, ParamTable))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
		Attributes:  map[string]string{"deployment.environment": cfg.App.Environment},
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	objects, err := NewObjectStore(awsCfg, cfg.Storage, cfg.Pipeline.Tagging)
	if err != nil {
		return nil, err
	}
	cat := catalog.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Pipeline.TableName)

	p, err := pipeline.New(pipeline.Config{
		TargetBucket: cfg.Pipeline.TargetBucket,
		Environment:  cfg.App.Environment,
		MaxDimension: cfg.Pipeline.MaxDimension,
		MaxPixels:    cfg.Pipeline.MaxMegapixels * 1_000_000,
		JPEGQuality:  cfg.Pipeline.JPEGQuality,
		Timeout:      cfg.Pipeline.InvocationTimeout,
		Retry: retry.Policy{
			MaxTries:        cfg.Retry.MaxTries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
	}, pipeline.Deps{
		Objects: objects,
		Catalog: cat,
	})
	if err != nil {
		return nil, err
	}

	startup.Bucket("target", cfg.Pipeline.TargetBucket).
		DynamoTable("catalog", cat.TableName()).
		Feature("tracing", cfg.Tracing.Endpoint != "").
		Feature("ssmOverrides", cfg.App.SSMPrefix != "").
		Config("storageProvider", cfg.Storage.Provider).
		Config("maxDimension", fmt.Sprint(cfg.Pipeline.MaxDimension)).
		Config("maxMegapixels", fmt.Sprint(cfg.Pipeline.MaxMegapixels)).
		Config("jpegQuality", fmt.Sprint(cfg.Pipeline.JPEGQuality)).
		Config("invocationTimeout", cfg.Pipeline.InvocationTimeout.String()).
		Config("retryMaxTries", fmt.Sprint(cfg.Retry.MaxTries)).
		InitDuration(time.Since(initStart)).
		Log()

	return &Runtime{Config: cfg, Pipeline: p, Shutdown: shutdown}, nil
}

// NewObjectStore returns the backend selected by sc.Provider. For S3 a
// non-empty endpoint switches to path-style addressing against it.
func NewObjectStore(awsCfg aws.Config, sc config.StorageConfig, tagging string) (objectstore.Store, error) {
	switch sc.Provider {
	case objectstore.ProviderS3, "":
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if sc.Endpoint != "" {
				o.BaseEndpoint = aws.String(sc.Endpoint)
				o.UsePathStyle = true
			}
		})
		return objectstore.NewS3(client, tagging), nil
	case objectstore.ProviderMinIO:
		return objectstore.NewMinIO(objectstore.Config{
			Provider:  sc.Provider,
			Endpoint:  sc.Endpoint,
			Region:    sc.Region,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
			UseSSL:    sc.UseSSL,
			Tagging:   tagging,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", sc.Provider)
	}
}

// ApplySSMOverrides replaces the target bucket and table name with the
// values stored under prefix. A missing parameter keeps the environment
// value.
func ApplySSMOverrides(ctx context.Context, client SSMAPI, prefix string, pc *config.PipelineConfig) error {
	overrides := []struct {
		param string
		dst   *string
	}{
		{ParamTargetBucket, &pc.TargetBucket},
		{ParamTable, &pc.TableName},
	}

	for _, o := range overrides {
		name := paramPath(prefix, o.param)
		start := time.Now()
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)})
		if err != nil {
			var notFound *ssmtypes.ParameterNotFound
			if errors.As(err, &notFound) {
				log.Warn().Str("param", name).Msg("SSM parameter not found, keeping environment value")
				continue
			}
			return fmt.Errorf("read SSM parameter %s: %w", name, err)
		}
		if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
			continue
		}
		*o.dst = aws.ToString(out.Parameter.Value)
		log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("SSM override loaded")
	}
	return nil
}

func paramPath(prefix, name string) string {
	if prefix != "" && prefix[len(prefix)-1] == '/' {
		return prefix + name
	}
	return prefix + "/" + name
}
