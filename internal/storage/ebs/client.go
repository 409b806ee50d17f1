package ebs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// ec2API is the subset of *ec2.Client used for volume provisioning
type ec2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
}

// CallObserver receives every completed EC2 call; used to feed external metrics sinks.
type CallObserver func(operation string, duration time.Duration, err error)

// Client wraps the EC2 client with per-call timeouts, observation and logging.
// AttachVolume, CreateVolume and CreateTags are sent exactly once: the SDK
// retryer is replaced for those calls so a retry is always a caller decision.
type Client struct {
	api      ec2API
	config   *Config
	observer CallObserver
	logger   *slog.Logger
}

// NewClient creates a new EC2 client for the given region
func NewClient(ctx context.Context, region string, cfg *Config, logger *slog.Logger) (*Client, error) {
	if region == "" {
		return nil, errors.NewError(errors.ErrCodeClientInit, "region cannot be empty").
			WithComponent("ebs")
	}

	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	// Load AWS configuration
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeClientInit, "failed to load AWS config").
			WithComponent("ebs")
	}

	client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Debug("EC2 client created",
		"region", region,
		"endpoint", cfg.Endpoint,
		"static_credentials", cfg.HasStaticCredentials())

	return newClient(client, cfg, logger), nil
}

func newClient(api ec2API, cfg *Config, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	return &Client{
		api:    api,
		config: cfg,
		logger: logger,
	}
}

// SetObserver registers fn to be called after every EC2 call
func (c *Client) SetObserver(fn CallObserver) {
	c.observer = fn
}

// DescribeVolumes implements the EC2 DescribeVolumes call
func (c *Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	var out *ec2.DescribeVolumesOutput
	err := c.call(ctx, "DescribeVolumes", func(ctx context.Context) (err error) {
		out, err = c.api.DescribeVolumes(ctx, params, optFns...)
		return err
	})
	return out, err
}

// AttachVolume implements the EC2 AttachVolume call
func (c *Client) AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error) {
	var out *ec2.AttachVolumeOutput
	err := c.call(ctx, "AttachVolume", func(ctx context.Context) (err error) {
		out, err = c.api.AttachVolume(ctx, params, singleAttempt(optFns)...)
		return err
	})
	return out, err
}

// CreateVolume implements the EC2 CreateVolume call
func (c *Client) CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error) {
	var out *ec2.CreateVolumeOutput
	err := c.call(ctx, "CreateVolume", func(ctx context.Context) (err error) {
		out, err = c.api.CreateVolume(ctx, params, singleAttempt(optFns)...)
		return err
	})
	return out, err
}

// CreateTags implements the EC2 CreateTags call
func (c *Client) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	var out *ec2.CreateTagsOutput
	err := c.call(ctx, "CreateTags", func(ctx context.Context) (err error) {
		out, err = c.api.CreateTags(ctx, params, singleAttempt(optFns)...)
		return err
	})
	return out, err
}

// DeleteVolume implements the EC2 DeleteVolume call
func (c *Client) DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	var out *ec2.DeleteVolumeOutput
	err := c.call(ctx, "DeleteVolume", func(ctx context.Context) (err error) {
		out, err = c.api.DeleteVolume(ctx, params, optFns...)
		return err
	})
	return out, err
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	c.logger.Debug("executing "+operation)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if c.observer != nil {
		c.observer(operation, duration, err)
	}
	if err != nil {
		c.logger.Debug(operation+" failed", "duration", duration, "error", err)
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

// singleAttempt appends an option that disables SDK retries for one call
func singleAttempt(optFns []func(*ec2.Options)) []func(*ec2.Options) {
	out := make([]func(*ec2.Options), 0, len(optFns)+1)
	out = append(out, optFns...)
	return append(out, func(o *ec2.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}
