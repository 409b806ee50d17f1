package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/urfave/cli"

	"github.com/mfenniak/cloud-persistent-storage/internal/config"
	"github.com/mfenniak/cloud-persistent-storage/internal/filesystem"
	"github.com/mfenniak/cloud-persistent-storage/internal/metadata"
	"github.com/mfenniak/cloud-persistent-storage/internal/metrics"
	"github.com/mfenniak/cloud-persistent-storage/internal/storage/ebs"
	"github.com/mfenniak/cloud-persistent-storage/internal/volume"
	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
	"github.com/mfenniak/cloud-persistent-storage/pkg/utils"
)

var attachCommand = cli.Command{
	Name:  "attach",
	Usage: "find or create a tagged volume, attach it, then format and mount it",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "instance-id",
			Usage: "Attach to instance `ID` instead of the one reported by instance metadata",
		},
		cli.StringFlag{
			Name:  "zone",
			Usage: "Availability `ZONE` of the instance",
		},
		cli.StringFlag{
			Name:  "region",
			Usage: "AWS `REGION`, derived from the zone when omitted",
		},
	},
	Action: runAttach,
}

var checkConfigCommand = cli.Command{
	Name:  "check-config",
	Usage: "validate the configuration file and exit",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return exitError(err, nil)
		}
		fmt.Fprintf(c.App.Writer, "configuration ok: device %s, %d tag(s)\n",
			cfg.BlockProvider.AWSEBS.Device, len(cfg.BlockProvider.AWSEBS.Tags))
		return nil
	},
}

func loadConfig(c *cli.Context) (*config.Configuration, error) {
	if envFile := c.GlobalString("env-file"); envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}
	return config.Load(c.GlobalString("config"))
}

func runAttach(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return exitError(err, nil)
	}
	if c.GlobalBool("verbose") {
		cfg.Global.LogLevel = "DEBUG"
	}
	logger, closeLog, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	if err != nil {
		return exitError(errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to set up logging"), nil)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Global.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Global.RunTimeout)
		defer cancel()
	}

	collector, err := metrics.NewCollector(metrics.NewDefaultConfig())
	if err != nil {
		return exitError(err, logger)
	}

	overrides := metadata.Identity{
		InstanceID:       c.String("instance-id"),
		AvailabilityZone: c.String("zone"),
		Region:           c.String("region"),
	}
	runErr := attach(ctx, cfg, overrides, collector, logger)

	if err := collector.WriteToTextfile(cfg.Global.MetricsFile); err != nil {
		logger.Warn("failed to write metrics", "path", cfg.Global.MetricsFile, "error", err)
	}
	if runErr != nil {
		return exitError(runErr, logger)
	}
	return nil
}

func attach(ctx context.Context, cfg *config.Configuration, overrides metadata.Identity, collector *metrics.Collector, logger *slog.Logger) error {
	ebsCfg := &cfg.BlockProvider.AWSEBS

	identity, err := metadata.NewResolver(logger).Resolve(ctx, overrides)
	if err != nil {
		return err
	}
	region := ebsCfg.Region
	if region == "" {
		region = identity.Region
	}
	logger.Info("resolved instance identity",
		"instance_id", identity.InstanceID,
		"availability_zone", identity.AvailabilityZone,
		"region", region)

	client, err := ebs.NewClient(ctx, region, clientConfig(ebsCfg), logger)
	if err != nil {
		return err
	}
	client.SetObserver(collector.ObserveAPICall)

	orchestrator := volume.NewOrchestrator(client, orchestratorOptions(ebsCfg, collector), logger)
	volumeID, err := orchestrator.AcquireAndAttach(ctx, volumeSpec(ebsCfg), ebsCfg.Device, identity.InstanceID, identity.AvailabilityZone)
	if err != nil {
		return err
	}

	preparer := filesystem.NewPreparer(nil, nil, logger)
	preparer.SetObserver(collector.RecordOperation)
	result, err := preparer.Prepare(ctx, filesystem.Options{
		Device:       ebsCfg.Device,
		MkfsArgs:     cfg.MkfsArgs(),
		Target:       cfg.Mount.Target,
		MountOptions: cfg.Mount.Options,
	})
	if err != nil {
		var se *errors.StorageError
		if errors.As(err, &se) {
			se.WithContext(errors.ContextVolumeID, volumeID)
		}
		return err
	}

	logger.Info("volume ready",
		"volume_id", volumeID,
		"device", ebsCfg.Device,
		"formatted", result.Formatted,
		"mounted", result.Mounted)
	return nil
}

func clientConfig(c *config.EBSConfig) *ebs.Config {
	cfg := ebs.NewDefaultConfig()
	cfg.Region = c.Region
	cfg.Endpoint = c.Endpoint
	cfg.AccessKeyID = c.AccessKeyID
	cfg.SecretAccessKey = c.SecretAccessKey
	cfg.SessionToken = c.SessionToken
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	return cfg
}

func orchestratorOptions(c *config.EBSConfig, recorder volume.Recorder) volume.Options {
	opts := volume.DefaultOptions()
	opts.AllowCreate = c.AllowCreate
	opts.DeleteOrphanedVolume = c.DeleteOrphanedVolume
	opts.Poller = volume.PollerConfig{
		Interval:               c.PollInterval,
		Timeout:                c.AttachTimeout,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
	}
	if c.MaxRetries > 0 {
		opts.Retry.MaxAttempts = c.MaxRetries
	}
	opts.Recorder = recorder
	return opts
}

func volumeSpec(c *config.EBSConfig) volume.VolumeSpec {
	return volume.VolumeSpec{
		SizeGiB:    c.Size,
		VolumeType: types.VolumeType(c.VolumeType),
		Tags:       c.Tags,
	}
}
