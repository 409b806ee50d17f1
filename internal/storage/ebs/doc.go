/*
Package ebs wraps the AWS SDK v2 EC2 client for the volume operations used by
cloud-persistent-storage.

The Client exposes exactly the five EC2 calls the volume package needs:

	DescribeVolumes  discover candidate volumes by tag and state
	AttachVolume     attach a volume to an instance
	CreateVolume     provision a volume in the instance's availability zone
	CreateTags       tag a newly created volume
	DeleteVolume     remove a volume whose tagging failed

Every call is bounded by Config.RequestTimeout and reported to an optional
CallObserver, which the CLI forwards to Prometheus.

# Credentials

NewClient uses the SDK's default credential chain (environment, shared
config, instance role) unless static keys are configured. Endpoint points the
client at a compatible service such as LocalStack:

	cfg := ebs.NewDefaultConfig()
	cfg.Endpoint = "http://localhost:4566"
	client, err := ebs.NewClient(ctx, "us-east-1", cfg, logger)

# Retries

The SDK standard retryer handles throttling and transport faults for
DescribeVolumes and DeleteVolume, limited to Config.MaxRetries attempts.
AttachVolume, CreateVolume and CreateTags run with aws.NopRetryer and are sent
exactly once; a resent attach or create can act on the remote side twice.
Volume discovery adds its own retry loop in package volume.
*/
package ebs
