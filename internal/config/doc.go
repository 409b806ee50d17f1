/*
Package config loads and validates the cloud-persistent-storage configuration.

Configuration is assembled from several sources, later sources overriding
earlier ones:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│   (CPS_*, optionally from a .env file)      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

Unknown YAML keys are rejected, so a misspelled setting fails loudly instead of
silently falling back to its default.

# Configuration Structure

	global:
	  log_level: INFO
	  log_format: text
	  metrics_file: /var/lib/node_exporter/textfile/cps.prom
	  run_timeout: 10m

	block_provider:
	  aws_ebs:
	    device: /dev/xvdh
	    size: 100
	    type: gp3
	    ebs_tags:
	      app: postgres
	      env: production
	    allow_create: true
	    delete_orphaned_volume: false
	    attach_timeout: 5m
	    poll_interval: 5s
	    max_consecutive_failures: 5

	file_system:
	  mkfs: -t ext4 -m 0

	mount:
	  target: /var/lib/postgresql
	  options: noatime

# Environment Variables

	CPS_LOG_LEVEL, CPS_LOG_FORMAT, CPS_LOG_FILE, CPS_METRICS_FILE, CPS_RUN_TIMEOUT
	CPS_REGION, CPS_ENDPOINT, CPS_DEVICE, CPS_VOLUME_SIZE, CPS_VOLUME_TYPE
	CPS_ALLOW_CREATE, CPS_DELETE_ORPHANED_VOLUME
	CPS_ATTACH_TIMEOUT, CPS_POLL_INTERVAL, CPS_MAX_CONSECUTIVE_FAILURES
	CPS_MAX_RETRIES, CPS_MOUNT_TARGET

AWS credentials follow the SDK's default chain unless access_key_id and
secret_access_key are set.

# Validation

Validate checks the combined result: ebs_tags must be non-empty and must not
use the reserved aws: prefix, size must be positive, type must be an EBS
volume type, poll_interval must not exceed attach_timeout and the mount target
must be absolute. Failures carry the CONFIG_VALIDATION code.
*/
package config
